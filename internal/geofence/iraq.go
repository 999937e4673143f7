package geofence

// iraqRing is a simplified outline of the Iraqi national border, clockwise
// from the Syria/Turkey tripoint.
var iraqRing = []Point{
	{37.11, 42.36}, {37.32, 42.80}, {37.38, 43.60}, {37.23, 44.28}, {37.14, 44.79},
	{36.70, 45.05}, {36.30, 45.30}, {35.95, 45.60}, {35.80, 46.05}, {35.50, 46.15},
	{35.10, 46.15}, {34.80, 45.75}, {34.30, 45.60}, {33.90, 45.80}, {33.45, 46.20},
	{32.95, 46.95}, {32.45, 47.45}, {31.90, 47.70}, {31.00, 47.68}, {30.98, 48.03},
	{30.45, 48.05}, {29.93, 48.60}, {29.95, 48.10}, {30.08, 47.95}, {30.08, 47.20},
	{29.10, 46.55}, {29.06, 44.72}, {31.00, 42.10}, {32.00, 40.40}, {32.23, 39.30},
	{32.50, 38.95}, {33.37, 38.79}, {34.42, 41.00}, {35.60, 41.25}, {36.60, 41.40},
}

// Baghdad is the map centre and the default position for newly approved vehicles.
var Baghdad = Point{Lat: 33.3152, Lng: 44.3661}

// City is a named place vehicles are placed around.
type City struct {
	Name string
	Point
}

// Cities are the places new vehicles without a position are placed near.
var Cities = []City{
	{"Baghdad", Baghdad},
	{"Erbil", Point{Lat: 36.1911, Lng: 44.0094}},
	{"Sulaymaniyah", Point{Lat: 35.5492, Lng: 45.4394}},
	{"Basra", Point{Lat: 30.5085, Lng: 47.7804}},
	{"Mosul", Point{Lat: 36.3350, Lng: 43.1189}},
}

var iraq = MustNew(iraqRing)

// Iraq returns the validator for the national boundary.
func Iraq() *Validator {
	return iraq
}
