// Package geofence tests whether coordinates fall inside a fixed boundary
// polygon.
//
// Containment uses the even-odd ray casting rule with latitude as the y axis
// and longitude as the x axis. An edge is crossed when exactly one of its
// endpoints lies strictly above the test latitude, so points lying exactly on
// a bottom or left edge count as inside while points on a top or right edge
// count as outside. Vertices and edges are not special-cased.
package geofence

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrInvalidPolygon is returned when a boundary ring cannot enclose an area.
var ErrInvalidPolygon = errors.New("geofence: polygon needs at least 3 distinct vertices")

// Point is a vertex of the boundary ring.
type Point struct {
	Lat float64
	Lng float64
}

// Bounds is the axis-aligned rectangle enclosing a polygon.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Clamp moves a coordinate onto the nearest point of the rectangle.
func (b Bounds) Clamp(lat, lng float64) (float64, float64) {
	return math.Max(b.MinLat, math.Min(b.MaxLat, lat)), math.Max(b.MinLng, math.Min(b.MaxLng, lng))
}

// Contains reports whether the coordinate lies inside the rectangle, edges included.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Validator holds an immutable boundary ring.
type Validator struct {
	ring   []Point
	bounds Bounds
}

// New builds a Validator from an ordered ring. A trailing vertex equal to the
// first one is accepted and dropped.
func New(ring []Point) (*Validator, error) {
	pts := make([]Point, len(ring))
	copy(pts, ring)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}

	distinct := map[Point]struct{}{}
	for _, p := range pts {
		if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
			return nil, fmt.Errorf("%w: NaN vertex", ErrInvalidPolygon)
		}
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, ErrInvalidPolygon
	}

	b := Bounds{MinLat: pts[0].Lat, MaxLat: pts[0].Lat, MinLng: pts[0].Lng, MaxLng: pts[0].Lng}
	for _, p := range pts[1:] {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
	}
	return &Validator{ring: pts, bounds: b}, nil
}

// MustNew is like New but panics on an invalid ring. Use for compiled-in boundaries.
func MustNew(ring []Point) *Validator {
	v, err := New(ring)
	if err != nil {
		panic(err)
	}
	return v
}

// Contains reports whether (lat, lng) lies inside the boundary.
func (v *Validator) Contains(lat, lng float64) bool {
	if !v.bounds.Contains(lat, lng) {
		return false
	}
	inside := false
	for i, j := 0, len(v.ring)-1; i < len(v.ring); j, i = i, i+1 {
		pi, pj := v.ring[i], v.ring[j]
		if (pi.Lat > lat) != (pj.Lat > lat) {
			crossLng := pi.Lng + (lat-pi.Lat)*(pj.Lng-pi.Lng)/(pj.Lat-pi.Lat)
			if lng < crossLng {
				inside = !inside
			}
		}
	}
	return inside
}

// Bounds returns the rectangle enclosing the ring.
func (v *Validator) Bounds() Bounds {
	return v.bounds
}

// Ring returns a copy of the boundary vertices.
func (v *Validator) Ring() []Point {
	out := make([]Point, len(v.ring))
	copy(out, v.ring)
	return out
}

// Near offsets p by up to spread/2 degrees on each axis. p itself is returned
// when the offset point falls outside the boundary.
func (v *Validator) Near(rng *rand.Rand, p Point, spread float64) Point {
	lat := p.Lat + (rng.Float64()-0.5)*spread
	lng := p.Lng + (rng.Float64()-0.5)*spread
	if !v.Contains(lat, lng) {
		return p
	}
	return Point{Lat: lat, Lng: lng}
}
