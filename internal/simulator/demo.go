package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/db"
	"github.com/ukydev/fleet-presence/internal/geofence"
	"github.com/ukydev/fleet-presence/internal/models"
)

// DemoPassword is the login password of every seeded demo driver.
const DemoPassword = "demo123"

// MaxActivated is the most drivers ActivateDemo brings online at once.
const MaxActivated = 5

// Cities used to place demo drivers that have no recorded position.
var Cities = []geofence.Point{
	geofence.Cities[0].Point, // Baghdad
	geofence.Cities[1].Point, // Erbil
	geofence.Cities[2].Point, // Sulaymaniyah
	geofence.Cities[3].Point, // Basra
}

type demoDriver struct {
	name, email, phone, license, plate string
	vehicleType                        models.TypeID
	routeFrom, routeTo, taxiNumber     string
	lat, lng                           float64
	governorate                        string
	online                             bool
}

var demoDrivers = []demoDriver{
	{"Ahmed Al-Baghdadi", "ahmed.baghdadi@email.com", "07901234567", "BG001234", "بغداد 1234", models.TypeTaxi, "", "", "BG-001", 33.3152, 44.3661, "Baghdad", true},
	{"Fatima Al-Kadhimi", "fatima.kadhimi@email.com", "07701234568", "BG001235", "بغداد 5678", models.TypeMinibus, "", "", "", 33.2804, 44.4016, "Baghdad", true},
	{"Omar Hassan", "omar.hassan@email.com", "07501234569", "BG001236", "بغداد 9012", models.TypeBus, "Tahrir Square", "Baghdad Airport", "", 33.3406, 44.4009, "Baghdad", true},
	{"Sara Al-Mansouri", "sara.mansouri@email.com", "07801234570", "BG001237", "بغداد 3456", models.TypeVan, "", "", "", 33.2500, 44.4000, "Baghdad", false},
	{"Ali Al-Sadr", "ali.sadr@email.com", "07601234571", "BG001238", "بغداد 7890", models.TypeTukTuk, "", "", "", 33.3700, 44.3400, "Baghdad", true},
	{"Hassan Al-Basri", "hassan.basri@email.com", "07301234572", "BS002001", "البصرة 1111", models.TypeTaxi, "", "", "BS-001", 30.5085, 47.7804, "Basra", true},
	{"Layla Al-Fayha", "layla.fayha@email.com", "07201234573", "BS002002", "البصرة 2222", models.TypeMinibus, "", "", "", 30.4800, 47.8200, "Basra", true},
	{"Qasim Al-Shatt", "qasim.shatt@email.com", "07101234574", "BS002003", "البصرة 3333", models.TypeBus, "Basra Center", "Umm Qasr Port", "", 30.5300, 47.7500, "Basra", true},
	{"Karwan Abdullah", "karwan.abdullah@email.com", "07501234575", "ER003001", "أربيل 4444", models.TypeTaxi, "", "", "ER-001", 36.1911, 44.0094, "Erbil", true},
	{"Shilan Majeed", "shilan.majeed@email.com", "07401234576", "ER003002", "أربيل 5555", models.TypeVan, "", "", "", 36.2200, 43.9800, "Erbil", false},
	{"Hiwa Saleh", "hiwa.saleh@email.com", "07701234577", "SU004001", "السليمانية 6666", models.TypeTaxi, "", "", "SU-001", 35.5492, 45.4394, "Sulaymaniyah", true},
	{"Dilan Ahmad", "dilan.ahmad@email.com", "07601234578", "SU004002", "السليمانية 7777", models.TypeMinibus, "", "", "", 35.5600, 45.4200, "Sulaymaniyah", true},
	{"Yusuf Al-Mosuli", "yusuf.mosuli@email.com", "07301234579", "MO005001", "الموصل 8888", models.TypeTaxi, "", "", "MO-001", 36.3350, 43.1189, "Mosul", true},
	{"Maryam Al-Hadba", "maryam.hadba@email.com", "07201234580", "MO005002", "الموصل 9999", models.TypeVan, "", "", "", 36.3100, 43.1400, "Mosul", false},
	{"Haider Al-Najafi", "haider.najafi@email.com", "07801234581", "NJ006001", "النجف 0001", models.TypeTaxi, "", "", "NJ-001", 32.0086, 44.3320, "Najaf", true},
	{"Zahra Al-Kufa", "zahra.kufa@email.com", "07701234582", "NJ006002", "النجف 0002", models.TypeBus, "Najaf Shrine", "Kufa Mosque", "", 32.0300, 44.3100, "Najaf", true},
	{"Hussein Al-Karbalaei", "hussein.karbalaei@email.com", "07601234583", "KA007001", "كربلاء 0003", models.TypeTaxi, "", "", "KA-001", 32.6100, 44.0244, "Karbala", true},
	{"Sumaya Al-Husseini", "sumaya.husseini@email.com", "07501234584", "KA007002", "كربلاء 0004", models.TypeMinibus, "", "", "", 32.5900, 44.0500, "Karbala", true},
	{"Noor Al-Kirkuki", "noor.kirkuki@email.com", "07401234585", "KI008001", "كركوك 0005", models.TypeTaxi, "", "", "KI-001", 35.4681, 44.3922, "Kirkuk", true},
	{"Salam Al-Diyali", "salam.diyali@email.com", "07301234586", "DI009001", "ديالى 0006", models.TypeVan, "", "", "", 33.7498, 44.6198, "Diyala", false},
	{"Khalil Al-Anbari", "khalil.anbari@email.com", "07201234587", "AN010001", "الأنبار 0007", models.TypeTukTuk, "", "", "", 33.4206, 43.2889, "Anbar", true},
	{"Amina Al-Babili", "amina.babili@email.com", "07101234588", "BA011001", "بابل 0008", models.TypeTaxi, "", "", "BA-001", 32.5426, 44.4205, "Babylon", true},
	{"Mustafa Al-Adhamiya", "mustafa.adhamiya@email.com", "07901234589", "BG001239", "بغداد 0009", models.TypeTaxi, "", "", "BG-002", 33.3800, 44.3800, "Baghdad", true},
	{"Rania Al-Karkh", "rania.karkh@email.com", "07801234590", "BG001240", "بغداد 0010", models.TypeMinibus, "", "", "", 33.2900, 44.3500, "Baghdad", true},
	{"Yassin Al-Rusafa", "yassin.rusafa@email.com", "07701234591", "BG001241", "بغداد 0011", models.TypeVan, "", "", "", 33.3400, 44.4200, "Baghdad", false},
}

// DemoFleet returns up to size approved demo vehicles spread across the
// Iraqi governorates. passwordHash is stored on every vehicle.
func DemoFleet(size int, passwordHash string, now time.Time) []models.Vehicle {
	if size <= 0 || size > len(demoDrivers) {
		size = len(demoDrivers)
	}
	fleet := make([]models.Vehicle, 0, size)
	for i, d := range demoDrivers[:size] {
		fleet = append(fleet, models.Vehicle{
			ID:            fmt.Sprintf("driver_%03d", i+1),
			Name:          d.name,
			Email:         d.email,
			Phone:         d.phone,
			LicenseNumber: d.license,
			Plate:         d.plate,
			VehicleType:   d.vehicleType,
			RouteFrom:     d.routeFrom,
			RouteTo:       d.routeTo,
			TaxiNumber:    d.taxiNumber,
			PasswordHash:  passwordHash,
			Governorate:   d.governorate,
			Location:      &models.Location{Lat: d.lat, Lng: d.lng, Timestamp: now},
			Approved:      true,
			Online:        d.online,
			RegisteredAt:  now.Add(-time.Duration(30-i%30) * 24 * time.Hour),
			LastSeen:      now,
		})
	}
	return fleet
}

// Seed stores the demo fleet, skipping vehicles whose email is already
// registered. It returns the number of vehicles added.
func Seed(ctx context.Context, store db.VehicleStore, fleet []models.Vehicle) (int, error) {
	added := 0
	for _, v := range fleet {
		if _, err := store.FindByEmail(ctx, v.Email); err == nil {
			continue
		} else if !errors.Is(err, models.ErrNotFound) {
			return added, err
		}
		if err := store.Upsert(ctx, v); err != nil {
			return added, err
		}
		added++
	}
	log.WithFields(log.Fields{"added": added, "fleet_size": len(fleet)}).Info("Seeded demo fleet")
	return added, nil
}

// ActivateDemo brings up to MaxActivated approved offline vehicles online.
// A vehicle without a position inside the geofence is placed near a random
// city first. It returns the ids brought online.
func (s *Simulator) ActivateDemo(ctx context.Context) ([]string, error) {
	vehicles, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}

	var activated []string
	for _, v := range vehicles {
		if len(activated) >= MaxActivated {
			break
		}
		if !v.Approved || v.Online {
			continue
		}
		_, err := s.store.Update(ctx, v.ID, func(cur *models.Vehicle) error {
			if !cur.Approved || cur.Online {
				return errIneligible
			}
			now := s.now()
			if !cur.HasLocation() || !s.fence.Contains(cur.Location.Lat, cur.Location.Lng) {
				cur.Location = s.nearCity(now)
			}
			cur.Online = true
			cur.OfflineReason = ""
			cur.LastSeen = now
			return nil
		})
		if errors.Is(err, errIneligible) || errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return activated, err
		}
		activated = append(activated, v.ID)
	}

	log.WithField("activated", len(activated)).Info("Demo drivers set online")
	return activated, nil
}

// nearCity returns a position within ±0.025 degrees of a random city, or the
// city itself when the jittered point falls outside the geofence.
func (s *Simulator) nearCity(now time.Time) *models.Location {
	s.mu.Lock()
	city := Cities[s.rng.IntN(len(Cities))]
	p := s.fence.Near(s.rng, city, 0.05)
	s.mu.Unlock()
	return &models.Location{Lat: p.Lat, Lng: p.Lng, Timestamp: now}
}
