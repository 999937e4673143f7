package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/geofence"
	"github.com/ukydev/fleet-presence/internal/location"
	"github.com/ukydev/fleet-presence/internal/models"
	"github.com/ukydev/fleet-presence/internal/mqttutil"
	"github.com/ukydev/fleet-presence/internal/simulator"
)

var fence = geofence.Iraq()

func jitterLocation(base geofence.Point, meters float64) geofence.Point {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	for i := 0; i < 10; i++ {
		dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
		dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
		p := geofence.Point{Lat: base.Lat + dLat, Lng: base.Lng + dLon}
		if fence.Contains(p.Lat, p.Lng) {
			return p
		}
	}
	return base
}

// settings are read from the environment.
type settings struct {
	APIURL     string
	AdminToken string
	FleetSize  int
	Interval   time.Duration
	MQTTBroker string
}

func loadSettings() settings {
	s := settings{
		APIURL:     "http://localhost:8080/api",
		AdminToken: os.Getenv("SIM_ADMIN_TOKEN"),
		FleetSize:  10,
		Interval:   15 * time.Second,
		MQTTBroker: os.Getenv("MQTT_BROKER"),
	}
	if val := os.Getenv("FLEET_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			s.FleetSize = n
		}
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		s.APIURL = v
	}
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			s.Interval = time.Duration(n) * time.Second
		}
	}
	return s
}

// apiClient talks to the fleet presence HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// post sends body as JSON and decodes a JSON answer into out when out is
// not nil. It returns the status code.
func (c *apiClient) post(path, token string, body, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// registerDriver signs the demo driver up. An already registered email is
// not an error. It returns the new vehicle, or nil when it already existed.
func (c *apiClient) registerDriver(v models.Vehicle) (*models.Vehicle, error) {
	reg := map[string]interface{}{
		"name":           v.Name,
		"email":          v.Email,
		"phone":          v.Phone,
		"license_number": v.LicenseNumber,
		"plate":          v.Plate,
		"vehicle_type":   v.VehicleType,
		"route_from":     v.RouteFrom,
		"route_to":       v.RouteTo,
		"taxi_number":    v.TaxiNumber,
		"governorate":    v.Governorate,
		"password":       simulator.DemoPassword,
	}
	if v.Location != nil {
		reg["location"] = map[string]float64{"lat": v.Location.Lat, "lng": v.Location.Lng}
	}

	var created models.Vehicle
	status, err := c.post("/drivers/register", "", reg, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to register driver: %w", err)
	}
	switch status {
	case http.StatusCreated:
		log.WithFields(log.Fields{
			"vehicle_id":   created.ID,
			"vehicle_type": created.VehicleType,
			"approved":     created.Approved,
		}).Info("Registered driver")
		return &created, nil
	case http.StatusConflict:
		return nil, nil
	default:
		return nil, fmt.Errorf("driver registration failed with status: %d", status)
	}
}

func (c *apiClient) approve(adminToken, vehicleID string) error {
	status, err := c.post("/admin/drivers/"+vehicleID+"/approve", adminToken, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("approval failed with status: %d", status)
	}
	return nil
}

func (c *apiClient) login(email string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	status, err := c.post("/auth/driver/login", "", models.LoginRequest{Email: email, Password: simulator.DemoPassword}, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("login failed with status: %d", status)
	}
	if resp.Vehicle == nil {
		return nil, fmt.Errorf("login response without vehicle")
	}
	return &resp, nil
}

// goOnline brings the driver online. A nil position asks the server to read
// the device position.
func (c *apiClient) goOnline(s *DriverState, pos *geofence.Point) error {
	var body interface{}
	if pos != nil {
		body = map[string]float64{"lat": pos.Lat, "lng": pos.Lng}
	}
	status, err := c.post("/drivers/"+s.VehicleID+"/online", s.Token, body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("go online failed with status: %d", status)
	}
	return nil
}

func (c *apiClient) sendLocation(s *DriverState) error {
	status, err := c.post("/drivers/"+s.VehicleID+"/location", s.Token,
		map[string]float64{"lat": s.Position.Lat, "lng": s.Position.Lng}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("location update failed with status: %d", status)
	}
	return nil
}

// --- Movement ---

// DriverState is one simulated driver device.
type DriverState struct {
	VehicleID string
	Token     string
	Type      models.TypeID
	Position  geofence.Point
	Target    geofence.Point
	SpeedKmh  float64
}

func haversineKm(a, b geofence.Point) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return R * c
}

func lerp(a, b geofence.Point, t float64) geofence.Point {
	return geofence.Point{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

func planNewTarget(s *DriverState) {
	for i := 0; i < 10; i++ {
		cand := simulator.Cities[rand.Intn(len(simulator.Cities))]
		if haversineKm(s.Position, cand) > 20 {
			s.Target = jitterLocation(cand, 2000)
			return
		}
	}
	s.Target = jitterLocation(s.Position, 5000)
}

// stepTowardTarget moves the driver along a straight line at its speed. A
// step that would leave the geofence is dropped and a new target planned.
func stepTowardTarget(s *DriverState, tickSec float64) {
	dist := haversineKm(s.Position, s.Target)
	if dist < 0.05 {
		planNewTarget(s)
		return
	}
	t := s.SpeedKmh * (tickSec / 3600.0) / dist
	if t > 1 {
		t = 1
	}
	next := lerp(s.Position, s.Target, t)
	if !fence.Contains(next.Lat, next.Lng) {
		planNewTarget(s)
		return
	}
	s.Position = next
}

// publisher reports device positions over MQTT.
type publisher struct {
	client mqtt.Client
}

func (p *publisher) report(s *DriverState) error {
	// retained so a server subscribing later gets the current position
	return mqttutil.PublishJSON(p.client, location.DeviceTopic(s.VehicleID), 1, true, location.Report{
		Lat:       s.Position.Lat,
		Lng:       s.Position.Lng,
		Timestamp: time.Now(),
	})
}

func simulateDriver(ctx context.Context, api *apiClient, pub *publisher, s *DriverState, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		// small speed noise
		s.SpeedKmh += (rand.Float64()*2 - 1) * 1.5
		if s.SpeedKmh < 15 {
			s.SpeedKmh = 15
		}
		if s.SpeedKmh > 70 {
			s.SpeedKmh = 70
		}
		stepTowardTarget(s, interval.Seconds())

		var err error
		if pub != nil {
			err = pub.report(s)
		} else {
			err = api.sendLocation(s)
		}
		if err != nil {
			log.WithError(err).WithField("vehicle_id", s.VehicleID).Error("Failed to report position")
			continue
		}
		log.WithFields(log.Fields{
			"vehicle_id": s.VehicleID,
			"lat":        s.Position.Lat,
			"lng":        s.Position.Lng,
		}).Debug("Reported position")
	}
}

// startDriver registers, approves when possible, logs in and brings one
// demo driver online.
func startDriver(api *apiClient, pub *publisher, adminToken string, profile models.Vehicle) (*DriverState, error) {
	created, err := api.registerDriver(profile)
	if err != nil {
		return nil, err
	}
	if created != nil && !created.Approved {
		if adminToken == "" {
			return nil, fmt.Errorf("driver %s awaits approval and SIM_ADMIN_TOKEN is not set", created.ID)
		}
		if err := api.approve(adminToken, created.ID); err != nil {
			return nil, err
		}
	}

	session, err := api.login(profile.Email)
	if err != nil {
		return nil, err
	}

	start := jitterLocation(simulator.Cities[rand.Intn(len(simulator.Cities))], 500)
	if profile.Location != nil {
		start = geofence.Point{Lat: profile.Location.Lat, Lng: profile.Location.Lng}
	}
	s := &DriverState{
		VehicleID: session.Vehicle.ID,
		Token:     session.Token,
		Type:      session.Vehicle.VehicleType,
		Position:  start,
		SpeedKmh:  30 + rand.Float64()*30,
	}
	planNewTarget(s)

	if pub != nil {
		if err := pub.report(s); err != nil {
			return nil, err
		}
		err = api.goOnline(s, nil)
	} else {
		err = api.goOnline(s, &s.Position)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func main() {
	cfg := loadSettings()
	log.WithFields(log.Fields{
		"fleet_size": cfg.FleetSize,
		"api_url":    cfg.APIURL,
		"interval":   cfg.Interval,
		"mqtt":       cfg.MQTTBroker != "",
	}).Info("Starting driver simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pub *publisher
	if cfg.MQTTBroker != "" {
		client, err := mqttutil.Connect(cfg.MQTTBroker, fmt.Sprintf("fleet-simulator-%d", os.Getpid()))
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		defer client.Disconnect(250)
		pub = &publisher{client: client}
	}

	api := newAPIClient(cfg.APIURL)
	states := make([]*DriverState, 0, cfg.FleetSize)
	for _, profile := range simulator.DemoFleet(cfg.FleetSize, "", time.Now()) {
		s, err := startDriver(api, pub, cfg.AdminToken, profile)
		if err != nil {
			log.WithError(err).WithField("email", profile.Email).Error("Failed to start driver")
			continue
		}
		states = append(states, s)
	}

	log.WithField("online_drivers", len(states)).Info("Driver start completed")
	if len(states) == 0 {
		log.Error("No drivers online. Ensure the API is reachable. Exiting.")
		return
	}

	for _, s := range states {
		go simulateDriver(ctx, api, pub, s, cfg.Interval)
	}

	log.Info("Driver simulation started")
	<-ctx.Done()
	log.Info("Driver simulation stopped")
}
