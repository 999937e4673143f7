// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/auth"
	"github.com/ukydev/fleet-presence/internal/location"
	"github.com/ukydev/fleet-presence/internal/scheduler"
)

// DefaultJWTSecret is used when JWT_SECRET is unset.
const DefaultJWTSecret = "default-secret-key-change-in-production"

// Store backends.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Config holds the service settings.
type Config struct {
	Port string

	Store    string
	MongoURI string
	MongoDB  string

	MQTTBroker   string
	MQTTClientID string

	RefreshInterval   time.Duration
	MovementInterval  time.Duration
	DashboardInterval time.Duration
	LocationTimeout   time.Duration

	JWTSecret         string
	JWTExpiry         time.Duration
	AdminEmail        string
	AdminPasswordHash string

	LogLevel  string
	LogFormat string

	SeedDemo  bool
	FleetSize int
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		raw := os.Getenv(key)
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, raw))
			return def
		}
		return d
	}

	cfg := &Config{
		Port:              getenv("PORT", "8080"),
		Store:             strings.ToLower(getenv("STORE", StoreMemory)),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getenv("MONGO_DB", "fleet"),
		MQTTBroker:        os.Getenv("MQTT_BROKER"),
		MQTTClientID:      getenv("MQTT_CLIENT_ID", "fleet-presence"),
		RefreshInterval:   duration("REFRESH_INTERVAL", scheduler.DefaultRefreshInterval),
		MovementInterval:  duration("MOVEMENT_INTERVAL", scheduler.DefaultMovementInterval),
		DashboardInterval: duration("DASHBOARD_INTERVAL", scheduler.DefaultDashboardInterval),
		LocationTimeout:   duration("LOCATION_TIMEOUT", location.DefaultTimeout),
		JWTSecret:         getenv("JWT_SECRET", DefaultJWTSecret),
		JWTExpiry:         duration("JWT_EXPIRY", auth.DefaultTokenExpiry),
		AdminEmail:        os.Getenv("ADMIN_EMAIL"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogFormat:         strings.ToLower(getenv("LOG_FORMAT", "text")),
	}

	if raw := os.Getenv("SEED_DEMO"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("SEED_DEMO: invalid bool %q", raw))
		}
		cfg.SeedDemo = b
	}
	if raw := os.Getenv("FLEET_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("FLEET_SIZE: invalid size %q", raw))
		}
		cfg.FleetSize = n
	}

	switch cfg.Store {
	case StoreMemory:
	case StoreMongo:
		if cfg.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required when STORE=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE: unknown backend %q", cfg.Store))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: unknown format %q", cfg.LogFormat))
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogging applies the log level and format.
func (c *Config) SetupLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if c.JWTSecret == DefaultJWTSecret {
		log.Warn("JWT_SECRET not set, using the default secret")
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
