package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/auth"
	"github.com/ukydev/fleet-presence/internal/config"
	"github.com/ukydev/fleet-presence/internal/dashboard"
	"github.com/ukydev/fleet-presence/internal/db"
	"github.com/ukydev/fleet-presence/internal/filter"
	"github.com/ukydev/fleet-presence/internal/geofence"
	"github.com/ukydev/fleet-presence/internal/handlers"
	"github.com/ukydev/fleet-presence/internal/location"
	"github.com/ukydev/fleet-presence/internal/middleware"
	"github.com/ukydev/fleet-presence/internal/mqttutil"
	"github.com/ukydev/fleet-presence/internal/notify"
	"github.com/ukydev/fleet-presence/internal/presence"
	"github.com/ukydev/fleet-presence/internal/registry"
	"github.com/ukydev/fleet-presence/internal/render"
	"github.com/ukydev/fleet-presence/internal/scheduler"
	"github.com/ukydev/fleet-presence/internal/simulator"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
	log.Info("Server stopped")
}

// openDocuments returns the configured document store and a close func.
func openDocuments(ctx context.Context, cfg *config.Config) (db.DocumentStore, func(), error) {
	if cfg.Store != config.StoreMongo {
		log.Info("Using in-memory store")
		return db.NewMemoryDocuments(), func() {}, nil
	}
	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
	closeFn := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}
	return db.NewMongoDocuments(client.Database(cfg.MongoDB)), closeFn, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	docs, closeDocs, err := openDocuments(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDocs()

	types, err := registry.Load(ctx, docs)
	if err != nil {
		return err
	}
	store := db.NewVehicleRepository(docs)
	fence := geofence.Iraq()

	latest := render.NewLatest()
	var (
		notifier  notify.Notifier = notify.LogNotifier{}
		renderer  render.Renderer = latest
		newSource location.SourceFactory
	)
	if cfg.MQTTBroker != "" {
		client, err := mqttutil.Connect(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		notifier = notify.Multi{notify.LogNotifier{}, notify.NewMQTTNotifier(client, "")}
		renderer = render.Multi{latest, render.NewMQTTRenderer(client, render.SnapshotTopic)}
		newSource = mqttSources(client)
	} else {
		log.Info("MQTT_BROKER not set, live location and MQTT publishing disabled")
	}

	machine := presence.New(store, types, fence, notifier)
	sim := simulator.New(store, types, fence)

	if cfg.SeedDemo {
		hash, err := auth.HashPassword(simulator.DemoPassword, bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if _, err := simulator.Seed(ctx, store, simulator.DemoFleet(cfg.FleetSize, hash, time.Now())); err != nil {
			return err
		}
	}

	mapFilter := filter.New(types)
	refresher := render.NewRefresher(store, types, mapFilter, renderer)
	stats := dashboard.NewService(store)
	trackers := location.NewPool(machine, newSource, cfg.LocationTimeout)
	defer trackers.Close()

	sched, err := newScheduler(cfg, refresher, sim, stats, trackers)
	if err != nil {
		return err
	}

	tokens, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return err
	}
	if cfg.AdminPasswordHash == "" {
		log.Warn("ADMIN_PASSWORD_HASH not set, admin login disabled")
	}

	router := handlers.Routes(handlers.Handlers{
		Auth:      handlers.NewAuthHandler(tokens, auth.NewBcryptGate(cfg.AdminEmail, cfg.AdminPasswordHash), machine),
		Drivers:   handlers.NewDriverHandler(machine, trackers),
		Vehicles:  handlers.NewVehicleHandler(store, types, latest),
		Admin:     handlers.NewAdminHandler(machine, types, stats, sim, mapFilter, trackers),
		Sessions:  middleware.NewAuthMiddleware(tokens),
		RateLimit: middleware.NewRateLimitMiddleware(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func mqttSources(client mqtt.Client) location.SourceFactory {
	return func(vehicleID string) location.Source {
		return location.NewMQTTSource(client, vehicleID)
	}
}

func newScheduler(cfg *config.Config, refresher *render.Refresher, sim *simulator.Simulator,
	stats *dashboard.Service, trackers *location.Pool) (*scheduler.Scheduler, error) {
	sched := scheduler.New()
	if err := sched.Register(scheduler.Refresh, cfg.RefreshInterval, refresher.Refresh); err != nil {
		return nil, err
	}
	if err := sched.Register(scheduler.Movement, cfg.MovementInterval, func(ctx context.Context) error {
		res, err := sim.Tick(ctx)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"moved":    res.Moved,
			"skipped":  res.Skipped,
			"rejected": res.Rejected,
			"paused":   res.Paused,
		}).Debug("Movement tick")
		return nil
	}); err != nil {
		return nil, err
	}
	if err := sched.Register(scheduler.Dashboard, cfg.DashboardInterval, stats.Refresh); err != nil {
		return nil, err
	}
	if trackers.Enabled() {
		if err := sched.Register(scheduler.LiveLocation, cfg.RefreshInterval, trackers.AutoUpdate); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
