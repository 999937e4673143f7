package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ukydev/fleet-presence/internal/middleware"
	"github.com/ukydev/fleet-presence/internal/models"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Auth     *AuthHandler
	Drivers  *DriverHandler
	Vehicles *VehicleHandler
	Admin    *AdminHandler

	Sessions  *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
}

// loginLimit bounds login and registration attempts per client.
const (
	loginLimit  = 10
	loginWindow = time.Minute
)

// Routes builds the HTTP router.
func Routes(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/vehicles", h.Vehicles.Visible)
		r.Get("/snapshot", h.Vehicles.Snapshot)
		r.Get("/vehicle-types", h.Vehicles.Types)

		r.Group(func(r chi.Router) {
			if h.RateLimit != nil {
				r.Use(h.RateLimit.RateLimit(loginLimit, loginWindow))
			}
			r.Post("/auth/admin/login", h.Auth.AdminLogin)
			r.Post("/auth/driver/login", h.Auth.DriverLogin)
			r.Post("/drivers/register", h.Drivers.Register)
		})

		r.Route("/drivers/{id}", func(r chi.Router) {
			r.Use(h.Sessions.Authenticate)
			r.Use(h.Sessions.RequirePermission("update_presence"))
			r.Use(h.Sessions.RequireVehicle("id"))
			r.Post("/online", h.Drivers.GoOnline)
			r.Post("/offline", h.Drivers.GoOffline)
			r.Post("/location", h.Drivers.UpdateLocation)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.Sessions.Authenticate)
			r.Use(h.Sessions.RequireRole(models.RoleAdmin))

			r.Get("/stats", h.Admin.Stats)
			r.Get("/pending", h.Admin.Pending)
			r.Post("/drivers", h.Admin.CreateDriver)
			r.Patch("/drivers/{id}", h.Admin.EditDriver)
			r.Post("/drivers/{id}/approve", h.Admin.Approve)
			r.Post("/drivers/{id}/reject", h.Admin.Reject)
			r.Delete("/drivers/{id}", h.Admin.Remove)

			r.Get("/vehicle-types", h.Admin.Types)
			r.Patch("/vehicle-types/{type}", h.Admin.UpdateType)

			r.Get("/filter", h.Admin.Filter)
			r.Put("/filter", h.Admin.SetFilter)
			r.Post("/filter/toggle-all", h.Admin.ToggleFilterAll)
			r.Post("/filter/{type}/toggle", h.Admin.ToggleFilterType)

			r.Get("/simulation", h.Admin.SimulationStatus)
			r.Put("/simulation", h.Admin.SetSimulation)
			r.Post("/simulation/tick", h.Admin.Tick)
			r.Post("/simulation/activate-demo", h.Admin.ActivateDemo)
		})
	})

	return r
}
