package handlers

import (
	"context"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/auth"
	"github.com/ukydev/fleet-presence/internal/models"
)

// DriverAuthenticator checks driver credentials.
type DriverAuthenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.Vehicle, error)
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService *auth.Service
	gate        auth.Gate
	drivers     DriverAuthenticator
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, gate auth.Gate, drivers DriverAuthenticator) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		gate:        gate,
		drivers:     drivers,
	}
}

func readLogin(w http.ResponseWriter, r *http.Request) (models.LoginRequest, bool) {
	var loginReq models.LoginRequest
	if !decodeJSON(w, r, &loginReq, false) {
		return loginReq, false
	}
	loginReq.Email = strings.TrimSpace(loginReq.Email)
	if loginReq.Email == "" || loginReq.Password == "" {
		writeError(w, r, &models.ValidationError{Field: "credentials", Reason: "email and password are required"})
		return loginReq, false
	}
	return loginReq, true
}

// AdminLogin opens an administrator session.
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	loginReq, ok := readLogin(w, r)
	if !ok {
		return
	}

	if h.gate == nil || !h.gate.Verify(loginReq.Email, loginReq.Password) {
		log.WithField("email", loginReq.Email).Warn("Rejected admin login")
		writeError(w, r, models.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateToken(loginReq.Email, loginReq.Email, models.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, Role: models.RoleAdmin})
}

// DriverLogin opens a driver session. Drivers still pending approval are refused.
func (h *AuthHandler) DriverLogin(w http.ResponseWriter, r *http.Request) {
	loginReq, ok := readLogin(w, r)
	if !ok {
		return
	}

	vehicle, err := h.drivers.Authenticate(r.Context(), loginReq.Email, loginReq.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.authService.GenerateToken(vehicle.ID, vehicle.Email, models.RoleDriver)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.WithField("vehicle_id", vehicle.ID).Info("Driver logged in")
	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, Role: models.RoleDriver, Vehicle: vehicle})
}
