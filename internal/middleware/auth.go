package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-presence/internal/auth"
	"github.com/ukydev/fleet-presence/internal/models"
)

// writeError answers with the {"error": msg} body used across the API.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
)

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	authService *auth.Service
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authService *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// Authenticate validates the bearer token and adds the session claims to the
// request context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		token, err := m.authService.ExtractTokenFromHeader(authHeader)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole middleware checks if the session has the required role.
// Administrators pass every role check.
func (m *AuthMiddleware) RequireRole(requiredRole models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Session not found")
				return
			}

			if claims.Role != requiredRole && claims.Role != models.RoleAdmin {
				writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission middleware checks if the session may perform an action
func (m *AuthMiddleware) RequirePermission(requiredAction string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Session not found")
				return
			}

			if !claims.HasPermission(requiredAction) {
				writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireVehicle lets a driver act only on the vehicle named by the given
// route parameter. Administrators may act on any vehicle.
func (m *AuthMiddleware) RequireVehicle(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Session not found")
				return
			}

			if !claims.CanActFor(chi.URLParam(r, param)) {
				writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetClaimsFromContext extracts session claims from request context
func GetClaimsFromContext(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*models.Claims)
	return claims, ok
}

// RateLimitMiddleware limits requests per client inside a sliding window
type RateLimitMiddleware struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// RateLimit allows at most maxRequests per client IP within window
func (m *RateLimitMiddleware) RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)
			if !m.allow(clientIP, maxRequests, window) {
				log.WithFields(log.Fields{"client_ip": clientIP, "path": r.URL.Path}).Warn("Rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) allow(key string, maxRequests int, window time.Duration) bool {
	now := m.now()
	cutoff := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.requests[key][:0]
	for _, ts := range m.requests[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= maxRequests {
		m.requests[key] = kept
		return false
	}
	m.requests[key] = append(kept, now)
	return true
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check for forwarded headers first
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
