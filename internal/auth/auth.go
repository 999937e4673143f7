package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ukydev/fleet-presence/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// DefaultTokenExpiry is used when no expiry is configured.
const DefaultTokenExpiry = 24 * time.Hour

// Service issues and validates session tokens
type Service struct {
	jwtSecret []byte
	tokenExp  time.Duration
	now       func() time.Time
}

// NewService creates a new authentication service
func NewService(secret string, exp time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if exp <= 0 {
		exp = DefaultTokenExpiry
	}
	return &Service{
		jwtSecret: []byte(secret),
		tokenExp:  exp,
		now:       time.Now,
	}, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword checks if a password matches a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateToken generates a JWT for an admin or driver session. For drivers
// the subject is the vehicle id.
func (s *Service) GenerateToken(subject, email string, role models.Role) (string, error) {
	if !models.IsValidRole(role) {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"role":  string(role),
		"exp":   now.Add(s.tokenExp).Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	// Remove "Bearer " prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	subject, ok := claims["sub"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	email, _ := claims["email"].(string)

	roleStr, ok := claims["role"].(string)
	if !ok || !models.IsValidRole(models.Role(roleStr)) {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &models.Claims{
		Subject: subject,
		Email:   email,
		Role:    models.Role(roleStr),
		Exp:     int64(exp),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}

// Gate decides whether credentials belong to an administrator.
type Gate interface {
	Verify(email, password string) bool
}

// BcryptGate admits a single administrator identified by email and a bcrypt
// password hash.
type BcryptGate struct {
	email string
	hash  string
}

// NewBcryptGate creates a gate. An empty hash admits nobody.
func NewBcryptGate(email, passwordHash string) *BcryptGate {
	return &BcryptGate{email: strings.ToLower(strings.TrimSpace(email)), hash: passwordHash}
}

// Verify checks the credentials.
func (g *BcryptGate) Verify(email, password string) bool {
	if g.hash == "" || g.email == "" {
		return false
	}
	given := strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(given), []byte(g.email)) == 1
	passOK := CheckPassword(password, g.hash)
	return emailOK && passOK
}
