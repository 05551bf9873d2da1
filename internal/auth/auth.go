// Package auth authenticates relay and API callers. Controllers present a
// signed jwt; lab devices present the shared device token.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"labwatch/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes controller principals from device principals.
type Kind string

const (
	KindController Kind = "controller"
	KindDevice     Kind = "device"
)

// Principal is an authenticated caller.
type Principal struct {
	Kind    Kind
	Subject string // user id for controllers, hardware address for devices
	Role    domain.UserRole
}

// CanControl reports whether the principal may drive a device's input.
func (p Principal) CanControl() bool {
	return p.Kind == KindController && p.Role == domain.RoleTeacher
}

type controllerClaims struct {
	Role domain.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates controller tokens and checks the
// device token.
type TokenManager struct {
	secret      []byte
	deviceToken string
	now         func() time.Time
}

// NewTokenManager creates a token manager. An empty deviceToken disables
// device authentication checks.
func NewTokenManager(secret, deviceToken string) *TokenManager {
	return &TokenManager{
		secret:      []byte(secret),
		deviceToken: deviceToken,
		now:         time.Now,
	}
}

// Issue signs a controller token for userID.
func (m *TokenManager) Issue(userID string, role domain.UserRole, ttl time.Duration) (string, error) {
	now := m.now()
	claims := controllerClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateController parses a controller token.
func (m *TokenManager) ValidateController(tokenStr string) (Principal, error) {
	var claims controllerClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}
	return Principal{Kind: KindController, Subject: claims.Subject, Role: claims.Role}, nil
}

// ValidateDevice checks the shared device token and binds the principal to
// the presented hardware address.
func (m *TokenManager) ValidateDevice(tokenStr, hardwareAddress string) (Principal, error) {
	if m.deviceToken != "" && subtle.ConstantTimeCompare([]byte(tokenStr), []byte(m.deviceToken)) != 1 {
		return Principal{}, fmt.Errorf("%w: bad device token", domain.ErrUnauthenticated)
	}
	if hardwareAddress == "" {
		return Principal{}, fmt.Errorf("%w: missing hardware address", domain.ErrUnauthenticated)
	}
	return Principal{Kind: KindDevice, Subject: domain.NormalizeHardwareAddress(hardwareAddress)}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer x" header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
