// Package security issues and verifies the bearer tokens that guard the admin API.
package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminTokenType = "admin"

var (
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("jwt secret is required")
	// ErrInvalidToken is returned for tokens that fail signature, expiry or type checks.
	ErrInvalidToken = errors.New("invalid admin token")
)

// AdminClaims are the claims carried by an admin token.
type AdminClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 admin token for subject, valid for expiry.
func IssueAdminToken(secret, subject string, expiry time.Duration, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, ErrMissingSecret
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("token subject is required")
	}
	if expiry <= 0 {
		return "", time.Time{}, fmt.Errorf("token expiry must be positive")
	}
	now = now.UTC()
	expiresAt := now.Add(expiry)
	claims := AdminClaims{
		Type: adminTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", errSign)
	}
	return signed, expiresAt, nil
}

// ParseAdminToken verifies token and returns its claims.
func ParseAdminToken(secret, token string) (*AdminClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	claims := &AdminClaims{}
	parsed, errParse := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if errParse != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	if !parsed.Valid || claims.Type != adminTokenType || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
