package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is stamped into every token minted by the bridge and required
// on parse, so tokens from other Gray Logic services sharing a secret are
// not accepted here.
const Issuer = "graylogic-gpio"

const (
	fallbackTTL = 15 * time.Minute
	clockSkew   = 30 * time.Second
)

// Claims is the bridge's access token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	SessionID string `json:"sid"`
}

// GenerateAccessToken mints an HS256 token for subject with the given
// role. A non-positive ttlMinutes falls back to 15 minutes.
func GenerateAccessToken(subject string, role Role, secret string, ttlMinutes int) (string, error) {
	if !IsValidRole(role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	ttl := fallbackTTL
	if ttlMinutes > 0 {
		ttl = time.Duration(ttlMinutes) * time.Minute
	}

	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:      role,
		SessionID: uuid.NewString(),
	}).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: signing token for %s: %w", subject, err)
	}
	return signed, nil
}

// ParseToken verifies signature, algorithm, issuer and expiry, then
// checks the subject and role. Every rejection wraps ErrTokenInvalid.
func ParseToken(raw, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: no subject", ErrTokenInvalid)
	case !IsValidRole(claims.Role):
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
