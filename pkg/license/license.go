// Package license issues and verifies the signed tokens that carry a
// caller's subject and tier.
package license

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/zen-systems/modelgate/pkg/catalog"
)

// DefaultLifetime is used when Issue is given a non-positive lifetime.
const DefaultLifetime = 30 * 24 * time.Hour

var (
	// ErrTokenExpired is returned for a well-signed token past its expiry.
	ErrTokenExpired = errors.New("license expired")
	// ErrInvalidToken is returned when the token is invalid for any other reason.
	ErrInvalidToken = errors.New("invalid license")
	// ErrNoSecret is returned when no signing secret is configured.
	ErrNoSecret = errors.New("license secret not configured")
)

const issuer = "modelgate"

// Claims are the JWT claims of a license token.
type Claims struct {
	jwt.RegisteredClaims
	Tier catalog.Tier `json:"tier"`
}

// License is a verified caller identity.
type License struct {
	Subject   string       `json:"subject"`
	Tier      catalog.Tier `json:"tier"`
	ID        string       `json:"id,omitempty"`
	ExpiresAt time.Time    `json:"expires_at,omitempty"`
}

// Free is the identity of a caller without a token.
var Free = License{Subject: "anonymous", Tier: catalog.TierFree}

// Issue signs a token for subject on tier.
func Issue(secret, subject string, tier catalog.Tier, lifetime time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	if subject == "" {
		return "", fmt.Errorf("license subject is required")
	}
	tier, err := catalog.ParseTier(string(tier))
	if err != nil {
		return "", err
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Tier: tier,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verify parses token and returns the license it carries.
func Verify(secret, token string) (License, error) {
	if secret == "" {
		return License{}, ErrNoSecret
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return License{}, ErrTokenExpired
		}
		return License{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Issuer != issuer || claims.Subject == "" {
		return License{}, ErrInvalidToken
	}
	tier, err := catalog.ParseTier(string(claims.Tier))
	if err != nil {
		return License{}, ErrInvalidToken
	}

	lic := License{Subject: claims.Subject, Tier: tier, ID: claims.ID}
	if claims.ExpiresAt != nil {
		lic.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return lic, nil
}
