package license

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/zen-systems/modelgate/pkg/catalog"
)

const secret = "test-secret"

func TestIssueAndVerify(t *testing.T) {
	token, err := Issue(secret, "alice", catalog.TierPro, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	lic, err := Verify(secret, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if lic.Subject != "alice" || lic.Tier != catalog.TierPro || lic.ID == "" {
		t.Fatalf("unexpected license %+v", lic)
	}
	if time.Until(lic.ExpiresAt) > time.Hour || time.Until(lic.ExpiresAt) < 50*time.Minute {
		t.Fatalf("unexpected expiry %s", lic.ExpiresAt)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Issue(secret, "alice", catalog.TierPro, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Verify("other", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := Verify(secret, "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Tier: catalog.TierPro,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Verify(secret, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsUnknownTier(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "alice"},
		Tier:             "enterprise",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Verify(secret, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIssueValidation(t *testing.T) {
	if _, err := Issue("", "alice", catalog.TierFree, 0); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
	if _, err := Issue(secret, "", catalog.TierFree, 0); err == nil {
		t.Fatal("expected error for empty subject")
	}
	if _, err := Issue(secret, "alice", "gold", 0); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}
