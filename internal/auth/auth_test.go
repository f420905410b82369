package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	a := New("s3cret", "cron", "stashloop")
	tok, err := a.IssueToken("user-1", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	uid, err := a.VerifyToken(tok)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if uid != "user-1" {
		t.Errorf("subject = %q", uid)
	}
}

func TestVerifyRejects(t *testing.T) {
	a := New("s3cret", "", "stashloop")
	now := time.Now()

	expired, _ := a.IssueToken("u", time.Minute, now.Add(-time.Hour))
	other, _ := New("different", "", "stashloop").IssueToken("u", time.Hour, now)
	wrongIssuer, _ := New("s3cret", "", "someone-else").IssueToken("u", time.Hour, now)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"expired":      expired,
		"wrong key":    other,
		"wrong issuer": wrongIssuer,
		"alg none":     none,
		"garbage":      "not.a.token",
	} {
		if _, err := a.VerifyToken(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestIdentify(t *testing.T) {
	a := New("s3cret", "cron-key", "")
	tok, _ := a.IssueToken("user-9", time.Hour, time.Now())

	req := httptest.NewRequest("POST", "/api/fill-today", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	id, err := a.Identify(req)
	if err != nil || id.UserID != "user-9" || id.Batch {
		t.Errorf("bearer: got %+v, %v", id, err)
	}

	req = httptest.NewRequest("POST", "/api/fill-today", nil)
	req.Header.Set(CronSecretHeader, "cron-key")
	id, err = a.Identify(req)
	if err != nil || !id.Batch || id.UserID != "" {
		t.Errorf("cron: got %+v, %v", id, err)
	}

	req = httptest.NewRequest("POST", "/api/fill-today", nil)
	req.Header.Set(CronSecretHeader, "wrong")
	req.Header.Set("Authorization", "Bearer "+tok)
	if _, err := a.Identify(req); !errors.Is(err, ErrBadSecret) {
		t.Errorf("wrong secret: expected ErrBadSecret, got %v", err)
	}

	req = httptest.NewRequest("GET", "/api/items", nil)
	if _, err := a.Identify(req); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("anonymous: expected ErrNoCredentials, got %v", err)
	}

	req = httptest.NewRequest("GET", "/api/items", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	if _, err := a.Identify(req); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("basic auth: expected ErrInvalidToken, got %v", err)
	}
}

func TestCronSecretDisabledWhenEmpty(t *testing.T) {
	a := New("s3cret", "", "")
	if a.CheckCronSecret("") || a.CheckCronSecret("anything") {
		t.Error("empty configured secret must never match")
	}
}
