// Package auth identifies API callers: end users by an HS256 bearer token
// whose subject is the user id, and the scheduler by a shared secret header.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CronSecretHeader carries the scheduler's shared secret.
const CronSecretHeader = "X-Cron-Secret"

var (
	ErrNoCredentials = errors.New("no credentials")
	ErrInvalidToken  = errors.New("invalid token")
	ErrBadSecret     = errors.New("invalid scheduler secret")
)

// Identity is who made a request. Batch is set only for the scheduler.
type Identity struct {
	UserID string
	Batch  bool
}

// Authenticator verifies bearer tokens and the scheduler secret.
type Authenticator struct {
	secret     []byte
	cronSecret []byte
	issuer     string
}

// New creates an Authenticator. An empty cronSecret disables batch callers.
func New(jwtSecret, cronSecret, issuer string) *Authenticator {
	return &Authenticator{
		secret:     []byte(jwtSecret),
		cronSecret: []byte(cronSecret),
		issuer:     issuer,
	}
}

// IssueToken signs a token for userID valid for ttl.
func (a *Authenticator) IssueToken(userID string, ttl time.Duration, now time.Time) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken returns the user id in a valid token.
func (a *Authenticator) VerifyToken(raw string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("%w: jwt secret is not configured", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// CheckCronSecret compares the presented secret in constant time.
func (a *Authenticator) CheckCronSecret(presented string) bool {
	if len(a.cronSecret) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), a.cronSecret) == 1
}

// Identify resolves the caller of r. The scheduler header wins when present;
// a wrong secret is rejected rather than falling back to the bearer token.
func (a *Authenticator) Identify(r *http.Request) (Identity, error) {
	if secret := r.Header.Get(CronSecretHeader); secret != "" {
		if !a.CheckCronSecret(secret) {
			return Identity{}, ErrBadSecret
		}
		return Identity{Batch: true}, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return Identity{}, ErrNoCredentials
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return Identity{}, fmt.Errorf("%w: expected bearer token", ErrInvalidToken)
	}
	userID, err := a.VerifyToken(strings.TrimSpace(token))
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID}, nil
}
