// Package identity issues and checks curator tokens and mints the ids that
// scope viewers and spaces.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DemoPrefix marks spaces anyone may curate.
const DemoPrefix = "demo-"

var (
	// ErrNoSecret is returned when tokens are requested without a signing secret.
	ErrNoSecret = errors.New("token secret is not configured")
	// ErrInvalidToken is returned for tokens that fail validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims represents the claims in a curator token. The subject is the user
// id, which is also the id of the user's personal space.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string { return c.Subject }

// Provider signs and validates HS256 tokens.
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewProvider creates a provider. ttl <= 0 issues tokens without expiry.
func NewProvider(secret string, ttl time.Duration) *Provider {
	return &Provider{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock returns a copy of p using now as its clock.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	cp := *p
	cp.now = now
	return &cp
}

// Issue signs a token for userID.
func (p *Provider) Issue(userID, name string) (string, time.Time, error) {
	if len(p.secret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	if userID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}

	now := p.now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	var expires time.Time
	if p.ttl > 0 {
		expires = now.Add(p.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expires)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify validates a token and returns its claims.
func (p *Provider) Verify(tokenString string) (*Claims, error) {
	if len(p.secret) == 0 {
		return nil, ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewSessionID returns a fresh viewer session id.
func NewSessionID() string {
	return uuid.NewString()
}

// NewDemoSpaceID returns the id of a fresh, openly editable space.
func NewDemoSpaceID() string {
	return DemoPrefix + uuid.NewString()
}

// IsDemoSpace reports whether spaceID was minted by NewDemoSpaceID.
func IsDemoSpace(spaceID string) bool {
	rest, ok := strings.CutPrefix(spaceID, DemoPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// CanCurate reports whether the holder of claims may change the frames of
// spaceID: owners of their personal space, anyone for demo spaces. claims
// may be nil for anonymous callers.
func CanCurate(claims *Claims, spaceID string) bool {
	if IsDemoSpace(spaceID) {
		return true
	}
	return claims != nil && claims.Subject != "" && claims.Subject == spaceID
}
