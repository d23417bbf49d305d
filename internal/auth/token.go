// Package auth issues and verifies the short-lived signed tokens that admit
// WebSocket connections.
//
// Tokens are compact HS256 JWTs carrying the session subject, a scope and,
// for mobile tokens, the pinned channel id. Desktop tokens grant the full
// control plane; mobile tokens admit only pairing initialization and audio.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Admission errors. Both refuse the WebSocket handshake.
var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
)

// Scope limits what a connection may do after admission.
type Scope string

const (
	// ScopeDesktop grants the full control plane.
	ScopeDesktop Scope = "desktop"

	// ScopeMobile admits only mobile_init and audio_chunk, pinned to the
	// channel named in the token.
	ScopeMobile Scope = "mobile"
)

// DefaultTTL is the token lifetime used when no TTL is configured.
const DefaultTTL = 15 * time.Minute

// Claims is the verified content of an admission token.
type Claims struct {
	// Subject identifies the session the token was issued to.
	Subject string

	// Scope is the admission scope.
	Scope Scope

	// Channel pins mobile tokens to one channel. Empty for desktop scope.
	Channel string

	// ExpiresAt is the token expiry instant.
	ExpiresAt time.Time
}

// tokenClaims is the wire shape of the JWT payload.
type tokenClaims struct {
	Scope   string `json:"scope"`
	Channel string `json:"channel,omitempty"`
	jwt.RegisteredClaims
}

// Option is a functional option for configuring an [Issuer].
type Option func(*Issuer)

// WithTTL sets the token lifetime. Default: [DefaultTTL].
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) { i.ttl = ttl }
}

// WithNow overrides the clock; used by tests.
func WithNow(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// Issuer signs and verifies admission tokens with a shared HMAC key.
// It is read-only after construction and safe for concurrent use.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer returns an Issuer signing with key.
func NewIssuer(key []byte, opts ...Option) (*Issuer, error) {
	if len(key) == 0 {
		return nil, errors.New("auth: empty signing key")
	}
	i := &Issuer{key: key, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for subject with the given scope. Mobile tokens must
// pin a channel; desktop tokens must not.
func (i *Issuer) Issue(subject string, scope Scope, channel string) (string, error) {
	switch scope {
	case ScopeDesktop:
		if channel != "" {
			return "", errors.New("auth: desktop tokens carry no channel")
		}
	case ScopeMobile:
		if channel == "" {
			return "", errors.New("auth: mobile tokens require a channel")
		}
	default:
		return "", fmt.Errorf("auth: unknown scope %q", scope)
	}

	now := i.now()
	claims := tokenClaims{
		Scope:   string(scope),
		Channel: channel,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and scope and returns the claims.
func (i *Issuer) Verify(token string) (Claims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	scope := Scope(claims.Scope)
	switch scope {
	case ScopeDesktop:
		if claims.Channel != "" {
			return Claims{}, ErrInvalidToken
		}
	case ScopeMobile:
		if claims.Channel == "" {
			return Claims{}, ErrInvalidToken
		}
	default:
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		Subject:   claims.Subject,
		Scope:     scope,
		Channel:   claims.Channel,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
