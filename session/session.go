// Package session issues and verifies stateless session tokens.
//
// Tokens are HS256-signed JWTs carrying the user id (sub), issue time (iat),
// expiry (exp), a random token id (jti) and the issuer (iss). Only a process
// holding the signing secret can mint or validate them; rotating the secret
// invalidates every outstanding session.
package session

import (
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/arbor/internal/util"
	"github.com/jmcleod/arbor/internal/uuid"
)

const (
	// DefaultTTL is the lifetime of a freshly issued session.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultIssuer is written to and required in the iss claim.
	DefaultIssuer = "arbor"
	// MinSecretLength is the minimum length in bytes of the signing secret.
	MinSecretLength = 32

	signingInfo = "arbor:session-signing:v1"
)

// ErrSecretTooShort is returned by New when the signing secret is shorter
// than MinSecretLength.
var ErrSecretTooShort = fmt.Errorf("session: signing secret must be at least %d bytes", MinSecretLength)

// Identity is the authenticated principal carried by a session.
type Identity struct {
	UserID string
}

// Token is an issued session token.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Service mints and verifies session tokens. It is safe for concurrent use.
type Service struct {
	key    *memguard.Enclave
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the session lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock replaces the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service whose signing key is derived from signingSecret.
func New(signingSecret []byte, opts ...Option) (*Service, error) {
	if len(signingSecret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	key, err := util.HKDF(signingSecret, nil, []byte(signingInfo))
	if err != nil {
		return nil, fmt.Errorf("deriving signing key: %w", err)
	}
	s := &Service{
		key:    memguard.NewEnclave(key),
		ttl:    DefaultTTL,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured session lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue mints a token for id.
func (s *Service) Issue(id Identity) (Token, error) {
	if id.UserID == "" {
		return Token{}, fmt.Errorf("session: identity has no user id")
	}
	now := s.now().Truncate(time.Second)
	exp := now.Add(s.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   id.UserID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.New(),
	}

	buf, err := s.key.Open()
	if err != nil {
		return Token{}, fmt.Errorf("opening signing key enclave: %w", err)
	}
	defer buf.Destroy()

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(buf.Bytes())
	if err != nil {
		return Token{}, fmt.Errorf("signing session token: %w", err)
	}
	return Token{Value: value, IssuedAt: now, ExpiresAt: exp}, nil
}

// Verify checks the signature, issuer and expiry of value and returns the
// identity it carries. Any failure yields false with no further detail.
func (s *Service) Verify(value string) (Identity, bool) {
	if value == "" {
		return Identity{}, false
	}

	buf, err := s.key.Open()
	if err != nil {
		return Identity{}, false
	}
	defer buf.Destroy()

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(value, &claims,
		func(*jwt.Token) (any, error) { return buf.Bytes(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return Identity{}, false
	}
	return Identity{UserID: claims.Subject}, true
}

// Revoke returns an empty, already-expired token. Tokens are stateless, so
// revocation is carried out by overwriting the client's copy.
func (s *Service) Revoke() Token {
	return Token{ExpiresAt: time.Unix(0, 0)}
}
