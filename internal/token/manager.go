// Package token mints and parses the HS256 access and refresh JWTs.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// TypeRefresh is the discriminator carried by refresh tokens.
const TypeRefresh = "refresh"

// MinKeyLen is the shortest accepted HS256 signing key.
const MinKeyLen = 32

// Config holds signing parameters.
type Config struct {
	Key        []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Typ   string `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	UID string `json:"uid"`
	Typ string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager issues and parses tokens. It is safe for concurrent use.
type Manager struct {
	cfg Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Key) < MinKeyLen {
		return nil, fmt.Errorf("signing key must be at least %d bytes", MinKeyLen)
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access ttl must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh ttl must be longer than access ttl")
	}
	if cfg.Leeway < 0 || cfg.Leeway > time.Minute {
		return nil, errors.New("leeway must be within [0, 1m]")
	}
	return &Manager{cfg: cfg}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// Issue mints an access/refresh pair for id as of now. It has no side effects.
func (m *Manager) Issue(id model.Identity, now time.Time) (model.Tokens, error) {
	if id.ID == uuid.Nil {
		return model.Tokens{}, errors.New("issue: empty identity")
	}
	accessExp := now.Add(m.cfg.AccessTTL)

	access := AccessClaims{
		UID:              id.ID.String(),
		Email:            id.Email,
		RegisteredClaims: m.registered(id.ID, now, accessExp),
	}
	refresh := RefreshClaims{
		UID:              id.ID.String(),
		Typ:              TypeRefresh,
		RegisteredClaims: m.registered(id.ID, now, now.Add(m.cfg.RefreshTTL)),
	}

	as, err := m.sign(access)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign access: %w", err)
	}
	rs, err := m.sign(refresh)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign refresh: %w", err)
	}
	return model.Tokens{
		AccessToken:  as,
		RefreshToken: rs,
		ExpiresIn:    m.cfg.AccessTTL,
		ExpiresAt:    accessExp,
	}, nil
}

func (m *Manager) registered(sub uuid.UUID, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.Must(uuid.NewV4()).String(),
		Subject:   sub.String(),
		Issuer:    m.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (m *Manager) sign(c jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.cfg.Key)
}

// ParseAccess verifies signature and expiry of an access token as of now.
// Errors are *errs.Error with KindMalformed, KindExpired or KindSignatureInvalid.
func (m *Manager) ParseAccess(raw string, now time.Time) (*AccessClaims, error) {
	const op = "token.ParseAccess"
	var c AccessClaims
	if err := m.parse(raw, &c, now); err != nil {
		return nil, errs.E(classify(err), op, err)
	}
	if c.Typ == TypeRefresh {
		return nil, errs.E(errs.KindMalformed, op, errors.New("refresh token presented as access token"))
	}
	if _, err := uuid.FromString(c.UID); err != nil || c.UID != c.Subject {
		return nil, errs.E(errs.KindMalformed, op, errors.New("bad subject"))
	}
	return &c, nil
}

// ParseRefresh verifies a refresh token as of now.
func (m *Manager) ParseRefresh(raw string, now time.Time) (*RefreshClaims, error) {
	const op = "token.ParseRefresh"
	var c RefreshClaims
	if err := m.parse(raw, &c, now); err != nil {
		return nil, errs.E(classify(err), op, err)
	}
	if c.Typ != TypeRefresh {
		return nil, errs.E(errs.KindMalformed, op, errors.New("not a refresh token"))
	}
	if _, err := uuid.FromString(c.UID); err != nil || c.UID != c.Subject || c.ID == "" {
		return nil, errs.E(errs.KindMalformed, op, errors.New("bad subject"))
	}
	return &c, nil
}

func (m *Manager) parse(raw string, c jwt.Claims, now time.Time) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	_, err := jwt.ParseWithClaims(raw, c, func(*jwt.Token) (any, error) {
		return m.cfg.Key, nil
	}, opts...)
	return err
}

// classify maps golang-jwt sentinel errors to kinds. Signature problems win over
// expiry because the parser checks the signature first.
func classify(err error) errs.Kind {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errs.KindSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return errs.KindExpired
	default:
		return errs.KindMalformed
	}
}

// PeekExpiry reads exp from a token without verifying it. Clients use it to decide
// whether to refresh before calling the server; the server never does.
func PeekExpiry(raw string) (time.Time, error) {
	var c jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &c); err != nil {
		return time.Time{}, errs.E(errs.KindMalformed, "token.PeekExpiry", err)
	}
	if c.ExpiresAt == nil {
		return time.Time{}, errs.E(errs.KindMalformed, "token.PeekExpiry", errors.New("no exp"))
	}
	return c.ExpiresAt.Time, nil
}
