package service

import (
	"context"
	"time"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/metrics"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/and161185/arena-auth/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// Verifier checks access tokens against the signing key and the live directory.
type Verifier struct {
	users   repository.UserRepository
	tokens  Tokens
	metrics *metrics.Metrics
	now     func() time.Time
	timeout time.Duration
}

// NewVerifier shares the collaborators of d.
func NewVerifier(d Deps) *Verifier {
	d.defaults()
	return &Verifier{users: d.Users, tokens: d.Tokens, metrics: d.Metrics, now: d.Now, timeout: d.DirectoryTimeout}
}

// Verify decodes raw, checks signature and expiry, then confirms the user exists
// and is active. Email and role come from the directory, not from the token.
func (v *Verifier) Verify(ctx context.Context, raw string) (model.Claims, error) {
	u, err := v.Authenticate(ctx, raw)
	if err != nil {
		return model.Claims{}, err
	}
	return model.Claims{UserID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// Authenticate is Verify returning the full directory record.
func (v *Verifier) Authenticate(ctx context.Context, raw string) (*model.User, error) {
	const op = "verify"
	defer v.metrics.ObserveVerify(time.Now())

	ac, err := v.tokens.ParseAccess(raw, v.now())
	if err != nil {
		return nil, err
	}
	uid, err := uuid.FromString(ac.UID)
	if err != nil {
		return nil, errs.E(errs.KindMalformed, op, err)
	}

	dctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return activeUser(dctx, v.users, op, uid)
}
