// Package service contains the application services for credentials, tokens and verification.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgcrypto "github.com/and161185/arena-auth/internal/crypto"
	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/events"
	"github.com/and161185/arena-auth/internal/ledger"
	"github.com/and161185/arena-auth/internal/metrics"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/and161185/arena-auth/internal/repository"
	"github.com/and161185/arena-auth/internal/token"
	"github.com/and161185/arena-auth/internal/validate"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// AuthService defines the credential and session operations exposed over HTTP.
type AuthService interface {
	// Register validates input, creates the user and issues a session.
	Register(ctx context.Context, in validate.RegisterInput) (Result, error)
	// Login checks credentials and issues a session.
	Login(ctx context.Context, in validate.LoginInput) (Result, error)
	// Refresh exchanges a refresh token for a new pair.
	Refresh(ctx context.Context, refreshToken string) (Result, error)
	// User loads any user by id.
	User(ctx context.Context, id uuid.UUID) (model.PublicUser, error)
	// Ping checks the directory.
	Ping(ctx context.Context) error
}

// Result is a user plus a freshly issued token pair.
type Result struct {
	User   model.PublicUser
	Tokens model.Tokens
}

// Tokens issues and parses session token pairs. *token.Manager implements it.
type Tokens interface {
	Issue(id model.Identity, now time.Time) (model.Tokens, error)
	ParseAccess(raw string, now time.Time) (*token.AccessClaims, error)
	ParseRefresh(raw string, now time.Time) (*token.RefreshClaims, error)
}

// Deps bundles collaborators. Ledger, Events, Metrics and Log may be nil.
type Deps struct {
	Users            repository.UserRepository
	Tokens           Tokens
	Ledger           ledger.Ledger
	Events           events.Publisher
	Metrics          *metrics.Metrics
	Log              *zap.Logger
	Now              func() time.Time
	DirectoryTimeout time.Duration
	StampTimeout     time.Duration
}

func (d *Deps) defaults() {
	if d.Ledger == nil {
		d.Ledger = ledger.Nop{}
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.DirectoryTimeout <= 0 {
		d.DirectoryTimeout = 3 * time.Second
	}
	if d.StampTimeout <= 0 {
		d.StampTimeout = 2 * time.Second
	}
}

// AuthServiceImpl implements AuthService over a user directory, the token
// manager and the refresh ledger.
type AuthServiceImpl struct {
	d         Deps
	validator *validate.Validator

	// background last-login stamps
	bg sync.WaitGroup
}

var (
	_ AuthService = (*AuthServiceImpl)(nil)
	_ Tokens      = (*token.Manager)(nil)
)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(d Deps) *AuthServiceImpl {
	d.defaults()
	return &AuthServiceImpl{d: d, validator: validate.New(d.Users)}
}

// Register creates a player or developer account and signs it in.
func (s *AuthServiceImpl) Register(ctx context.Context, in validate.RegisterInput) (res Result, err error) {
	const op = "register"
	defer func() { s.d.Metrics.Op(op, err) }()

	in = in.Normalize()
	dctx, cancel := context.WithTimeout(ctx, s.d.DirectoryTimeout)
	check, err := s.validator.Register(dctx, in)
	cancel()
	if err != nil {
		return Result{}, err
	}
	if !check.OK() {
		return Result{}, registrationError(op, check)
	}

	hash, err := pkgcrypto.HashPassword(in.Password)
	if err != nil {
		return Result{}, errs.E(errs.KindInternal, op, err)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return Result{}, errs.E(errs.KindInternal, op, err)
	}
	role := in.UserType
	if role == "" {
		role = model.RolePlayer
	}
	now := s.d.Now()
	u := &model.User{
		ID:          uid,
		Email:       in.Email,
		Username:    in.Username,
		DisplayName: in.DisplayName,
		Role:        role,
		IsActive:    true,
		PwdHash:     hash,
		CreatedAt:   now,
	}

	dctx, cancel = context.WithTimeout(ctx, s.d.DirectoryTimeout)
	err = s.d.Users.Create(dctx, u)
	cancel()
	switch {
	case errors.Is(err, errs.ErrEmailTaken):
		return Result{}, &errs.Error{Kind: errs.KindDuplicateEmail, Op: op, Err: err, Fields: map[string]string{"email": validate.ReasonTaken}}
	case errors.Is(err, errs.ErrUsernameTaken):
		return Result{}, &errs.Error{Kind: errs.KindDuplicateUsername, Op: op, Err: err, Fields: map[string]string{"username": validate.ReasonTaken}}
	case err != nil:
		return Result{}, errs.E(errs.KindDirectory, op, err)
	}

	tk, err := s.d.Tokens.Issue(u.Identity(), now)
	if err != nil {
		return Result{}, errs.E(errs.KindInternal, op, err)
	}
	s.publish(ctx, events.TypeUserRegistered, u, now)
	return Result{User: u.Public(), Tokens: tk}, nil
}

// registrationError names a duplicate when uniqueness is the only failure.
func registrationError(op string, check validate.Result) error {
	if len(check.Fields) == 1 {
		if check.Fields["email"] == validate.ReasonTaken {
			return &errs.Error{Kind: errs.KindDuplicateEmail, Op: op, Fields: check.Fields}
		}
		if check.Fields["username"] == validate.ReasonTaken {
			return &errs.Error{Kind: errs.KindDuplicateUsername, Op: op, Fields: check.Fields}
		}
	}
	return check.Err(op)
}

// Login authenticates by email and password. Unknown email and wrong password
// produce the same KindCredential error and cost the same hashing work.
func (s *AuthServiceImpl) Login(ctx context.Context, in validate.LoginInput) (res Result, err error) {
	const op = "login"
	defer func() { s.d.Metrics.Op(op, err) }()

	in.Email = validate.NormalizeEmail(in.Email)
	if check := validate.Login(in); !check.OK() {
		return Result{}, check.Err(op)
	}

	dctx, cancel := context.WithTimeout(ctx, s.d.DirectoryTimeout)
	u, err := s.d.Users.GetByEmail(dctx, in.Email)
	cancel()
	if errors.Is(err, errs.ErrNotFound) {
		pkgcrypto.BurnVerify(in.Password)
		return Result{}, errs.E(errs.KindCredential, op, errs.ErrUnauthorized)
	}
	if err != nil {
		return Result{}, errs.E(errs.KindDirectory, op, err)
	}

	ok, err := pkgcrypto.VerifyPassword(in.Password, u.PwdHash)
	if err != nil {
		s.d.Log.Error("stored password hash unreadable", zap.String("user_id", u.ID.String()), zap.Error(err))
		return Result{}, errs.E(errs.KindCredential, op, errs.ErrUnauthorized)
	}
	if !ok {
		return Result{}, errs.E(errs.KindCredential, op, errs.ErrUnauthorized)
	}
	if !u.IsActive {
		return Result{}, errs.E(errs.KindUserInactive, op, nil)
	}

	now := s.d.Now()
	tk, err := s.d.Tokens.Issue(u.Identity(), now)
	if err != nil {
		return Result{}, errs.E(errs.KindInternal, op, err)
	}
	s.stampLastLogin(ctx, u.ID, now)
	s.publish(ctx, events.TypeUserLoggedIn, u, now)

	u.LastLoginAt = &now
	return Result{User: u.Public(), Tokens: tk}, nil
}

// stampLastLogin updates last_login_at in the background. Failures are logged only.
func (s *AuthServiceImpl) stampLastLogin(ctx context.Context, id uuid.UUID, at time.Time) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.d.StampTimeout)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer cancel()
		if err := s.d.Users.TouchLastLogin(bctx, id, at); err != nil {
			s.d.Log.Warn("last login stamp failed", zap.String("user_id", id.String()), zap.Error(err))
		}
	}()
}

// Wait blocks until background stamps finish.
func (s *AuthServiceImpl) Wait() { s.bg.Wait() }

// Refresh verifies the refresh token, re-checks the directory and rotates the pair.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (res Result, err error) {
	const op = "refresh"
	defer func() { s.d.Metrics.Op(op, err) }()

	now := s.d.Now()
	rc, err := s.d.Tokens.ParseRefresh(refreshToken, now)
	if err != nil {
		return Result{}, err
	}
	uid, err := uuid.FromString(rc.UID)
	if err != nil {
		return Result{}, errs.E(errs.KindMalformed, op, err)
	}

	u, err := s.lookup(ctx, op, uid)
	if err != nil {
		return Result{}, err
	}

	// sign before spending the old token so a failure leaves it usable
	tk, err := s.d.Tokens.Issue(u.Identity(), now)
	if err != nil {
		return Result{}, errs.E(errs.KindInternal, op, err)
	}

	fresh, err := s.d.Ledger.Consume(ctx, rc.ID, rc.ExpiresAt.Time)
	if err != nil {
		return Result{}, errs.E(errs.KindDirectory, op, err)
	}
	if !fresh {
		s.d.Log.Warn("refresh token replayed", zap.String("user_id", uid.String()), zap.String("jti", rc.ID))
		return Result{}, errs.E(errs.KindRefreshReused, op, nil)
	}
	s.publish(ctx, events.TypeSessionRefreshed, u, now)
	return Result{User: u.Public(), Tokens: tk}, nil
}

// User loads a user by id for administrative lookups.
func (s *AuthServiceImpl) User(ctx context.Context, id uuid.UUID) (model.PublicUser, error) {
	dctx, cancel := context.WithTimeout(ctx, s.d.DirectoryTimeout)
	defer cancel()
	u, err := s.d.Users.GetByID(dctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return model.PublicUser{}, errs.E(errs.KindUserNotFound, "user", err)
	}
	if err != nil {
		return model.PublicUser{}, errs.E(errs.KindDirectory, "user", err)
	}
	return u.Public(), nil
}

// Ping checks the directory within the directory timeout.
func (s *AuthServiceImpl) Ping(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, s.d.DirectoryTimeout)
	defer cancel()
	return s.d.Users.Ping(dctx)
}

// lookup loads an active user or classifies why it could not.
func (s *AuthServiceImpl) lookup(ctx context.Context, op string, id uuid.UUID) (*model.User, error) {
	dctx, cancel := context.WithTimeout(ctx, s.d.DirectoryTimeout)
	defer cancel()
	return activeUser(dctx, s.d.Users, op, id)
}

func activeUser(ctx context.Context, users repository.UserRepository, op string, id uuid.UUID) (*model.User, error) {
	u, err := users.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.E(errs.KindUserNotFound, op, err)
	}
	if err != nil {
		return nil, errs.E(errs.KindDirectory, op, err)
	}
	if !u.IsActive {
		return nil, errs.E(errs.KindUserInactive, op, nil)
	}
	return u, nil
}

func (s *AuthServiceImpl) publish(ctx context.Context, typ string, u *model.User, at time.Time) {
	e := events.Event{Type: typ, UserID: u.ID.String(), Email: u.Email, Role: u.Role, At: at.UTC()}
	if err := s.d.Events.Publish(ctx, e); err != nil {
		s.d.Log.Warn("event publish failed", zap.String("type", typ), zap.Error(err))
	}
}
