package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/arena-auth/internal/crypto"
	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/events"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/and161185/arena-auth/internal/repository/memory"
	"github.com/and161185/arena-auth/internal/token"
	"github.com/and161185/arena-auth/internal/validate"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeEvents struct {
	mu  sync.Mutex
	got []events.Event
	err error
}

func (f *fakeEvents) Publish(_ context.Context, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, e)
	return f.err
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.got))
	for _, e := range f.got {
		out = append(out, e.Type)
	}
	return out
}

type fakeLedger struct {
	mu   sync.Mutex
	used map[string]bool
	err  error
}

func (l *fakeLedger) Consume(_ context.Context, jti string, _ time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.used == nil {
		l.used = map[string]bool{}
	}
	if l.used[jti] {
		return false, nil
	}
	l.used[jti] = true
	return true, nil
}

type fixture struct {
	users  *memory.Users
	clock  *clock
	events *fakeEvents
	ledger *fakeLedger
	svc    *AuthServiceImpl
	ver    *Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tm, err := token.NewManager(token.Config{
		Key:        []byte("0123456789abcdef0123456789abcdef"),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "arena-auth",
	})
	require.NoError(t, err)

	f := &fixture{
		users:  memory.NewUsers(),
		clock:  &clock{t: time.Now().Truncate(time.Second)},
		events: &fakeEvents{},
		ledger: &fakeLedger{},
	}
	d := Deps{
		Users:  f.users,
		Tokens: tm,
		Ledger: f.ledger,
		Events: f.events,
		Log:    zaptest.NewLogger(t),
		Now:    f.clock.Now,
	}
	f.svc = NewAuthService(d)
	f.ver = NewVerifier(d)
	t.Cleanup(f.svc.Wait)
	return f
}

// seed stores an active user with the given password.
func (f *fixture) seed(t *testing.T, email, password, role string) model.User {
	t.Helper()
	hash, err := pkgcrypto.HashPassword(password)
	require.NoError(t, err)
	u := model.User{ID: uuid.Must(uuid.NewV4()), Email: email, Role: role, IsActive: true, PwdHash: hash, CreatedAt: time.Now()}
	f.users.Put(u)
	return u
}

func regInput() validate.RegisterInput {
	return validate.RegisterInput{Email: "Alice@Example.com", Password: "s3cretpass", Username: "alice"}
}

func TestAuth_Register_IssuesVerifiableSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, regInput())
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", res.User.Email, "email is normalized")
	require.Equal(t, model.RolePlayer, res.User.Role, "default role")
	require.True(t, res.User.IsActive)
	require.NotEmpty(t, res.Tokens.AccessToken)
	require.NotEmpty(t, res.Tokens.RefreshToken)

	claims, err := f.ver.Verify(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, res.User.ID, claims.UserID.String())
	require.Equal(t, "alice@example.com", claims.Email)

	stored, err := f.users.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotContains(t, stored.PwdHash, "s3cretpass")
	ok, err := pkgcrypto.VerifyPassword("s3cretpass", stored.PwdHash)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []string{events.TypeUserRegistered}, f.events.types())
}

func TestAuth_Register_Developer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	in := regInput()
	in.UserType = "developer"
	res, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, model.RoleDeveloper, res.User.Role)
}

func TestAuth_Register_Failures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	in := regInput()
	in.Password = "short"
	_, err := f.svc.Register(ctx, in)
	require.Equal(t, errs.KindValidation, errs.KindOf(err))
	require.Contains(t, errs.FieldsOf(err), "password")

	in = regInput()
	in.UserType = model.RoleAdmin
	_, err = f.svc.Register(ctx, in)
	require.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = f.svc.Register(ctx, regInput())
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, regInput())
	require.Equal(t, errs.KindDuplicateEmail, errs.KindOf(err))

	in = regInput()
	in.Email = "other@example.com"
	in.Username = "ALICE"
	_, err = f.svc.Register(ctx, in)
	require.Equal(t, errs.KindDuplicateUsername, errs.KindOf(err))

	// taken email plus a bad password is a plain validation failure
	in = regInput()
	in.Password = "nodigits!"
	_, err = f.svc.Register(ctx, in)
	require.Equal(t, errs.KindValidation, errs.KindOf(err))

	f.users.Fail(errors.New("db down"))
	in = regInput()
	in.Email = "third@example.com"
	in.Username = ""
	_, err = f.svc.Register(ctx, in)
	require.Equal(t, errs.KindDirectory, errs.KindOf(err))
}

// raceUsers passes the uniqueness pre-check but loses the insert.
type raceUsers struct {
	*memory.Users
	createErr error
}

func (r raceUsers) EmailExists(context.Context, string) (bool, error)    { return false, nil }
func (r raceUsers) UsernameExists(context.Context, string) (bool, error) { return false, nil }
func (r raceUsers) Create(context.Context, *model.User) error            { return r.createErr }

func TestAuth_Register_InsertRaceIsNamed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for want, cerr := range map[errs.Kind]error{
		errs.KindDuplicateEmail:    errs.ErrEmailTaken,
		errs.KindDuplicateUsername: errs.ErrUsernameTaken,
		errs.KindDirectory:         errors.New("conn reset"),
	} {
		d := f.svc.d
		d.Users = raceUsers{Users: f.users, createErr: cerr}
		svc := NewAuthService(d)
		_, err := svc.Register(context.Background(), regInput())
		require.Equal(t, want, errs.KindOf(err), "create err %v", cerr)
	}
}

func TestAuth_Login_Success_StampsLastLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	u := f.seed(t, "bob@example.com", "hunter22x", model.RolePlayer)

	res, err := f.svc.Login(ctx, validate.LoginInput{Email: " BOB@example.com ", Password: "hunter22x"})
	require.NoError(t, err)
	require.Equal(t, u.ID.String(), res.User.ID)
	require.NotNil(t, res.User.LastLoginAt)
	require.Equal(t, 15*time.Minute, res.Tokens.ExpiresIn)

	f.svc.Wait()
	require.Equal(t, 1, f.users.Touches())
	stored, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	require.Contains(t, f.events.types(), events.TypeUserLoggedIn)
}

func TestAuth_Login_WrongPasswordThreeTimes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	u := f.seed(t, "carol@example.com", "correct1pw", model.RolePlayer)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, validate.LoginInput{Email: "carol@example.com", Password: "wrong1pw"})
		require.Equal(t, errs.KindCredential, errs.KindOf(err), "attempt %d", i+1)
	}
	f.svc.Wait()
	require.Equal(t, 0, f.users.Touches())

	stored, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, stored.IsActive, "no lockout")
	require.Nil(t, stored.LastLoginAt)

	// the correct password still works afterwards
	_, err = f.svc.Login(ctx, validate.LoginInput{Email: "carol@example.com", Password: "correct1pw"})
	require.NoError(t, err)
}

func TestAuth_Login_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, "dave@example.com", "correct1pw", model.RolePlayer)

	_, errUnknown := f.svc.Login(context.Background(), validate.LoginInput{Email: "nobody@example.com", Password: "whatever1"})
	_, errWrong := f.svc.Login(context.Background(), validate.LoginInput{Email: "dave@example.com", Password: "whatever1"})
	require.Equal(t, errs.KindCredential, errs.KindOf(errUnknown))
	require.Equal(t, errs.KindOf(errUnknown), errs.KindOf(errWrong))
	require.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestAuth_Login_Failures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	u := f.seed(t, "erin@example.com", "correct1pw", model.RolePlayer)

	_, err := f.svc.Login(ctx, validate.LoginInput{Email: "not-an-email", Password: "x"})
	require.Equal(t, errs.KindValidation, errs.KindOf(err))

	f.users.Update(u.ID, func(u *model.User) { u.IsActive = false })
	_, err = f.svc.Login(ctx, validate.LoginInput{Email: "erin@example.com", Password: "correct1pw"})
	require.Equal(t, errs.KindUserInactive, errs.KindOf(err))

	f.users.Update(u.ID, func(u *model.User) { u.PwdHash = "garbage" })
	_, err = f.svc.Login(ctx, validate.LoginInput{Email: "erin@example.com", Password: "correct1pw"})
	require.Equal(t, errs.KindCredential, errs.KindOf(err))

	f.users.Fail(errors.New("db down"))
	_, err = f.svc.Login(ctx, validate.LoginInput{Email: "erin@example.com", Password: "correct1pw"})
	require.Equal(t, errs.KindDirectory, errs.KindOf(err))
}

// stampFailUsers fails only the last-login write.
type stampFailUsers struct{ *memory.Users }

func (stampFailUsers) TouchLastLogin(context.Context, uuid.UUID, time.Time) error {
	return errors.New("write timeout")
}

func TestAuth_Login_StampFailureDoesNotFailLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, "fay@example.com", "correct1pw", model.RolePlayer)

	d := f.svc.d
	d.Users = stampFailUsers{f.users}
	svc := NewAuthService(d)

	res, err := svc.Login(context.Background(), validate.LoginInput{Email: "fay@example.com", Password: "correct1pw"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Tokens.AccessToken)
	svc.Wait()
}

func TestAuth_Login_EventFailureIsIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, "gus@example.com", "correct1pw", model.RolePlayer)
	f.events.err = errors.New("nats down")

	_, err := f.svc.Login(context.Background(), validate.LoginInput{Email: "gus@example.com", Password: "correct1pw"})
	require.NoError(t, err)
}

func TestAuth_Refresh_RotatesPair(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Register(ctx, regInput())
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute) // access token is now expired
	_, err = f.ver.Verify(ctx, first.Tokens.AccessToken)
	require.Equal(t, errs.KindExpired, errs.KindOf(err))

	second, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.Tokens.AccessToken, second.Tokens.AccessToken)
	require.NotEqual(t, first.Tokens.RefreshToken, second.Tokens.RefreshToken)
	require.True(t, second.Tokens.ExpiresAt.After(first.Tokens.ExpiresAt))

	prevExp, err := token.PeekExpiry(first.Tokens.AccessToken)
	require.NoError(t, err)
	nextExp, err := token.PeekExpiry(second.Tokens.AccessToken)
	require.NoError(t, err)
	require.True(t, nextExp.After(prevExp))

	_, err = f.ver.Verify(ctx, second.Tokens.AccessToken)
	require.NoError(t, err)
	require.Contains(t, f.events.types(), events.TypeSessionRefreshed)
}

func TestAuth_Refresh_ReuseRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Register(ctx, regInput())
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.Equal(t, errs.KindRefreshReused, errs.KindOf(err))

	f.ledger.err = errors.New("redis down")
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.Equal(t, errs.KindDirectory, errs.KindOf(err))
}

type failingIssuer struct {
	Tokens
	err error
}

func (f failingIssuer) Issue(model.Identity, time.Time) (model.Tokens, error) {
	return model.Tokens{}, f.err
}

func TestAuth_Refresh_SigningFailureKeepsTokenUsable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Register(ctx, regInput())
	require.NoError(t, err)
	f.svc.Wait()

	tm := f.svc.d.Tokens
	f.svc.d.Tokens = failingIssuer{Tokens: tm, err: errors.New("signer unavailable")}
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.Equal(t, errs.KindInternal, errs.KindOf(err))
	f.ledger.mu.Lock()
	require.Empty(t, f.ledger.used, "jti must not be spent when no pair was issued")
	f.ledger.mu.Unlock()

	f.svc.d.Tokens = tm
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestAuth_Refresh_Failures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Register(ctx, regInput())
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, first.Tokens.AccessToken)
	require.Equal(t, errs.KindMalformed, errs.KindOf(err), "access token is not a refresh token")

	_, err = f.svc.Refresh(ctx, "junk")
	require.Equal(t, errs.KindMalformed, errs.KindOf(err))

	uid := uuid.FromStringOrNil(first.User.ID)
	f.users.Update(uid, func(u *model.User) { u.IsActive = false })
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.Equal(t, errs.KindUserInactive, errs.KindOf(err))

	f.users.Delete(uid)
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.Equal(t, errs.KindUserNotFound, errs.KindOf(err))

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.Equal(t, errs.KindExpired, errs.KindOf(err))
}

func TestAuth_UserAndPing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	u := f.seed(t, "hal@example.com", "correct1pw", model.RoleDeveloper)

	pu, err := f.svc.User(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "hal@example.com", pu.Email)

	_, err = f.svc.User(ctx, uuid.Must(uuid.NewV4()))
	require.Equal(t, errs.KindUserNotFound, errs.KindOf(err))

	require.NoError(t, f.svc.Ping(ctx))
	f.users.Fail(errors.New("down"))
	require.Error(t, f.svc.Ping(ctx))
	_, err = f.svc.User(ctx, u.ID)
	require.Equal(t, errs.KindDirectory, errs.KindOf(err))
}
