package authstate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/and161185/arena-auth/internal/client/session"
	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/and161185/arena-auth/internal/token"
	"github.com/and161185/arena-auth/internal/validate"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 10 * time.Second
	defaultSkew    = 10 * time.Second
)

var (
	// ErrSuperseded is returned when a logout or a newer session overtook this operation.
	ErrSuperseded = errors.New("authstate: superseded by a newer operation")

	// ErrNoSession means there is no stored token pair to work with.
	ErrNoSession = errs.E(errs.KindCredential, "authstate", errors.New("no stored session"))
)

// API is the part of the auth endpoints the machine drives.
type API interface {
	Register(ctx context.Context, in validate.RegisterInput) (model.Session, error)
	Login(ctx context.Context, in validate.LoginInput) (model.Session, error)
	Me(ctx context.Context, access string) (model.PublicUser, error)
	Refresh(ctx context.Context, refresh string) (model.Session, error)
}

// Options tune a Machine. Zero values pick defaults.
type Options struct {
	Timeout time.Duration // per network call
	Skew    time.Duration // access tokens this close to expiry count as expired
	Now     func() time.Time
	Log     *zap.Logger
	// Retry builds the policy for RefreshWithRetry.
	Retry func() backoff.BackOff
}

// Machine owns the client's auth state. It is safe for concurrent use.
type Machine struct {
	api     API
	store   session.Store
	timeout time.Duration
	skew    time.Duration
	now     func() time.Time
	log     *zap.Logger
	retry   func() backoff.BackOff

	mu  sync.Mutex // serializes transitions together with their store writes
	cur atomic.Pointer[State]
	// epoch changes whenever the stored session is replaced or dropped by
	// anything other than a refresh. Guarded by mu.
	epoch uint64

	smu     sync.Mutex
	subs    map[int]func(State)
	nextSub int

	sf singleflight.Group
}

// New returns a Machine in StatusIdle.
func New(api API, store session.Store, o Options) *Machine {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Skew <= 0 {
		o.Skew = defaultSkew
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Retry == nil {
		o.Retry = defaultRetry
	}
	m := &Machine{
		api:     api,
		store:   store,
		timeout: o.Timeout,
		skew:    o.Skew,
		now:     o.Now,
		log:     o.Log,
		retry:   o.Retry,
		subs:    make(map[int]func(State)),
	}
	m.cur.Store(&State{Status: StatusIdle})
	return m
}

func defaultRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// State returns the current snapshot.
func (m *Machine) State() State { return *m.cur.Load() }

// Subscribe registers fn for every applied transition. fn runs synchronously and
// must not call Login, Register, Logout, CheckAuth or RefreshToken.
func (m *Machine) Subscribe(fn func(State)) (cancel func()) {
	m.smu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.smu.Unlock()
	return func() {
		m.smu.Lock()
		delete(m.subs, id)
		m.smu.Unlock()
	}
}

// dispatch applies a under m.mu and reports whether it was applied.
func (m *Machine) dispatch(a action) bool {
	prev := m.cur.Load()
	if stale(*prev, a) {
		return false
	}
	next := reduce(*prev, a)
	m.cur.Store(&next)
	m.log.Debug("auth state",
		zap.Stringer("from", prev.Status),
		zap.Stringer("to", next.Status),
		zap.Uint64("gen", next.Gen),
		zap.Error(next.Err),
	)

	m.smu.Lock()
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.smu.Unlock()
	for _, fn := range fns {
		fn(next)
	}
	return true
}

func (m *Machine) begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch(action{typ: actBegin})
	return m.cur.Load().Gen
}

func (m *Machine) settle(gen uint64, typ actionType, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch(action{typ: typ, gen: gen, err: err})
}

// establish persists s and moves to Authenticated unless gen is stale.
func (m *Machine) establish(op string, gen uint64, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Load().Gen != gen {
		return ErrSuperseded
	}
	if !s.Complete() {
		err := errs.E(errs.KindInternal, op, errors.New("server returned an incomplete token pair"))
		m.dispatch(action{typ: actFail, gen: gen, err: err})
		return err
	}
	if err := m.store.Set(session.Tokens{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}); err != nil {
		e := errs.E(errs.KindInternal, op, err)
		m.dispatch(action{typ: actFail, gen: gen, err: e})
		return e
	}
	m.epoch++
	m.dispatch(action{typ: actSucceed, gen: gen, session: s})
	return nil
}

// invalidate clears the store and moves to Unauthenticated unless gen is stale.
func (m *Machine) invalidate(gen uint64, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Load().Gen != gen {
		return
	}
	if err := m.store.Clear(); err != nil {
		m.log.Warn("clear session store", zap.Error(err))
	}
	m.epoch++
	m.dispatch(action{typ: actInvalidate, gen: gen, err: reason})
}

func (m *Machine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// Login authenticates with credentials. A failure never clears a stored session.
func (m *Machine) Login(ctx context.Context, in validate.LoginInput) error {
	const op = "authstate.Login"
	gen := m.begin()

	in.Email = validate.NormalizeEmail(in.Email)
	if res := validate.Login(in); !res.OK() {
		err := res.Err(op)
		m.settle(gen, actFail, err)
		return err
	}

	cctx, cancel := m.callCtx(ctx)
	s, err := m.api.Login(cctx, in)
	cancel()
	if err != nil {
		err = classify(op, err)
		m.settle(gen, actFail, err)
		return err
	}
	return m.establish(op, gen, s)
}

// Register creates an account after local shape checks and signs in with it.
func (m *Machine) Register(ctx context.Context, in validate.RegisterInput) error {
	const op = "authstate.Register"
	gen := m.begin()

	in = in.Normalize()
	if res := validate.RegisterShape(in); !res.OK() {
		err := res.Err(op)
		m.settle(gen, actFail, err)
		return err
	}

	cctx, cancel := m.callCtx(ctx)
	s, err := m.api.Register(cctx, in)
	cancel()
	if err != nil {
		err = classify(op, err)
		m.settle(gen, actFail, err)
		return err
	}
	return m.establish(op, gen, s)
}

// Logout clears the stored session. It is valid in every state, and any
// operation still in flight loses its result.
func (m *Machine) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.Clear()
	m.epoch++
	m.dispatch(action{typ: actLogout})
	if err != nil {
		return errs.E(errs.KindInternal, "authstate.Logout", err)
	}
	return nil
}

// RefreshToken trades the stored refresh token for a new pair. Concurrent calls
// share one request. A failure leaves the store untouched.
func (m *Machine) RefreshToken(ctx context.Context) (bool, error) {
	_, err := m.refresh(ctx)
	return err == nil, err
}

// RefreshWithRetry is RefreshToken with backoff on transient failures.
func (m *Machine) RefreshWithRetry(ctx context.Context) (bool, error) {
	attempt := func() error {
		_, err := m.refresh(ctx)
		if err == nil || errs.KindOf(err).IsTransient() {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(attempt, backoff.WithContext(m.retry(), ctx))
	return err == nil, err
}

func (m *Machine) refresh(ctx context.Context) (model.Session, error) {
	ch := m.sf.DoChan("refresh", func() (any, error) {
		return m.doRefresh(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return model.Session{}, r.Err
		}
		return r.Val.(model.Session), nil
	case <-ctx.Done():
		return model.Session{}, errs.E(errs.KindTransport, "authstate.Refresh", ctx.Err())
	}
}

func (m *Machine) doRefresh(ctx context.Context) (model.Session, error) {
	const op = "authstate.Refresh"
	m.mu.Lock()
	epoch := m.epoch
	t, err := m.store.Get()
	m.mu.Unlock()
	if err != nil {
		return model.Session{}, errs.E(errs.KindInternal, op, err)
	}
	if t == nil {
		return model.Session{}, ErrNoSession
	}

	cctx, cancel := m.callCtx(ctx)
	s, err := m.api.Refresh(cctx, t.RefreshToken)
	cancel()
	if err != nil {
		return model.Session{}, classify(op, err)
	}
	if !s.Complete() {
		return model.Session{}, errs.E(errs.KindInternal, op, errors.New("server returned an incomplete token pair"))
	}

	// the server has already rotated the pair; only a session change that did
	// not come from refreshing may drop it
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return model.Session{}, ErrSuperseded
	}
	if err := m.store.Set(session.Tokens{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}); err != nil {
		return model.Session{}, errs.E(errs.KindInternal, op, err)
	}
	m.dispatch(action{typ: actRefreshed, session: s})
	return s, nil
}

// CheckAuth restores the session from the store. An expired access token is
// refreshed transparently. The store is cleared only when the server confirms the
// session is unusable; transport failures end in StatusError with the store kept.
func (m *Machine) CheckAuth(ctx context.Context) State {
	const op = "authstate.CheckAuth"
	gen := m.begin()

	t, err := m.store.Get()
	if err != nil {
		m.settle(gen, actTransient, errs.E(errs.KindInternal, op, err))
		return m.State()
	}
	if t == nil {
		m.settle(gen, actInvalidate, nil)
		return m.State()
	}

	if m.fresh(t.AccessToken) {
		cctx, cancel := m.callCtx(ctx)
		u, err := m.api.Me(cctx, t.AccessToken)
		cancel()
		switch {
		case err == nil:
			m.mu.Lock()
			// a refresh may have rotated the pair while /auth/me was in flight
			if cur, err := m.store.Get(); err == nil && cur != nil {
				t = cur
			}
			m.dispatch(action{typ: actSucceed, gen: gen, session: model.Session{
				User:         u,
				AccessToken:  t.AccessToken,
				RefreshToken: t.RefreshToken,
			}})
			m.mu.Unlock()
			return m.State()
		case errs.KindOf(err).IsToken():
			// the server rejected the access token; try the refresh token
		case confirmed(err):
			m.invalidate(gen, err)
			return m.State()
		default:
			m.settle(gen, actTransient, classify(op, err))
			return m.State()
		}
	}

	s, err := m.refresh(ctx)
	switch {
	case err == nil:
		m.mu.Lock()
		m.dispatch(action{typ: actSucceed, gen: gen, session: s})
		m.mu.Unlock()
	case errors.Is(err, ErrSuperseded):
		// a logout or a new login owns the state now
	case confirmed(err):
		m.invalidate(gen, err)
	default:
		m.settle(gen, actTransient, err)
	}
	return m.State()
}

func (m *Machine) fresh(access string) bool {
	exp, err := token.PeekExpiry(access)
	if err != nil {
		return false
	}
	return m.now().Add(m.skew).Before(exp)
}

// confirmed reports whether err proves the stored session is unusable.
func confirmed(err error) bool {
	k := errs.KindOf(err)
	return k.IsToken() || k == errs.KindCredential || k == errs.KindUserNotFound || k == errs.KindUserInactive
}

// classify makes sure err carries a kind; deadlines count as transport failures.
func classify(op string, err error) error {
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.E(errs.KindTransport, op, err)
	}
	return errs.E(errs.KindUnknown, op, err)
}
