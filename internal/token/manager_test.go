package token

import (
	"strings"
	"testing"
	"time"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Key:        testKey,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "arena-auth",
	})
	require.NoError(t, err)
	return m
}

func identity() model.Identity {
	return model.Identity{ID: uuid.Must(uuid.NewV4()), Email: "alice@example.com", Role: model.RolePlayer, IsActive: true}
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()

	cases := map[string]Config{
		"short key":         {Key: []byte("short"), AccessTTL: time.Minute, RefreshTTL: time.Hour},
		"zero access":       {Key: testKey, AccessTTL: 0, RefreshTTL: time.Hour},
		"refresh <= access": {Key: testKey, AccessTTL: time.Hour, RefreshTTL: time.Hour},
		"negative leeway":   {Key: testKey, AccessTTL: time.Minute, RefreshTTL: time.Hour, Leeway: -time.Second},
	}
	for name, cfg := range cases {
		_, err := NewManager(cfg)
		require.Error(t, err, name)
	}
}

func TestIssue_ThenParse_OK(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	id := identity()
	now := time.Now()

	tk, err := m.Issue(id, now)
	require.NoError(t, err)
	require.NotEmpty(t, tk.AccessToken)
	require.NotEmpty(t, tk.RefreshToken)
	require.Equal(t, 15*time.Minute, tk.ExpiresIn)
	require.Equal(t, now.Add(15*time.Minute), tk.ExpiresAt)

	ac, err := m.ParseAccess(tk.AccessToken, now)
	require.NoError(t, err)
	require.Equal(t, id.ID.String(), ac.UID)
	require.Equal(t, id.Email, ac.Email)
	require.Equal(t, "arena-auth", ac.Issuer)

	rc, err := m.ParseRefresh(tk.RefreshToken, now)
	require.NoError(t, err)
	require.Equal(t, TypeRefresh, rc.Typ)
	require.NotEmpty(t, rc.ID)
	require.True(t, rc.ExpiresAt.After(ac.ExpiresAt.Time), "refresh must outlive access")
}

func TestIssue_EmptyIdentity(t *testing.T) {
	t.Parallel()

	_, err := newTestManager(t).Issue(model.Identity{}, time.Now())
	require.Error(t, err)
}

func TestIssue_SameInstantYieldsDistinctTokens(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	id := identity()
	now := time.Now()

	a, err := m.Issue(id, now)
	require.NoError(t, err)
	b, err := m.Issue(id, now)
	require.NoError(t, err)
	require.NotEqual(t, a.AccessToken, b.AccessToken)
	require.NotEqual(t, a.RefreshToken, b.RefreshToken)
}

func TestParseAccess_Expired(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	now := time.Now()
	tk, err := m.Issue(identity(), now)
	require.NoError(t, err)

	_, err = m.ParseAccess(tk.AccessToken, tk.ExpiresAt.Add(time.Second))
	require.Equal(t, errs.KindExpired, errs.KindOf(err))

	_, err = m.ParseRefresh(tk.RefreshToken, now.Add(8*24*time.Hour))
	require.Equal(t, errs.KindExpired, errs.KindOf(err))
}

func TestParseAccess_SignatureInvalid(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	other, err := NewManager(Config{
		Key:        []byte("ffffffffffffffffffffffffffffffff"),
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Issuer:     "arena-auth",
	})
	require.NoError(t, err)

	now := time.Now()
	tk, err := other.Issue(identity(), now)
	require.NoError(t, err)

	_, err = m.ParseAccess(tk.AccessToken, now)
	require.Equal(t, errs.KindSignatureInvalid, errs.KindOf(err))

	// wrong alg is a signature problem too
	id := identity()
	c := AccessClaims{UID: id.ID.String(), Email: id.Email, RegisteredClaims: jwt.RegisteredClaims{
		Subject: id.ID.String(), Issuer: "arena-auth", ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS384, c).SignedString(testKey)
	require.NoError(t, err)
	_, err = m.ParseAccess(s, now)
	require.Equal(t, errs.KindSignatureInvalid, errs.KindOf(err))
}

func TestParseAccess_Malformed(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	now := time.Now()

	for _, raw := range []string{"", "not-a-jwt", "a.b.c", strings.Repeat("x", 300)} {
		_, err := m.ParseAccess(raw, now)
		require.Equal(t, errs.KindMalformed, errs.KindOf(err), "raw=%q", raw)
	}

	tk, err := m.Issue(identity(), now)
	require.NoError(t, err)

	// refresh token is never accepted as an access token and vice versa
	_, err = m.ParseAccess(tk.RefreshToken, now)
	require.Equal(t, errs.KindMalformed, errs.KindOf(err))
	_, err = m.ParseRefresh(tk.AccessToken, now)
	require.Equal(t, errs.KindMalformed, errs.KindOf(err))
}

func TestParseAccess_MissingExpIsMalformed(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	id := identity()
	c := AccessClaims{UID: id.ID.String(), Email: id.Email, RegisteredClaims: jwt.RegisteredClaims{
		Subject: id.ID.String(), Issuer: "arena-auth",
	}}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(testKey)
	require.NoError(t, err)

	_, err = m.ParseAccess(s, time.Now())
	require.Equal(t, errs.KindMalformed, errs.KindOf(err))
}

func TestParseAccess_WrongIssuer(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	other, err := NewManager(Config{Key: testKey, AccessTTL: time.Minute, RefreshTTL: time.Hour, Issuer: "someone-else"})
	require.NoError(t, err)

	now := time.Now()
	tk, err := other.Issue(identity(), now)
	require.NoError(t, err)
	_, err = m.ParseAccess(tk.AccessToken, now)
	require.Equal(t, errs.KindMalformed, errs.KindOf(err))
}

func TestPeekExpiry(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	now := time.Now()
	tk, err := m.Issue(identity(), now)
	require.NoError(t, err)

	exp, err := PeekExpiry(tk.AccessToken)
	require.NoError(t, err)
	require.Equal(t, tk.ExpiresAt.Unix(), exp.Unix())

	_, err = PeekExpiry("garbage")
	require.Equal(t, errs.KindMalformed, errs.KindOf(err))
}
