package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb), mr
}

func TestRedis_ConsumeOnce(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()
	until := time.Now().Add(time.Hour)

	ok, err := l.Consume(ctx, "jti-1", until)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Consume(ctx, "jti-1", until)
	require.NoError(t, err)
	require.False(t, ok, "second consume must be rejected")

	ok, err = l.Consume(ctx, "jti-2", until)
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, mr.Exists(KeyPrefix+"jti-1"))
	ttl := mr.TTL(KeyPrefix + "jti-1")
	require.Greater(t, ttl, 59*time.Minute)
	require.LessOrEqual(t, ttl, time.Hour)
}

func TestRedis_MarkerExpiresWithToken(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	ok, err := l.Consume(ctx, "jti-1", time.Now().Add(10*time.Second))
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)
	require.False(t, mr.Exists(KeyPrefix+"jti-1"))
}

func TestRedis_PastExpiryGetsMinTTL(t *testing.T) {
	l, mr := newTestLedger(t)

	ok, err := l.Consume(context.Background(), "old", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, minTTL, mr.TTL(KeyPrefix+"old"))
}

func TestRedis_Errors(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Consume(ctx, "", time.Now().Add(time.Hour))
	require.Error(t, err)

	require.NoError(t, l.Ping(ctx))
	mr.Close()
	_, err = l.Consume(ctx, "jti", time.Now().Add(time.Hour))
	require.Error(t, err)
	require.Error(t, l.Ping(ctx))
}

func TestNop(t *testing.T) {
	t.Parallel()

	var l Ledger = Nop{}
	for i := 0; i < 2; i++ {
		ok, err := l.Consume(context.Background(), "same", time.Now())
		require.NoError(t, err)
		require.True(t, ok)
	}
}
