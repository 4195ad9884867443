package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	subj string
	data []byte
	err  error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.subj, f.data = subj, data
	return f.err
}

func TestNATS_Publish(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	p := &NATS{nc: fc}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), Event{Type: TypeUserLoggedIn, UserID: "u1", Email: "a@b.co", Role: "player", At: at})
	require.NoError(t, err)
	require.Equal(t, "arena.auth.user.logged_in", fc.subj)

	var got map[string]any
	require.NoError(t, json.Unmarshal(fc.data, &got))
	require.Equal(t, "user.logged_in", got["type"])
	require.Equal(t, "u1", got["userId"])
	require.Equal(t, "2026-01-02T03:04:05Z", got["at"])
	require.NotContains(t, got, "token")
}

func TestNATS_PublishErrors(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := &NATS{nc: fc}
	require.Error(t, p.Publish(context.Background(), Event{Type: TypeUserRegistered}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fc.err = nil
	fc.subj = ""
	require.ErrorIs(t, p.Publish(ctx, Event{Type: TypeUserRegistered}), context.Canceled)
	require.Empty(t, fc.subj)
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()

	_, _, err := Connect("nats://127.0.0.1:1", zap.NewNop())
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	t.Parallel()

	var p Publisher = Nop{}
	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeSessionRefreshed}))
}
