// Package ledger records consumed refresh tokens so each one can rotate at most once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces consumed refresh token ids.
const KeyPrefix = "refresh:used:"

// minTTL keeps a marker alive for tokens that are at their expiry edge.
const minTTL = time.Second

// Ledger marks refresh token ids as used.
type Ledger interface {
	// Consume marks jti used until the token's expiry. It reports false when jti
	// was already consumed.
	Consume(ctx context.Context, jti string, until time.Time) (bool, error)
}

// Redis is a Ledger on SET NX PX.
type Redis struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedis returns a Ledger on rdb.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, now: time.Now}
}

// Consume implements Ledger.
func (l *Redis) Consume(ctx context.Context, jti string, until time.Time) (bool, error) {
	if jti == "" {
		return false, errors.New("ledger: empty jti")
	}
	ttl := until.Sub(l.now())
	if ttl < minTTL {
		ttl = minTTL
	}
	ok, err := l.rdb.SetNX(ctx, KeyPrefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ledger setnx: %w", err)
	}
	return ok, nil
}

// Ping checks Redis is reachable.
func (l *Redis) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Nop accepts every refresh token; rotation is then by convention only.
type Nop struct{}

// Consume implements Ledger.
func (Nop) Consume(context.Context, string, time.Time) (bool, error) { return true, nil }
