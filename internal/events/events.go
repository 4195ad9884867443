// Package events publishes auth lifecycle notifications to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix is prepended to every event type.
const SubjectPrefix = "arena.auth."

// Event types.
const (
	TypeUserRegistered   = "user.registered"
	TypeUserLoggedIn     = "user.logged_in"
	TypeSessionRefreshed = "session.refreshed"
)

// Event is the JSON payload. It never carries tokens.
type Event struct {
	Type   string    `json:"type"`
	UserID string    `json:"userId"`
	Email  string    `json:"email,omitempty"`
	Role   string    `json:"role,omitempty"`
	At     time.Time `json:"at"`
}

// Subject is the NATS subject the event is published on.
func (e Event) Subject() string { return SubjectPrefix + e.Type }

// Publisher delivers events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// conn is the part of *nats.Conn used here.
type conn interface {
	Publish(subj string, data []byte) error
}

// NATS publishes events as JSON on core NATS.
type NATS struct {
	nc conn
}

// Connect dials url and returns a publisher plus a close func that drains the connection.
func Connect(url string, log *zap.Logger) (*NATS, func(), error) {
	nc, err := nats.Connect(url,
		nats.Name("arena-auth"),
		nats.Timeout(3*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			log.Warn("nats drain", zap.Error(err))
		}
	}
	return &NATS{nc: nc}, closeFn, nil
}

// Publish implements Publisher.
func (p *NATS) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.nc.Publish(e.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Subject(), err)
	}
	return nil
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
