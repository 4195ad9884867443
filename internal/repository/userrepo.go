// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/arena-auth/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository is the user directory consulted by verification and credential checks.
type UserRepository interface {
	// Create inserts a new user. Returns errs.ErrEmailTaken / errs.ErrUsernameTaken on conflicts.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by (lower-cased) email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// EmailExists reports whether the email is already registered.
	EmailExists(ctx context.Context, email string) (bool, error)
	// UsernameExists reports whether the username is already taken.
	UsernameExists(ctx context.Context, username string) (bool, error)
	// TouchLastLogin stamps the last successful login time.
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// Ping checks the directory is reachable.
	Ping(ctx context.Context) error
}
