package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// Constraint names from migrations/00001_users.sql.
const (
	constraintEmail    = "users_email_key"
	constraintUsername = "users_username_key"
)

const userColumns = `id, email, coalesce(username, ''), display_name, role, is_active, pwd_hash, last_login_at, created_at`

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row. An empty username is stored as NULL so it
// does not collide with other users that skipped it.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, email, username, display_name, role, is_active, pwd_hash)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.Email, u.Username, u.DisplayName, u.Role, u.IsActive, u.PwdHash)
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case constraintUsername:
			return errs.ErrUsernameTaken
		default:
			return errs.ErrEmailTaken
		}
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, email))
}

// EmailExists reports whether a row with this email exists.
func (r *UserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE email=$1)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, email).Scan(&ok); err != nil {
		return false, fmt.Errorf("email exists: %w", err)
	}
	return ok, nil
}

// UsernameExists reports whether a row with this username exists (case-insensitive).
func (r *UserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE lower(username)=lower($1))`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, username).Scan(&ok); err != nil {
		return false, fmt.Errorf("username exists: %w", err)
	}
	return ok, nil
}

// TouchLastLogin updates last_login_at.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE users SET last_login_at=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Ping checks the pool can reach the database.
func (r *UserRepo) Ping(ctx context.Context) error { return r.db.Pool.Ping(ctx) }

// scanUser distinguishes a missing row (errs.ErrNotFound) from a lookup failure,
// which callers must treat as transient.
func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.Role, &u.IsActive, &u.PwdHash, &u.LastLoginAt, &u.CreatedAt)
	switch {
	case err == nil:
		return &u, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errs.ErrNotFound
	default:
		return nil, fmt.Errorf("select user: %w", err)
	}
}
