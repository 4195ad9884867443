// Package memory is an in-process user directory used as a test double by the
// service, HTTP and CLI tests. The server always runs against Postgres.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/model"
	"github.com/and161185/arena-auth/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// Users implements repository.UserRepository over a map.
type Users struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*model.User
	fail  error
	touch int
}

var _ repository.UserRepository = (*Users)(nil)

// NewUsers returns an empty directory.
func NewUsers() *Users {
	return &Users{byID: map[uuid.UUID]*model.User{}}
}

// Fail makes every subsequent call return err; nil restores normal operation.
func (r *Users) Fail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

// Put inserts or replaces u without uniqueness checks.
func (r *Users) Put(u model.User) {
	r.mu.Lock()
	r.byID[u.ID] = &u
	r.mu.Unlock()
}

// Update applies fn to the stored user with id.
func (r *Users) Update(id uuid.UUID, fn func(*model.User)) {
	r.mu.Lock()
	if u, ok := r.byID[id]; ok {
		fn(u)
	}
	r.mu.Unlock()
}

// Delete removes the user with id.
func (r *Users) Delete(id uuid.UUID) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// Touches reports how many last-login stamps succeeded.
func (r *Users) Touches() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.touch
}

// Create implements repository.UserRepository.
func (r *Users) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	for _, x := range r.byID {
		if x.Email == u.Email {
			return errs.ErrEmailTaken
		}
		if u.Username != "" && strings.EqualFold(x.Username, u.Username) {
			return errs.ErrUsernameTaken
		}
	}
	cpy := *u
	if cpy.CreatedAt.IsZero() {
		cpy.CreatedAt = time.Now().UTC()
	}
	r.byID[u.ID] = &cpy
	return nil
}

// GetByID implements repository.UserRepository.
func (r *Users) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fail != nil {
		return nil, r.fail
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

// GetByEmail implements repository.UserRepository.
func (r *Users) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fail != nil {
		return nil, r.fail
	}
	for _, u := range r.byID {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

// EmailExists implements repository.UserRepository.
func (r *Users) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// UsernameExists implements repository.UserRepository.
func (r *Users) UsernameExists(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fail != nil {
		return false, r.fail
	}
	for _, u := range r.byID {
		if u.Username != "" && strings.EqualFold(u.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

// TouchLastLogin implements repository.UserRepository.
func (r *Users) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.fail != nil {
		return r.fail
	}
	u, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	t := at
	u.LastLoginAt = &t
	r.touch++
	return nil
}

// Ping implements repository.UserRepository.
func (r *Users) Ping(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fail
}
