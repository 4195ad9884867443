// Package errs contains sentinel errors and the typed error kinds used across layers
// for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication (bad email or password).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEmailTaken indicates the users_email_key unique constraint fired.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUsernameTaken indicates the users_username_key unique constraint fired.
	ErrUsernameTaken = errors.New("username already taken")
)
