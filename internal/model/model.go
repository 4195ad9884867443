// Package model defines domain entities used by services, repositories and the client.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Roles known to the directory.
const (
	RoleAdmin     = "admin"
	RolePlayer    = "player"
	RoleDeveloper = "developer"
)

// User represents an account stored in the directory. The password is never stored in plaintext.
type User struct {
	ID          uuid.UUID // PK
	Email       string    // unique, lower-cased
	Username    string    // unique, optional
	DisplayName string
	Role        string
	IsActive    bool
	PwdHash     string // encoded argon2id
	LastLoginAt *time.Time
	CreatedAt   time.Time
}

// Identity is the subset of a user the token lifecycle cares about.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email, Role: u.Role, IsActive: u.IsActive}
}

// Public strips secrets for responses.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID.String(),
		Email:       u.Email,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// Identity is {id, email, role, isActive} as owned by the directory.
type Identity struct {
	ID       uuid.UUID
	Email    string
	Role     string
	IsActive bool
}

// PublicUser is the user representation exchanged over HTTP and held by the client.
type PublicUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username,omitempty"`
	DisplayName string     `json:"displayName,omitempty"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Tokens collects a freshly issued access/refresh pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration // access token lifetime
	ExpiresAt    time.Time     // access token expiry
}

// Claims is what a verified access token yields after the directory cross-check.
type Claims struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

// IsAdmin reports whether the live directory role is admin.
func (c Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// Session is the client-visible bundle. It is only valid with both tokens present.
type Session struct {
	User         PublicUser
	AccessToken  string
	RefreshToken string
}

// Complete reports whether both tokens are present.
func (s Session) Complete() bool { return s.AccessToken != "" && s.RefreshToken != "" }
