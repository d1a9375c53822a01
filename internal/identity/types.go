// Package identity owns user accounts and session lifecycle: registration,
// credential verification, opaque session tokens, and account locking.
package identity

import (
	"errors"
	"time"

	"crimewatch.org/internal/authz"
)

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrEmailTaken         = errors.New("identity: email already registered")
	ErrInvalidCredentials = errors.New("identity: invalid email or password")
	ErrSessionInvalid     = errors.New("identity: invalid or expired session")
	ErrAccountInactive    = errors.New("identity: account is inactive")
	ErrAlreadyLocked      = errors.New("identity: account already locked")
	ErrNotLocked          = errors.New("identity: account is not locked")
	ErrProtectedAccount   = errors.New("identity: account cannot be locked")
	ErrInvalidInput       = errors.New("identity: invalid input")
)

// User is an account in the three-tier role hierarchy. SUPER_ADMIN is never
// produced by any mutating API; only the out-of-band seed path creates it.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         authz.Role `json:"role"`
	Active       bool       `json:"active"`
	Locked       bool       `json:"locked"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Actor converts the persisted user into a policy-engine actor.
func (u User) Actor() authz.Actor {
	return authz.Actor{ID: u.ID, Role: u.Role, Locked: u.Locked}
}

// Session is an opaque revocable token bound to one user. Only the SHA-256
// hash of the token is stored; the plaintext exists in the login response.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// Live reports whether the session still authorizes requests at the given
// instant.
func (s Session) Live(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
