// Package elevation implements the admin-elevation workflow: a USER asks for
// the ADMIN role, a SUPER_ADMIN approves or rejects, and an approved admin
// can later be demoted back to USER.
package elevation

import (
	"errors"
	"fmt"
	"time"
)

// Status of an admin request. PENDING is the only mutable state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

var (
	ErrNotFound          = errors.New("elevation: request not found")
	ErrNotPending        = errors.New("elevation: request already resolved")
	ErrDuplicatePending  = errors.New("elevation: pending request already exists")
	ErrAlreadyPrivileged = errors.New("elevation: account already holds an admin role")
	ErrNotAdmin          = errors.New("elevation: account does not hold the ADMIN role")
	ErrInvalidInput      = errors.New("elevation: invalid input")
)

// Request is one row of the elevation workflow. ResolvedBy and ResolvedAt are
// set exactly once, when the request leaves PENDING.
type Request struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Status          Status     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusApproved, StatusRejected:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
}
