// Package audit defines the append-only ledger of privileged actions.
// Entries are never updated or deleted; corrections are made by writing
// compensating entries.
package audit

import (
	"context"
	"errors"
	"time"
)

// Action kinds recorded in the ledger.
const (
	ActionUserRegistered     = "user.register"
	ActionUserLogin          = "user.login"
	ActionUserLogout         = "user.logout"
	ActionUserLocked         = "user.lock"
	ActionUserUnlocked       = "user.unlock"
	ActionElevationRequested = "elevation.request"
	ActionElevationApproved  = "elevation.approve"
	ActionElevationRejected  = "elevation.reject"
	ActionAdminRevoked       = "elevation.revoke"
	ActionReportCreated      = "report.create"
	ActionStatusChanged      = "report.status_change"
	ActionPriorityChanged    = "report.priority_change"
	ActionNotesChanged       = "report.notes_change"
	ActionReportDeleted      = "report.delete"
)

// Resource types referenced by entries.
const (
	ResourceUser         = "user"
	ResourceSession      = "session"
	ResourceAdminRequest = "admin_request"
	ResourceCrimeReport  = "crime_report"
)

// Outcome of the audited attempt.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
)

var (
	ErrNotFound     = errors.New("audit: not found")
	ErrInvalidInput = errors.New("audit: invalid input")
)

// Entry is one immutable ledger record.
type Entry struct {
	ID           string            `json:"id"`
	ActorID      string            `json:"actor_id,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Outcome      string            `json:"outcome"`
	Detail       map[string]string `json:"detail,omitempty"`
	IP           string            `json:"ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Filter narrows ledger reads. Zero values match everything.
type Filter struct {
	Action       string
	ActorID      string
	ResourceType string
	ResourceID   string
	From         time.Time
	To           time.Time
}

// Page is offset pagination shared by ledger reads. Offset is the exact row
// offset, so callers are never rounded to a page boundary.
type Page struct {
	Limit  int
	Offset int
}

// Clamp normalizes pagination to sane bounds.
func (p Page) Clamp(defaultLimit, maxLimit int) Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit < 1 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// Ledger is the append-only store of audit entries. Append assigns the entry
// id and timestamp when unset. Implementations expose no update or delete.
// Successful-mutation entries are appended by the storage layer inside the
// mutation's own transaction; Append here is used for standalone records
// such as denied attempts.
type Ledger interface {
	Append(ctx context.Context, e Entry) (string, error)
	ListAll(ctx context.Context, f Filter, p Page) ([]Entry, int, error)
	ListForActor(ctx context.Context, actorID string, f Filter, p Page) ([]Entry, int, error)
}

// Match reports whether the entry satisfies the filter.
func (f Filter) Match(e Entry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}
