// Package report implements the crime-report lifecycle: creation, status and
// priority updates, admin notes, soft deletion and ownership-scoped
// visibility, with a status-history ledger appended on every transition.
package report

import (
	"errors"
	"fmt"
	"time"
)

// ReportStatus enumerates the lifecycle states. Updates accept any member,
// including backward moves, since investigations reopen.
type ReportStatus string

const (
	StatusNew           ReportStatus = "NEW"
	StatusAssigned      ReportStatus = "ASSIGNED"
	StatusInvestigating ReportStatus = "INVESTIGATING"
	StatusResolved      ReportStatus = "RESOLVED"
	StatusClosed        ReportStatus = "CLOSED"
)

// Priority of a report. New reports start at LOW.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

var (
	ErrNotFound        = errors.New("report: not found")
	ErrAlreadyDeleted  = errors.New("report: already deleted")
	ErrReportDeleted   = errors.New("report: deleted")
	ErrInvalidStatus   = errors.New("report: invalid status")
	ErrInvalidPriority = errors.New("report: invalid priority")
	ErrInvalidInput    = errors.New("report: invalid input")
	ErrConflict        = errors.New("report: concurrent update conflict")
)

// CrimeReport is the full persisted record. AdminNotes and Deleted are only
// exposed through the Detail projection for admin-tier viewers.
type CrimeReport struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Location    string       `json:"location,omitempty"`
	Status      ReportStatus `json:"status"`
	Priority    Priority     `json:"priority"`
	AdminNotes  string       `json:"admin_notes,omitempty"`
	Deleted     bool         `json:"deleted"`
	IncidentAt  *time.Time   `json:"incident_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
}

// Brief is the public projection shown to non-owners: title and status only.
type Brief struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Status    ReportStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Detail is the full projection for owners and admin-tier viewers. AdminNotes
// is populated only for admin-tier viewers.
type Detail struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Location    string       `json:"location,omitempty"`
	Status      ReportStatus `json:"status"`
	Priority    Priority     `json:"priority"`
	AdminNotes  string       `json:"admin_notes,omitempty"`
	Deleted     bool         `json:"deleted"`
	IncidentAt  *time.Time   `json:"incident_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// HistoryEntry is one row of the append-only status-history ledger. OldStatus
// is nil for the creation entry.
type HistoryEntry struct {
	ID        string        `json:"id"`
	ReportID  string        `json:"report_id"`
	OldStatus *ReportStatus `json:"old_status"`
	NewStatus ReportStatus  `json:"new_status"`
	ActorID   string        `json:"actor_id"`
	Note      string        `json:"note,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Brief returns the public projection of the report.
func (r CrimeReport) Brief() Brief {
	return Brief{ID: r.ID, Title: r.Title, Status: r.Status, CreatedAt: r.CreatedAt}
}

// Detail returns the full projection. Admin notes are stripped unless the
// viewer is admin-tier.
func (r CrimeReport) Detail(adminTier bool) Detail {
	d := Detail{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		Status:      r.Status,
		Priority:    r.Priority,
		Deleted:     r.Deleted,
		IncidentAt:  r.IncidentAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if adminTier {
		d.AdminNotes = r.AdminNotes
	}
	return d
}

// ParseStatus validates a raw lifecycle status.
func ParseStatus(raw string) (ReportStatus, error) {
	switch ReportStatus(raw) {
	case StatusNew, StatusAssigned, StatusInvestigating, StatusResolved, StatusClosed:
		return ReportStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// ParsePriority validates a raw priority.
func ParsePriority(raw string) (Priority, error) {
	switch Priority(raw) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
	}
}
