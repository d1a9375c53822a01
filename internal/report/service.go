package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/ids"
	"crimewatch.org/internal/obs"
)

// Store describes the atomic persistence operations of the report lifecycle.
// Mutating methods run as one transaction covering the entity write, the
// history append where one applies, and the audit entry; methods taking an
// actorID re-validate authorization against the actor's current persisted
// row inside that transaction.
type Store interface {
	CreateReport(ctx context.Context, r CrimeReport, hist HistoryEntry, entry audit.Entry) (CrimeReport, error)
	// ReportByID returns the row regardless of the deleted flag; visibility
	// is the service's concern.
	ReportByID(ctx context.Context, id string) (CrimeReport, error)
	// ListReports filters by status when one is given; empty matches all.
	ListReports(ctx context.Context, status ReportStatus, includeDeleted bool, limit, offset int) ([]CrimeReport, int, error)
	// ListReportsForOwner excludes soft-deleted rows unless asked for, so
	// count and pagination see only visible reports.
	ListReportsForOwner(ctx context.Context, ownerID string, includeDeleted bool, limit, offset int) ([]CrimeReport, int, error)

	// UpdateReportStatus captures the old status, writes the new one and
	// appends the history row in one transaction. A concurrent writer that
	// got there first surfaces as ErrConflict.
	UpdateReportStatus(ctx context.Context, reportID, actorID string, newStatus ReportStatus, note string, at time.Time, entry audit.Entry) (CrimeReport, HistoryEntry, error)
	UpdateReportPriority(ctx context.Context, reportID, actorID string, p Priority, at time.Time, entry audit.Entry) (CrimeReport, error)
	UpdateReportNotes(ctx context.Context, reportID, actorID, notes string, at time.Time, entry audit.Entry) (CrimeReport, error)
	SoftDeleteReport(ctx context.Context, reportID, actorID string, at time.Time, entry audit.Entry) (CrimeReport, error)

	HistoryForReport(ctx context.Context, reportID string) ([]HistoryEntry, error)
}

// View is the visibility-scoped result of a read: exactly one of Detail or
// Brief is set, matching the viewer's scope.
type View struct {
	Detail *Detail `json:"detail,omitempty"`
	Brief  *Brief  `json:"brief,omitempty"`
}

// CreateInput are the caller-supplied fields of a new report. Priority is
// optional and defaults to LOW.
type CreateInput struct {
	Title       string
	Description string
	Location    string
	Priority    Priority
	IncidentAt  *time.Time
}

// Service wires authorization, history and auditing around the report Store.
type Service struct {
	store  Store
	ledger audit.Ledger
	now    func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the report service.
func NewService(store Store, ledger audit.Ledger, opts ...Option) *Service {
	s := &Service{store: store, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create files a new report owned by the acting user. Status starts at NEW,
// priority at LOW unless given, and the history ledger receives the creation
// entry (old status nil) in the same transaction.
func (s *Service) Create(ctx context.Context, actor authz.Actor, in CreateInput, meta identity.Meta) (Detail, error) {
	if err := s.deny(ctx, actor, authz.ActionCreateReport, "", meta); err != nil {
		return Detail{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" {
		return Detail{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Description == "" {
		return Detail{}, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	priority := PriorityLow
	if in.Priority != "" {
		p, err := ParsePriority(string(in.Priority))
		if err != nil {
			return Detail{}, err
		}
		priority = p
	}
	now := s.now().UTC()
	r := CrimeReport{
		ID:          ids.New(),
		OwnerID:     actor.ID,
		Title:       in.Title,
		Description: in.Description,
		Location:    strings.TrimSpace(in.Location),
		Status:      StatusNew,
		Priority:    priority,
		IncidentAt:  in.IncidentAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	hist := HistoryEntry{
		ID:        ids.New(),
		ReportID:  r.ID,
		OldStatus: nil,
		NewStatus: StatusNew,
		ActorID:   actor.ID,
		CreatedAt: now,
	}
	created, err := s.store.CreateReport(ctx, r, hist, audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionReportCreated,
		ResourceType: audit.ResourceCrimeReport,
		ResourceID:   r.ID,
		Outcome:      audit.OutcomeSuccess,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return Detail{}, err
	}
	obs.Logger().Info("report created",
		zap.String("report_id", created.ID), zap.String("owner_id", actor.ID))
	return created.Detail(actor.Role.AdminTier()), nil
}

// Get returns the report under the viewer's scope: full detail for admin-tier
// viewers and the owner, the brief projection for everyone else. Deleted
// reports answer NotFound to every non-admin viewer.
func (s *Service) Get(ctx context.Context, actor authz.Actor, id string) (View, error) {
	if err := authz.Authorize(actor, authz.ActionViewReport, ""); err != nil {
		return View{}, err
	}
	r, err := s.store.ReportByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	switch authz.ViewScope(actor, r.OwnerID, r.Deleted) {
	case authz.ScopeFull:
		d := r.Detail(actor.Role.AdminTier())
		return View{Detail: &d}, nil
	case authz.ScopeBrief:
		b := r.Brief()
		return View{Brief: &b}, nil
	default:
		return View{}, ErrNotFound
	}
}

// List returns the public brief listing, optionally narrowed to one lifecycle
// status. Deleted reports are excluded.
func (s *Service) List(ctx context.Context, actor authz.Actor, status ReportStatus, limit, offset int, meta identity.Meta) ([]Brief, int, error) {
	if err := s.deny(ctx, actor, authz.ActionListReports, "", meta); err != nil {
		return nil, 0, err
	}
	if status != "" {
		if _, err := ParseStatus(string(status)); err != nil {
			return nil, 0, err
		}
	}
	rs, total, err := s.store.ListReports(ctx, status, false, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	briefs := make([]Brief, 0, len(rs))
	for _, r := range rs {
		briefs = append(briefs, r.Brief())
	}
	return briefs, total, nil
}

// ListMine returns the acting user's own reports in full detail. Deleted
// reports are excluded even for the owner unless the owner is admin-tier;
// the store applies the filter before counting and paginating.
func (s *Service) ListMine(ctx context.Context, actor authz.Actor, limit, offset int, meta identity.Meta) ([]Detail, int, error) {
	if err := s.deny(ctx, actor, authz.ActionListReports, "", meta); err != nil {
		return nil, 0, err
	}
	admin := actor.Role.AdminTier()
	rs, total, err := s.store.ListReportsForOwner(ctx, actor.ID, admin, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	details := make([]Detail, 0, len(rs))
	for _, r := range rs {
		details = append(details, r.Detail(admin))
	}
	return details, total, nil
}

// ListAdmin returns the full-detail listing for admin-tier viewers,
// optionally including soft-deleted reports.
func (s *Service) ListAdmin(ctx context.Context, actor authz.Actor, status ReportStatus, includeDeleted bool, limit, offset int, meta identity.Meta) ([]Detail, int, error) {
	if err := s.deny(ctx, actor, authz.ActionUpdateReportStatus, "", meta); err != nil {
		return nil, 0, err
	}
	if status != "" {
		if _, err := ParseStatus(string(status)); err != nil {
			return nil, 0, err
		}
	}
	rs, total, err := s.store.ListReports(ctx, status, includeDeleted, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	details := make([]Detail, 0, len(rs))
	for _, r := range rs {
		details = append(details, r.Detail(true))
	}
	return details, total, nil
}

// UpdateStatus moves the report to the requested lifecycle state (admin-tier
// only). Any enum member is accepted, including backward moves; the history
// ledger records whatever transition occurred, with the optional note.
func (s *Service) UpdateStatus(ctx context.Context, actor authz.Actor, id string, status ReportStatus, note string, meta identity.Meta) (Detail, error) {
	if err := s.deny(ctx, actor, authz.ActionUpdateReportStatus, id, meta); err != nil {
		return Detail{}, err
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return Detail{}, err
	}
	updated, hist, err := s.store.UpdateReportStatus(ctx, id, actor.ID, status, strings.TrimSpace(note), s.now().UTC(), audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionStatusChanged,
		ResourceType: audit.ResourceCrimeReport,
		ResourceID:   id,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]string{"new_status": string(status)},
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return Detail{}, err
	}
	old := ""
	if hist.OldStatus != nil {
		old = string(*hist.OldStatus)
	}
	obs.Logger().Info("report status changed",
		zap.String("report_id", id),
		zap.String("old_status", old),
		zap.String("new_status", string(status)),
		zap.String("actor_id", actor.ID))
	return updated.Detail(true), nil
}

// UpdatePriority changes the report priority (admin-tier only). Priority
// changes are recorded in the audit ledger but produce no history entry.
func (s *Service) UpdatePriority(ctx context.Context, actor authz.Actor, id string, p Priority, meta identity.Meta) (Detail, error) {
	if err := s.deny(ctx, actor, authz.ActionUpdateReportPriority, id, meta); err != nil {
		return Detail{}, err
	}
	if _, err := ParsePriority(string(p)); err != nil {
		return Detail{}, err
	}
	updated, err := s.store.UpdateReportPriority(ctx, id, actor.ID, p, s.now().UTC(), audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionPriorityChanged,
		ResourceType: audit.ResourceCrimeReport,
		ResourceID:   id,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]string{"new_priority": string(p)},
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return Detail{}, err
	}
	return updated.Detail(true), nil
}

// UpdateNotes overwrites the admin notes (admin-tier only).
func (s *Service) UpdateNotes(ctx context.Context, actor authz.Actor, id, notes string, meta identity.Meta) (Detail, error) {
	if err := s.deny(ctx, actor, authz.ActionUpdateReportNotes, id, meta); err != nil {
		return Detail{}, err
	}
	updated, err := s.store.UpdateReportNotes(ctx, id, actor.ID, strings.TrimSpace(notes), s.now().UTC(), audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionNotesChanged,
		ResourceType: audit.ResourceCrimeReport,
		ResourceID:   id,
		Outcome:      audit.OutcomeSuccess,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return Detail{}, err
	}
	return updated.Detail(true), nil
}

// Delete soft-deletes the report (admin-tier only). History and notes remain
// intact and readable by admin-tier viewers.
func (s *Service) Delete(ctx context.Context, actor authz.Actor, id string, meta identity.Meta) error {
	if err := s.deny(ctx, actor, authz.ActionDeleteReport, id, meta); err != nil {
		return err
	}
	_, err := s.store.SoftDeleteReport(ctx, id, actor.ID, s.now().UTC(), audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionReportDeleted,
		ResourceType: audit.ResourceCrimeReport,
		ResourceID:   id,
		Outcome:      audit.OutcomeSuccess,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return err
	}
	obs.Logger().Info("report deleted",
		zap.String("report_id", id), zap.String("actor_id", actor.ID))
	return nil
}

// History returns the status-history ledger of a report, timestamp ascending.
// Visible to admin-tier viewers and the owner; everyone else gets NotFound.
func (s *Service) History(ctx context.Context, actor authz.Actor, id string) ([]HistoryEntry, error) {
	r, err := s.store.ReportByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if authz.ViewScope(actor, r.OwnerID, r.Deleted) != authz.ScopeFull {
		return nil, ErrNotFound
	}
	if err := authz.Authorize(actor, authz.ActionViewReportHistory, r.OwnerID); err != nil {
		if errors.Is(err, authz.ErrInsufficientRole) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.store.HistoryForReport(ctx, id)
}

func (s *Service) deny(ctx context.Context, actor authz.Actor, action authz.Action, resourceID string, meta identity.Meta) error {
	err := authz.Authorize(actor, action, "")
	if err == nil {
		return nil
	}
	reason := "insufficient_role"
	if errors.Is(err, authz.ErrAccountLocked) {
		reason = "account_locked"
	}
	obs.AuthzDenied(string(action), reason)
	_, _ = s.ledger.Append(ctx, audit.Entry{
		ActorID:      actor.ID,
		Action:       string(action),
		ResourceType: audit.ResourceCrimeReport,
		ResourceID:   resourceID,
		Outcome:      audit.OutcomeDenied,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	return err
}
