package memory

import (
	"context"
	"sort"
	"time"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/ids"
	"crimewatch.org/internal/report"
)

// CreateReport inserts the report, its creation history entry and the audit
// entry together.
func (s *Store) CreateReport(_ context.Context, r report.CrimeReport, hist report.HistoryEntry, entry audit.Entry) (report.CrimeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, err := s.actor(r.OwnerID)
	if err != nil {
		return report.CrimeReport{}, err
	}
	if err := authz.Authorize(owner.Actor(), authz.ActionCreateReport, ""); err != nil {
		return report.CrimeReport{}, err
	}

	s.reports[r.ID] = r
	s.history[r.ID] = append(s.history[r.ID], hist)
	s.append(entry)
	return r, nil
}

func (s *Store) ReportByID(_ context.Context, id string) (report.CrimeReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return report.CrimeReport{}, report.ErrNotFound
	}
	return r, nil
}

// ListReports returns reports newest first, optionally narrowed to one
// status. Soft-deleted rows are included only when asked for.
func (s *Store) ListReports(_ context.Context, status report.ReportStatus, includeDeleted bool, limit, offset int) ([]report.CrimeReport, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]report.CrimeReport, 0, len(s.reports))
	for _, r := range s.reports {
		if r.Deleted && !includeDeleted {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	return pageReports(out, limit, offset)
}

func (s *Store) ListReportsForOwner(_ context.Context, ownerID string, includeDeleted bool, limit, offset int) ([]report.CrimeReport, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]report.CrimeReport, 0, 4)
	for _, r := range s.reports {
		if r.OwnerID != ownerID {
			continue
		}
		if r.Deleted && !includeDeleted {
			continue
		}
		out = append(out, r)
	}
	return pageReports(out, limit, offset)
}

func pageReports(out []report.CrimeReport, limit, offset int) ([]report.CrimeReport, int, error) {
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	if offset >= total {
		return []report.CrimeReport{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return out[offset:end], total, nil
}

// mutableReport re-validates the actor and loads a live report row for an
// admin-tier mutation. Callers hold the write lock.
func (s *Store) mutableReport(reportID, actorID string, action authz.Action) (report.CrimeReport, error) {
	actor, err := s.actor(actorID)
	if err != nil {
		return report.CrimeReport{}, err
	}
	if err := authz.Authorize(actor.Actor(), action, ""); err != nil {
		return report.CrimeReport{}, err
	}
	r, ok := s.reports[reportID]
	if !ok {
		return report.CrimeReport{}, report.ErrNotFound
	}
	if r.Deleted {
		return report.CrimeReport{}, report.ErrReportDeleted
	}
	return r, nil
}

// UpdateReportStatus writes the new status and appends the history entry in
// one critical section.
func (s *Store) UpdateReportStatus(_ context.Context, reportID, actorID string, newStatus report.ReportStatus, note string, at time.Time, entry audit.Entry) (report.CrimeReport, report.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.mutableReport(reportID, actorID, authz.ActionUpdateReportStatus)
	if err != nil {
		return report.CrimeReport{}, report.HistoryEntry{}, err
	}

	old := r.Status
	hist := report.HistoryEntry{
		ID:        ids.New(),
		ReportID:  reportID,
		OldStatus: &old,
		NewStatus: newStatus,
		ActorID:   actorID,
		Note:      note,
		CreatedAt: at,
	}
	r.Status = newStatus
	r.UpdatedAt = at
	s.reports[reportID] = r
	s.history[reportID] = append(s.history[reportID], hist)
	if entry.Detail == nil {
		entry.Detail = map[string]string{}
	}
	entry.Detail["old_status"] = string(old)
	s.append(entry)
	return r, hist, nil
}

// UpdateReportPriority changes priority only; no history entry is produced.
func (s *Store) UpdateReportPriority(_ context.Context, reportID, actorID string, p report.Priority, at time.Time, entry audit.Entry) (report.CrimeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.mutableReport(reportID, actorID, authz.ActionUpdateReportPriority)
	if err != nil {
		return report.CrimeReport{}, err
	}
	if entry.Detail == nil {
		entry.Detail = map[string]string{}
	}
	entry.Detail["old_priority"] = string(r.Priority)
	r.Priority = p
	r.UpdatedAt = at
	s.reports[reportID] = r
	s.append(entry)
	return r, nil
}

func (s *Store) UpdateReportNotes(_ context.Context, reportID, actorID, notes string, at time.Time, entry audit.Entry) (report.CrimeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.mutableReport(reportID, actorID, authz.ActionUpdateReportNotes)
	if err != nil {
		return report.CrimeReport{}, err
	}
	r.AdminNotes = notes
	r.UpdatedAt = at
	s.reports[reportID] = r
	s.append(entry)
	return r, nil
}

// SoftDeleteReport marks the row deleted; history and notes stay readable by
// admin-tier viewers.
func (s *Store) SoftDeleteReport(_ context.Context, reportID, actorID string, at time.Time, entry audit.Entry) (report.CrimeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actor, err := s.actor(actorID)
	if err != nil {
		return report.CrimeReport{}, err
	}
	if err := authz.Authorize(actor.Actor(), authz.ActionDeleteReport, ""); err != nil {
		return report.CrimeReport{}, err
	}
	r, ok := s.reports[reportID]
	if !ok {
		return report.CrimeReport{}, report.ErrNotFound
	}
	if r.Deleted {
		return report.CrimeReport{}, report.ErrAlreadyDeleted
	}
	r.Deleted = true
	r.DeletedAt = &at
	r.UpdatedAt = at
	s.reports[reportID] = r
	s.append(entry)
	return r, nil
}

// HistoryForReport returns the status-history ledger, timestamp ascending.
func (s *Store) HistoryForReport(_ context.Context, reportID string) ([]report.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.reports[reportID]; !ok {
		return nil, report.ErrNotFound
	}
	entries := s.history[reportID]
	out := make([]report.HistoryEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
