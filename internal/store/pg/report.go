package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/ids"
	"crimewatch.org/internal/report"
)

const reportColumns = `id, owner_id, title, description, location, status, priority,
	admin_notes, deleted, incident_at, created_at, updated_at, deleted_at`

func (s *Store) CreateReport(ctx context.Context, r report.CrimeReport, hist report.HistoryEntry, entry audit.Entry) (report.CrimeReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report.CrimeReport{}, err
	}
	defer func() { _ = tx.Rollback() }()

	owner, err := actorTx(ctx, tx, r.OwnerID)
	if err != nil {
		return report.CrimeReport{}, err
	}
	if err := authz.Authorize(owner.Actor(), authz.ActionCreateReport, ""); err != nil {
		return report.CrimeReport{}, err
	}

	_, err = tx.ExecContext(ctx, `
		insert into crime_reports(id, owner_id, title, description, location, status, priority,
			admin_notes, deleted, incident_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,false,$9,$10,$11)
	`, r.ID, r.OwnerID, r.Title, r.Description, nullIfEmpty(r.Location), string(r.Status),
		string(r.Priority), nullIfEmpty(r.AdminNotes), nullIfZero(r.IncidentAt), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return report.CrimeReport{}, identity.ErrNotFound
		}
		return report.CrimeReport{}, err
	}
	if err := insertHistoryTx(ctx, tx, hist); err != nil {
		return report.CrimeReport{}, err
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return report.CrimeReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return report.CrimeReport{}, err
	}
	return r, nil
}

func (s *Store) ReportByID(ctx context.Context, id string) (report.CrimeReport, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx,
		`select `+reportColumns+` from crime_reports where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return report.CrimeReport{}, report.ErrNotFound
	}
	return r, err
}

func (s *Store) ListReports(ctx context.Context, status report.ReportStatus, includeDeleted bool, limit, offset int) ([]report.CrimeReport, int, error) {
	conds := []string{}
	args := []any{}
	if !includeDeleted {
		conds = append(conds, "deleted=false")
	}
	if status != "" {
		args = append(args, string(status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "where " + strings.Join(conds, " and ")
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from crime_reports `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select `+reportColumns+` from crime_reports %s
		order by created_at desc
		limit $%d offset $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out, err := collectReports(rows)
	return out, total, err
}

func (s *Store) ListReportsForOwner(ctx context.Context, ownerID string, includeDeleted bool, limit, offset int) ([]report.CrimeReport, int, error) {
	where := `where owner_id=$1`
	if !includeDeleted {
		where += ` and deleted=false`
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from crime_reports `+where, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+reportColumns+` from crime_reports `+where+`
		order by created_at desc
		limit $2 offset $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out, err := collectReports(rows)
	return out, total, err
}

// UpdateReportStatus captures the old status with a compare-and-set update
// and appends the history row in the same transaction. A concurrent writer
// that changed the row first surfaces as ErrConflict.
func (s *Store) UpdateReportStatus(ctx context.Context, reportID, actorID string, newStatus report.ReportStatus, note string, at time.Time, entry audit.Entry) (report.CrimeReport, report.HistoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report.CrimeReport{}, report.HistoryEntry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := adminMutationTx(ctx, tx, actorID, authz.ActionUpdateReportStatus); err != nil {
		return report.CrimeReport{}, report.HistoryEntry{}, err
	}

	old, err := liveReportStatusTx(ctx, tx, reportID)
	if err != nil {
		return report.CrimeReport{}, report.HistoryEntry{}, err
	}

	var r report.CrimeReport
	err = scanReportInto(tx.QueryRowContext(ctx, `
		update crime_reports set status=$2, updated_at=$3
		where id=$1 and status=$4 and deleted=false
		returning `+reportColumns+`
	`, reportID, string(newStatus), at, string(old)), &r)
	if errors.Is(err, sql.ErrNoRows) {
		return report.CrimeReport{}, report.HistoryEntry{}, report.ErrConflict
	}
	if err != nil {
		return report.CrimeReport{}, report.HistoryEntry{}, err
	}

	hist := report.HistoryEntry{
		ID:        ids.New(),
		ReportID:  reportID,
		OldStatus: &old,
		NewStatus: newStatus,
		ActorID:   actorID,
		Note:      note,
		CreatedAt: at,
	}
	if err := insertHistoryTx(ctx, tx, hist); err != nil {
		return report.CrimeReport{}, report.HistoryEntry{}, err
	}
	if entry.Detail == nil {
		entry.Detail = map[string]string{}
	}
	entry.Detail["old_status"] = string(old)
	if err := appendTx(ctx, tx, entry); err != nil {
		return report.CrimeReport{}, report.HistoryEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return report.CrimeReport{}, report.HistoryEntry{}, err
	}
	return r, hist, nil
}

func (s *Store) UpdateReportPriority(ctx context.Context, reportID, actorID string, p report.Priority, at time.Time, entry audit.Entry) (report.CrimeReport, error) {
	return s.updateLive(ctx, reportID, actorID, authz.ActionUpdateReportPriority, entry, `
		update crime_reports set priority=$2, updated_at=$3
		where id=$1 and deleted=false
		returning `+reportColumns, reportID, string(p), at)
}

func (s *Store) UpdateReportNotes(ctx context.Context, reportID, actorID, notes string, at time.Time, entry audit.Entry) (report.CrimeReport, error) {
	return s.updateLive(ctx, reportID, actorID, authz.ActionUpdateReportNotes, entry, `
		update crime_reports set admin_notes=$2, updated_at=$3
		where id=$1 and deleted=false
		returning `+reportColumns, reportID, nullIfEmpty(notes), at)
}

func (s *Store) SoftDeleteReport(ctx context.Context, reportID, actorID string, at time.Time, entry audit.Entry) (report.CrimeReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report.CrimeReport{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := adminMutationTx(ctx, tx, actorID, authz.ActionDeleteReport); err != nil {
		return report.CrimeReport{}, err
	}

	var r report.CrimeReport
	err = scanReportInto(tx.QueryRowContext(ctx, `
		update crime_reports set deleted=true, deleted_at=$2, updated_at=$2
		where id=$1 and deleted=false
		returning `+reportColumns, reportID, at), &r)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish missing from already-deleted.
		var deleted bool
		lookupErr := tx.QueryRowContext(ctx,
			`select deleted from crime_reports where id=$1`, reportID).Scan(&deleted)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return report.CrimeReport{}, report.ErrNotFound
		}
		if lookupErr != nil {
			return report.CrimeReport{}, lookupErr
		}
		return report.CrimeReport{}, report.ErrAlreadyDeleted
	}
	if err != nil {
		return report.CrimeReport{}, err
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return report.CrimeReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return report.CrimeReport{}, err
	}
	return r, nil
}

func (s *Store) HistoryForReport(ctx context.Context, reportID string) ([]report.HistoryEntry, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from crime_reports where id=$1)`, reportID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, report.ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, report_id, old_status, new_status, actor_id, note, created_at
		from report_status_history where report_id=$1
		order by created_at asc, id asc
	`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []report.HistoryEntry{}
	for rows.Next() {
		var h report.HistoryEntry
		var old, note sql.NullString
		if err := rows.Scan(&h.ID, &h.ReportID, &old, &h.NewStatus, &h.ActorID, &note, &h.CreatedAt); err != nil {
			return nil, err
		}
		if old.Valid {
			st := report.ReportStatus(old.String)
			h.OldStatus = &st
		}
		h.Note = note.String
		out = append(out, h)
	}
	return out, rows.Err()
}

// updateLive runs an admin-tier single-row update against a live report.
func (s *Store) updateLive(ctx context.Context, reportID, actorID string, action authz.Action, entry audit.Entry, query string, args ...any) (report.CrimeReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report.CrimeReport{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := adminMutationTx(ctx, tx, actorID, action); err != nil {
		return report.CrimeReport{}, err
	}

	var r report.CrimeReport
	err = scanReportInto(tx.QueryRowContext(ctx, query, args...), &r)
	if errors.Is(err, sql.ErrNoRows) {
		var deleted bool
		lookupErr := tx.QueryRowContext(ctx,
			`select deleted from crime_reports where id=$1`, reportID).Scan(&deleted)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return report.CrimeReport{}, report.ErrNotFound
		}
		if lookupErr != nil {
			return report.CrimeReport{}, lookupErr
		}
		return report.CrimeReport{}, report.ErrReportDeleted
	}
	if err != nil {
		return report.CrimeReport{}, err
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return report.CrimeReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return report.CrimeReport{}, err
	}
	return r, nil
}

// adminMutationTx re-checks the acting account against its current row.
func adminMutationTx(ctx context.Context, tx *sql.Tx, actorID string, action authz.Action) error {
	actor, err := actorTx(ctx, tx, actorID)
	if err != nil {
		return err
	}
	return authz.Authorize(actor.Actor(), action, "")
}

// liveReportStatusTx reads the current status of a live report with a row
// lock so the compare-and-set that follows observes a stable value.
func liveReportStatusTx(ctx context.Context, tx *sql.Tx, reportID string) (report.ReportStatus, error) {
	var st string
	var deleted bool
	err := tx.QueryRowContext(ctx,
		`select status, deleted from crime_reports where id=$1 for update`, reportID).
		Scan(&st, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", report.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if deleted {
		return "", report.ErrReportDeleted
	}
	return report.ReportStatus(st), nil
}

func insertHistoryTx(ctx context.Context, tx *sql.Tx, h report.HistoryEntry) error {
	var old sql.NullString
	if h.OldStatus != nil {
		old = sql.NullString{String: string(*h.OldStatus), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		insert into report_status_history(id, report_id, old_status, new_status, actor_id, note, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, h.ID, h.ReportID, old, string(h.NewStatus), h.ActorID, nullIfEmpty(h.Note), h.CreatedAt)
	return err
}

func scanReport(row rowScanner) (report.CrimeReport, error) {
	var r report.CrimeReport
	err := scanReportInto(row, &r)
	return r, err
}

func scanReportInto(row rowScanner, r *report.CrimeReport) error {
	var location, notes sql.NullString
	var status, priority string
	var incidentAt, deletedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Description, &location, &status, &priority,
		&notes, &r.Deleted, &incidentAt, &r.CreatedAt, &r.UpdatedAt, &deletedAt); err != nil {
		return err
	}
	r.Location, r.AdminNotes = location.String, notes.String
	r.Status = report.ReportStatus(status)
	r.Priority = report.Priority(priority)
	if incidentAt.Valid {
		t := incidentAt.Time
		r.IncidentAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		r.DeletedAt = &t
	}
	return nil
}

func collectReports(rows *sql.Rows) ([]report.CrimeReport, error) {
	out := []report.CrimeReport{}
	for rows.Next() {
		var r report.CrimeReport
		if err := scanReportInto(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
