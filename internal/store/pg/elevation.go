package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/identity"
)

// CreateRequest inserts a PENDING request. The partial unique index on
// (user_id) where status='PENDING' enforces one-pending-per-user even under
// concurrent submissions.
func (s *Store) CreateRequest(ctx context.Context, req elevation.Request, entry audit.Entry) (elevation.Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return elevation.Request{}, err
	}
	defer func() { _ = tx.Rollback() }()

	u, err := actorTx(ctx, tx, req.UserID)
	if err != nil {
		return elevation.Request{}, err
	}
	if err := authz.Authorize(u.Actor(), authz.ActionRequestElevation, ""); err != nil {
		return elevation.Request{}, err
	}
	if u.Role.AdminTier() {
		return elevation.Request{}, elevation.ErrAlreadyPrivileged
	}

	_, err = tx.ExecContext(ctx, `
		insert into admin_requests(id, user_id, status, reason, created_at)
		values ($1,$2,$3,$4,$5)
	`, req.ID, req.UserID, string(req.Status), nullIfEmpty(req.Reason), req.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return elevation.Request{}, elevation.ErrDuplicatePending
			case pgErrForeignKeyViolation:
				return elevation.Request{}, identity.ErrNotFound
			}
		}
		return elevation.Request{}, err
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return elevation.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return elevation.Request{}, err
	}
	return req, nil
}

func (s *Store) RequestByID(ctx context.Context, id string) (elevation.Request, error) {
	req, err := scanRequest(s.db.QueryRowContext(ctx, `
		select id, user_id, status, reason, resolution_notes, resolved_by, created_at, resolved_at
		from admin_requests where id=$1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return elevation.Request{}, elevation.ErrNotFound
	}
	return req, err
}

// ListRequests returns requests PENDING-first, newest first within each
// group.
func (s *Store) ListRequests(ctx context.Context, status elevation.Status, limit, offset int) ([]elevation.Request, int, error) {
	where := ``
	args := []any{limit, offset}
	if status != "" {
		where = `where status=$3`
		args = append(args, string(status))
	}

	var total int
	countQ := `select count(*) from admin_requests`
	if status != "" {
		if err := s.db.QueryRowContext(ctx, countQ+` where status=$1`, string(status)).Scan(&total); err != nil {
			return nil, 0, err
		}
	} else if err := s.db.QueryRowContext(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, status, reason, resolution_notes, resolved_by, created_at, resolved_at
		from admin_requests `+where+`
		order by (status='PENDING') desc, created_at desc
		limit $1 offset $2
	`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []elevation.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

func (s *Store) ListRequestsForUser(ctx context.Context, userID string) ([]elevation.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, status, reason, resolution_notes, resolved_by, created_at, resolved_at
		from admin_requests where user_id=$1
		order by created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []elevation.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ResolveRequest moves a PENDING request to its terminal state via
// compare-and-set on status; a concurrent resolver that lost the race sees
// ErrNotPending. Approval promotes the requester in the same transaction.
func (s *Store) ResolveRequest(ctx context.Context, requestID, resolverID string, status elevation.Status, notes string, resolvedAt time.Time, entry audit.Entry) (elevation.Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return elevation.Request{}, err
	}
	defer func() { _ = tx.Rollback() }()

	resolver, err := actorTx(ctx, tx, resolverID)
	if err != nil {
		return elevation.Request{}, err
	}
	if err := authz.Authorize(resolver.Actor(), authz.ActionResolveElevation, ""); err != nil {
		return elevation.Request{}, err
	}

	var req elevation.Request
	var reason, resNotes, resolvedBy sql.NullString
	var ra sql.NullTime
	var st string
	err = tx.QueryRowContext(ctx, `
		update admin_requests
		set status=$2, resolution_notes=$3, resolved_by=$4, resolved_at=$5
		where id=$1 and status='PENDING'
		returning id, user_id, status, reason, resolution_notes, resolved_by, created_at, resolved_at
	`, requestID, string(status), nullIfEmpty(notes), resolverID, resolvedAt).
		Scan(&req.ID, &req.UserID, &st, &reason, &resNotes, &resolvedBy, &req.CreatedAt, &ra)
	if errors.Is(err, sql.ErrNoRows) {
		// Either absent or already resolved; one more read to tell.
		if _, lookupErr := s.requestStatusTx(ctx, tx, requestID); lookupErr != nil {
			return elevation.Request{}, lookupErr
		}
		return elevation.Request{}, elevation.ErrNotPending
	}
	if err != nil {
		return elevation.Request{}, err
	}
	req.Status = elevation.Status(st)
	req.Reason, req.ResolutionNotes, req.ResolvedBy = reason.String, resNotes.String, resolvedBy.String
	if ra.Valid {
		t := ra.Time
		req.ResolvedAt = &t
	}

	if status == elevation.StatusApproved {
		// Promotion applies to USER only; a SUPER_ADMIN requester cannot
		// exist, the submit path refuses admin-tier accounts.
		if _, err := tx.ExecContext(ctx, `
			update users set role=$2, updated_at=$3 where id=$1 and role=$4
		`, req.UserID, string(authz.RoleAdmin), resolvedAt, string(authz.RoleUser)); err != nil {
			return elevation.Request{}, err
		}
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return elevation.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return elevation.Request{}, err
	}
	return req, nil
}

func (s *Store) requestStatusTx(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var st string
	err := tx.QueryRowContext(ctx, `select status from admin_requests where id=$1`, id).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", elevation.ErrNotFound
	}
	return st, err
}

// RevokeAdmin demotes an ADMIN back to USER after re-checking the acting
// account inside the transaction.
func (s *Store) RevokeAdmin(ctx context.Context, targetID, actorID string, entry audit.Entry) (identity.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	actor, err := actorTx(ctx, tx, actorID)
	if err != nil {
		return identity.User{}, err
	}
	if err := authz.Authorize(actor.Actor(), authz.ActionRevokeAdmin, ""); err != nil {
		return identity.User{}, err
	}

	target, err := actorTx(ctx, tx, targetID)
	if err != nil {
		return identity.User{}, err
	}
	if target.Role != authz.RoleAdmin {
		return identity.User{}, elevation.ErrNotAdmin
	}

	err = tx.QueryRowContext(ctx, `
		update users set role=$2, updated_at=now()
		where id=$1 and role=$3
		returning role, updated_at
	`, targetID, string(authz.RoleUser), string(authz.RoleAdmin)).
		Scan(&target.Role, &target.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, elevation.ErrNotAdmin
	}
	if err != nil {
		return identity.User{}, err
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return identity.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return identity.User{}, err
	}
	return target, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (elevation.Request, error) {
	var req elevation.Request
	var st string
	var reason, notes, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&req.ID, &req.UserID, &st, &reason, &notes, &resolvedBy, &req.CreatedAt, &resolvedAt); err != nil {
		return elevation.Request{}, err
	}
	req.Status = elevation.Status(st)
	req.Reason, req.ResolutionNotes, req.ResolvedBy = reason.String, notes.String, resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	return req, nil
}
