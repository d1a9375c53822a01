package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/ids"
)

// Append writes a standalone ledger entry (denied attempts and other
// records that have no owning mutation transaction).
func (s *Store) Append(ctx context.Context, e audit.Entry) (string, error) {
	if e.Action == "" || e.Outcome == "" {
		return "", audit.ErrInvalidInput
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	if err := appendTx(ctx, tx, e); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *Store) ListAll(ctx context.Context, f audit.Filter, p audit.Page) ([]audit.Entry, int, error) {
	return s.listEntries(ctx, f, p)
}

func (s *Store) ListForActor(ctx context.Context, actorID string, f audit.Filter, p audit.Page) ([]audit.Entry, int, error) {
	f.ActorID = actorID
	return s.listEntries(ctx, f, p)
}

func (s *Store) listEntries(ctx context.Context, f audit.Filter, p audit.Page) ([]audit.Entry, int, error) {
	p = p.Clamp(50, 200)
	where, args := buildAuditWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from audit_log `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset)
	n := len(args)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, actor_id, action, resource_type, resource_id, outcome, detail, ip, user_agent, created_at
		from audit_log %s
		order by created_at desc, id desc
		limit $%d offset $%d
	`, where, n-1, n), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var e audit.Entry
		var actorID, resType, resID, ip, ua sql.NullString
		var detail []byte
		if err := rows.Scan(&e.ID, &actorID, &e.Action, &resType, &resID, &e.Outcome,
			&detail, &ip, &ua, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.ActorID, e.ResourceType, e.ResourceID = actorID.String, resType.String, resID.String
		e.IP, e.UserAgent = ip.String, ua.String
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, 0, fmt.Errorf("decode detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func buildAuditWhere(f audit.Filter) (string, []any) {
	clauses := []string{}
	args := []any{}
	add := func(expr string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if f.Action != "" {
		add("action=$%d", f.Action)
	}
	if f.ActorID != "" {
		add("actor_id=$%d", f.ActorID)
	}
	if f.ResourceType != "" {
		add("resource_type=$%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id=$%d", f.ResourceID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "where " + strings.Join(clauses, " and "), args
}
