// Package pg is the Postgres store. Every mutating method runs one
// transaction spanning the in-transaction policy re-check, the entity write,
// the history append where one applies, and the audit entry.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/ids"
	"crimewatch.org/internal/report"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var (
	_ identity.Store  = (*Store)(nil)
	_ elevation.Store = (*Store)(nil)
	_ report.Store    = (*Store)(nil)
	_ audit.Ledger    = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (used by sqlmock tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// actorTx loads the acting account's current row inside the transaction so
// the policy check cannot be raced by a concurrent demotion or lock.
func actorTx(ctx context.Context, tx *sql.Tx, id string) (identity.User, error) {
	var u identity.User
	var role string
	err := tx.QueryRowContext(ctx, `
		select id, email, password_hash, role, active, locked, created_at, updated_at
		from users where id=$1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.Active, &u.Locked, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.User{}, err
	}
	u.Role = authz.Role(role)
	return u, nil
}

// appendTx writes one audit entry inside the caller's transaction, filling
// id and timestamp when unset.
func appendTx(ctx context.Context, tx *sql.Tx, e audit.Entry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var detail any
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return err
		}
		detail = raw
	}
	_, err := tx.ExecContext(ctx, `
		insert into audit_log(id, actor_id, action, resource_type, resource_id, outcome, detail, ip, user_agent, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, nullIfEmpty(e.ActorID), e.Action, nullIfEmpty(e.ResourceType), nullIfEmpty(e.ResourceID),
		e.Outcome, detail, nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), e.CreatedAt)
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIfZero(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
