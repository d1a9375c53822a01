package pg

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/report"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func userRows(u identity.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "role", "active", "locked", "created_at", "updated_at",
	}).AddRow(u.ID, u.Email, u.PasswordHash, string(u.Role), u.Active, u.Locked, u.CreatedAt, u.UpdatedAt)
}

func TestUserByEmail(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	want := identity.User{
		ID: "u1", Email: "a@example.com", PasswordHash: "hash",
		Role: authz.RoleUser, Active: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectQuery(regexp.QuoteMeta("from users where email=$1")).
		WithArgs("a@example.com").
		WillReturnRows(userRows(want))

	got, err := store.UserByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserByIDNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("from users where id=$1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.UserByID(context.Background(), "missing")
	require.ErrorIs(t, err, identity.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserEmailTaken(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	u := identity.User{
		ID: "u1", Email: "a@example.com", PasswordHash: "hash",
		Role: authz.RoleUser, Active: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("insert into users")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	_, err := store.CreateUser(context.Background(), u, audit.Entry{
		Action: audit.ActionUserRegistered, Outcome: audit.OutcomeSuccess,
	})
	require.ErrorIs(t, err, identity.ErrEmailTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeSessionMissing(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("update sessions set revoked=true where token_hash=$1")).
		WithArgs("deadbeef").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.RevokeSession(context.Background(), "deadbeef", audit.Entry{
		Action: audit.ActionUserLogout, Outcome: audit.OutcomeSuccess,
	})
	require.ErrorIs(t, err, identity.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReportStatusConflict(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	admin := identity.User{
		ID: "adm", Email: "adm@example.com", PasswordHash: "hash",
		Role: authz.RoleAdmin, Active: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("from users where id=$1")).
		WithArgs("adm").
		WillReturnRows(userRows(admin))
	mock.ExpectQuery(regexp.QuoteMeta("select status, deleted from crime_reports where id=$1 for update")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "deleted"}).AddRow("NEW", false))
	// The compare-and-set update matches no row: a concurrent writer won.
	mock.ExpectQuery(regexp.QuoteMeta("update crime_reports set status=$2")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, _, err := store.UpdateReportStatus(context.Background(), "r1", "adm",
		report.StatusAssigned, "", now, audit.Entry{
			Action: audit.ActionStatusChanged, Outcome: audit.OutcomeSuccess,
		})
	require.ErrorIs(t, err, report.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReportStatusLockedActor(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	lockedAdmin := identity.User{
		ID: "adm", Email: "adm@example.com", PasswordHash: "hash",
		Role: authz.RoleAdmin, Active: true, Locked: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("from users where id=$1")).
		WithArgs("adm").
		WillReturnRows(userRows(lockedAdmin))
	mock.ExpectRollback()

	_, _, err := store.UpdateReportStatus(context.Background(), "r1", "adm",
		report.StatusAssigned, "", now, audit.Entry{
			Action: audit.ActionStatusChanged, Outcome: audit.OutcomeSuccess,
		})
	require.ErrorIs(t, err, authz.ErrAccountLocked)
	require.NoError(t, mock.ExpectationsWereMet())
}
