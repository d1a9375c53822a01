package pg

import (
	"context"
	"database/sql"
	"errors"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/identity"
)

func (s *Store) CreateUser(ctx context.Context, u identity.User, entry audit.Entry) (identity.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into users(id, email, password_hash, role, active, locked, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.Email, u.PasswordHash, string(u.Role), u.Active, u.Locked, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.User{}, identity.ErrEmailTaken
		}
		return identity.User{}, err
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return identity.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (identity.User, error) {
	return s.userBy(ctx, `id=$1`, id)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (identity.User, error) {
	return s.userBy(ctx, `email=$1`, email)
}

func (s *Store) userBy(ctx context.Context, where, arg string) (identity.User, error) {
	var u identity.User
	var role string
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, active, locked, created_at, updated_at
		from users where `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.Active, &u.Locked, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.User{}, err
	}
	u.Role = authz.Role(role)
	return u, nil
}

// EnsureSuperAdmin creates the account or promotes the existing holder of
// the email. The bool reports whether a row changed.
func (s *Store) EnsureSuperAdmin(ctx context.Context, u identity.User, entry audit.Entry) (identity.User, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.User{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing identity.User
	var role string
	err = tx.QueryRowContext(ctx, `
		select id, email, password_hash, role, active, locked, created_at, updated_at
		from users where email=$1
	`, u.Email).Scan(&existing.ID, &existing.Email, &existing.PasswordHash, &role,
		&existing.Active, &existing.Locked, &existing.CreatedAt, &existing.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			insert into users(id, email, password_hash, role, active, locked, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8)
		`, u.ID, u.Email, u.PasswordHash, string(u.Role), u.Active, u.Locked, u.CreatedAt, u.UpdatedAt)
		if err != nil {
			return identity.User{}, false, err
		}
		entry.ActorID = u.ID
		entry.ResourceID = u.ID
		if err := appendTx(ctx, tx, entry); err != nil {
			return identity.User{}, false, err
		}
		if err := tx.Commit(); err != nil {
			return identity.User{}, false, err
		}
		return u, true, nil
	case err != nil:
		return identity.User{}, false, err
	}

	existing.Role = authz.Role(role)
	if existing.Role == authz.RoleSuperAdmin {
		return existing, false, nil
	}
	err = tx.QueryRowContext(ctx, `
		update users
		set role=$2, password_hash=$3, active=true, locked=false, updated_at=now()
		where id=$1
		returning role, password_hash, active, locked, updated_at
	`, existing.ID, string(authz.RoleSuperAdmin), u.PasswordHash).
		Scan(&role, &existing.PasswordHash, &existing.Active, &existing.Locked, &existing.UpdatedAt)
	if err != nil {
		return identity.User{}, false, err
	}
	existing.Role = authz.Role(role)
	entry.ActorID = existing.ID
	entry.ResourceID = existing.ID
	if err := appendTx(ctx, tx, entry); err != nil {
		return identity.User{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return identity.User{}, false, err
	}
	return existing, true, nil
}

func (s *Store) CreateSession(ctx context.Context, sess identity.Session, entry audit.Entry) (identity.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into sessions(id, user_id, token_hash, ip, user_agent, issued_at, expires_at, revoked)
		values ($1,$2,$3,$4,$5,$6,$7,false)
	`, sess.ID, sess.UserID, sess.TokenHash, nullIfEmpty(sess.IP), nullIfEmpty(sess.UserAgent),
		sess.IssuedAt, sess.ExpiresAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return identity.Session{}, identity.ErrNotFound
		}
		return identity.Session{}, err
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return identity.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return identity.Session{}, err
	}
	return sess, nil
}

func (s *Store) SessionByTokenHash(ctx context.Context, hash string) (identity.Session, error) {
	var sess identity.Session
	var ip, ua sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, ip, user_agent, issued_at, expires_at, revoked
		from sessions where token_hash=$1
	`, hash).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &ip, &ua,
		&sess.IssuedAt, &sess.ExpiresAt, &sess.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Session{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Session{}, err
	}
	sess.IP, sess.UserAgent = ip.String, ua.String
	return sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, tokenHash string, entry audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `update sessions set revoked=true where token_hash=$1`, tokenHash)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// SetUserLocked flips the locked flag via compare-and-set after re-checking
// the acting account inside the transaction. Locking revokes the target's
// live sessions in the same transaction.
func (s *Store) SetUserLocked(ctx context.Context, targetID, actorID string, locked bool, entry audit.Entry) (identity.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	actor, err := actorTx(ctx, tx, actorID)
	if err != nil {
		return identity.User{}, err
	}
	action := authz.ActionUnlockAccount
	if locked {
		action = authz.ActionLockAccount
	}
	if err := authz.Authorize(actor.Actor(), action, ""); err != nil {
		return identity.User{}, err
	}

	target, err := actorTx(ctx, tx, targetID)
	if err != nil {
		return identity.User{}, err
	}
	if locked && target.Role == authz.RoleSuperAdmin {
		return identity.User{}, identity.ErrProtectedAccount
	}

	// Compare-and-set on the current flag; a lost race shows up as zero
	// rows affected.
	err = tx.QueryRowContext(ctx, `
		update users set locked=$2, updated_at=now()
		where id=$1 and locked=$3
		returning locked, updated_at
	`, targetID, locked, !locked).Scan(&target.Locked, &target.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if locked {
			return identity.User{}, identity.ErrAlreadyLocked
		}
		return identity.User{}, identity.ErrNotLocked
	}
	if err != nil {
		return identity.User{}, err
	}

	if locked {
		if _, err := tx.ExecContext(ctx, `
			update sessions set revoked=true where user_id=$1 and revoked=false
		`, targetID); err != nil {
			return identity.User{}, err
		}
	}
	if err := appendTx(ctx, tx, entry); err != nil {
		return identity.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return identity.User{}, err
	}
	return target, nil
}
