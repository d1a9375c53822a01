package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/store/memory"
)

func newService(t *testing.T) (*identity.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return identity.NewService(store, store, identity.WithSessionTTL(time.Hour)), store
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	u, err := svc.Register(ctx, "Alice@Example.com", "correct horse", identity.Meta{IP: "10.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)
	require.Equal(t, authz.RoleUser, u.Role)
	require.True(t, u.Active)
	require.False(t, u.Locked)

	token, sess, logged, err := svc.Login(ctx, "alice@example.com", "correct horse", identity.Meta{})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, u.ID, logged.ID)
	require.Equal(t, u.ID, sess.UserID)
	require.True(t, sess.ExpiresAt.After(sess.IssuedAt))

	actor, current, err := svc.ValidateSession(ctx, token)
	require.NoError(t, err)
	require.Equal(t, u.ID, actor.ID)
	require.Equal(t, u.ID, current.ID)

	// Registration and login both land in the ledger.
	entries, _, err := store.ListForActor(ctx, u.ID, audit.Filter{}, audit.Page{Limit: 10})
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	require.Contains(t, actions, audit.ActionUserRegistered)
	require.Contains(t, actions, audit.ActionUserLogin)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Register(ctx, "not-an-email", "long enough", identity.Meta{})
	require.ErrorIs(t, err, identity.ErrInvalidInput)

	_, err = svc.Register(ctx, "b@example.com", "short", identity.Meta{})
	require.ErrorIs(t, err, identity.ErrInvalidInput)

	_, err = svc.Register(ctx, "c@example.com", "long enough", identity.Meta{})
	require.NoError(t, err)
	_, err = svc.Register(ctx, "c@example.com", "long enough", identity.Meta{})
	require.ErrorIs(t, err, identity.ErrEmailTaken)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Register(ctx, "d@example.com", "password123", identity.Meta{})
	require.NoError(t, err)

	_, _, _, err = svc.Login(ctx, "d@example.com", "wrong password", identity.Meta{})
	require.ErrorIs(t, err, identity.ErrInvalidCredentials)

	_, _, _, err = svc.Login(ctx, "nobody@example.com", "password123", identity.Meta{})
	require.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestLogoutRevokesSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	u, err := svc.Register(ctx, "e@example.com", "password123", identity.Meta{})
	require.NoError(t, err)
	token, _, _, err := svc.Login(ctx, "e@example.com", "password123", identity.Meta{})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, token, authz.Actor{ID: u.ID, Role: u.Role}, identity.Meta{}))

	_, _, err = svc.ValidateSession(ctx, token)
	require.ErrorIs(t, err, identity.ErrSessionInvalid)

	// A second logout for the same token is a no-op.
	require.NoError(t, svc.Logout(ctx, token, authz.Actor{ID: u.ID, Role: u.Role}, identity.Meta{}))
}

func TestSessionExpiry(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := identity.NewService(store, store,
		identity.WithSessionTTL(time.Hour),
		identity.WithClock(func() time.Time { return now }))

	_, err := svc.Register(ctx, "f@example.com", "password123", identity.Meta{})
	require.NoError(t, err)
	token, sess, _, err := svc.Login(ctx, "f@example.com", "password123", identity.Meta{})
	require.NoError(t, err)
	// The configured TTL sets the expiry, not the built-in default.
	require.Equal(t, now.Add(time.Hour), sess.ExpiresAt)

	_, _, err = svc.ValidateSession(ctx, token)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, _, err = svc.ValidateSession(ctx, token)
	require.ErrorIs(t, err, identity.ErrSessionInvalid)
}

func TestLockAndUnlock(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	superUser, _, err := svc.EnsureSuperAdmin(ctx, "root@example.com", "password123")
	require.NoError(t, err)
	super := superUser.Actor()

	target, err := svc.Register(ctx, "g@example.com", "password123", identity.Meta{})
	require.NoError(t, err)
	token, _, _, err := svc.Login(ctx, "g@example.com", "password123", identity.Meta{})
	require.NoError(t, err)

	lockedUser, err := svc.Lock(ctx, target.ID, super, "abuse", identity.Meta{})
	require.NoError(t, err)
	require.True(t, lockedUser.Locked)

	// Locking revokes the target's live sessions in the same operation.
	_, _, err = svc.ValidateSession(ctx, token)
	require.ErrorIs(t, err, identity.ErrSessionInvalid)

	// Locked accounts can still authenticate with credentials refused.
	_, _, _, err = svc.Login(ctx, "g@example.com", "password123", identity.Meta{})
	require.ErrorIs(t, err, authz.ErrAccountLocked)

	_, err = svc.Lock(ctx, target.ID, super, "", identity.Meta{})
	require.ErrorIs(t, err, identity.ErrAlreadyLocked)

	unlocked, err := svc.Unlock(ctx, target.ID, super, identity.Meta{})
	require.NoError(t, err)
	require.False(t, unlocked.Locked)

	_, err = svc.Unlock(ctx, target.ID, super, identity.Meta{})
	require.ErrorIs(t, err, identity.ErrNotLocked)
}

func TestLockRequiresSuperAdmin(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	target, err := svc.Register(ctx, "h@example.com", "password123", identity.Meta{})
	require.NoError(t, err)
	other, err := svc.Register(ctx, "i@example.com", "password123", identity.Meta{})
	require.NoError(t, err)

	_, err = svc.Lock(ctx, target.ID, other.Actor(), "", identity.Meta{})
	require.ErrorIs(t, err, authz.ErrInsufficientRole)

	// The refused attempt is recorded with a denied outcome.
	entries, _, err := store.ListForActor(ctx, other.ID,
		audit.Filter{Action: string(authz.ActionLockAccount)}, audit.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, audit.OutcomeDenied, entries[0].Outcome)
}

func TestSuperAdminCannotBeLocked(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	root, _, err := svc.EnsureSuperAdmin(ctx, "root@example.com", "password123")
	require.NoError(t, err)

	_, err = svc.Lock(ctx, root.ID, root.Actor(), "", identity.Meta{})
	require.ErrorIs(t, err, identity.ErrProtectedAccount)
}

func TestEnsureSuperAdminIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	first, changed, err := svc.EnsureSuperAdmin(ctx, "root@example.com", "password123")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, authz.RoleSuperAdmin, first.Role)

	second, changed, err := svc.EnsureSuperAdmin(ctx, "root@example.com", "password123")
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, first.ID, second.ID)
}

func TestEnsureSuperAdminPromotesExisting(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	u, err := svc.Register(ctx, "ops@example.com", "password123", identity.Meta{})
	require.NoError(t, err)

	promoted, changed, err := svc.EnsureSuperAdmin(ctx, "ops@example.com", "newpassword1")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, u.ID, promoted.ID)
	require.Equal(t, authz.RoleSuperAdmin, promoted.Role)
}
