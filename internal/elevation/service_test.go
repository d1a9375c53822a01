package elevation_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/store/memory"
)

type fixture struct {
	store     *memory.Store
	identity  *identity.Service
	elevation *elevation.Service
	super     authz.Actor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	ident := identity.NewService(store, store)
	root, _, err := ident.EnsureSuperAdmin(context.Background(), "root@example.com", "password123")
	require.NoError(t, err)
	return fixture{
		store:     store,
		identity:  ident,
		elevation: elevation.NewService(store, store),
		super:     root.Actor(),
	}
}

func (f fixture) registerUser(t *testing.T, email string) identity.User {
	t.Helper()
	u, err := f.identity.Register(context.Background(), email, "password123", identity.Meta{})
	require.NoError(t, err)
	return u
}

func TestSubmitAndApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.registerUser(t, "u@example.com")

	req, err := f.elevation.Submit(ctx, u.Actor(), "volunteer moderator", identity.Meta{})
	require.NoError(t, err)
	require.Equal(t, elevation.StatusPending, req.Status)
	require.Equal(t, u.ID, req.UserID)

	resolved, err := f.elevation.Approve(ctx, req.ID, f.super, "welcome aboard", identity.Meta{})
	require.NoError(t, err)
	require.Equal(t, elevation.StatusApproved, resolved.Status)
	require.Equal(t, f.super.ID, resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	// Approval promotes the requester.
	promoted, err := f.identity.Profile(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, authz.RoleAdmin, promoted.Role)
}

func TestSubmitDuplicatePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.registerUser(t, "u@example.com")

	_, err := f.elevation.Submit(ctx, u.Actor(), "", identity.Meta{})
	require.NoError(t, err)
	_, err = f.elevation.Submit(ctx, u.Actor(), "", identity.Meta{})
	require.ErrorIs(t, err, elevation.ErrDuplicatePending)
}

func TestSubmitAfterRejectionAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.registerUser(t, "u@example.com")

	req, err := f.elevation.Submit(ctx, u.Actor(), "", identity.Meta{})
	require.NoError(t, err)
	_, err = f.elevation.Reject(ctx, req.ID, f.super, "not yet", identity.Meta{})
	require.NoError(t, err)

	// Rejection keeps the role and frees the pending slot.
	again, err := f.identity.Profile(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, authz.RoleUser, again.Role)

	_, err = f.elevation.Submit(ctx, u.Actor(), "second try", identity.Meta{})
	require.NoError(t, err)
}

func TestAdminCannotSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.registerUser(t, "u@example.com")

	req, err := f.elevation.Submit(ctx, u.Actor(), "", identity.Meta{})
	require.NoError(t, err)
	_, err = f.elevation.Approve(ctx, req.ID, f.super, "", identity.Meta{})
	require.NoError(t, err)

	admin, err := f.identity.Profile(ctx, u.ID)
	require.NoError(t, err)
	_, err = f.elevation.Submit(ctx, admin.Actor(), "", identity.Meta{})
	require.ErrorIs(t, err, elevation.ErrAlreadyPrivileged)
}

func TestResolveIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.registerUser(t, "u@example.com")

	req, err := f.elevation.Submit(ctx, u.Actor(), "", identity.Meta{})
	require.NoError(t, err)
	_, err = f.elevation.Approve(ctx, req.ID, f.super, "", identity.Meta{})
	require.NoError(t, err)

	_, err = f.elevation.Approve(ctx, req.ID, f.super, "", identity.Meta{})
	require.ErrorIs(t, err, elevation.ErrNotPending)
	_, err = f.elevation.Reject(ctx, req.ID, f.super, "", identity.Meta{})
	require.ErrorIs(t, err, elevation.ErrNotPending)
}

func TestConcurrentResolvesPickOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.registerUser(t, "u@example.com")

	req, err := f.elevation.Submit(ctx, u.Actor(), "", identity.Meta{})
	require.NoError(t, err)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.elevation.Approve(ctx, req.ID, f.super, "", identity.Meta{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	// Exactly one resolver wins; the loser observes the terminal status.
	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, elevation.ErrNotPending):
			lost++
		default:
			t.Fatalf("unexpected resolve error: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, lost)

	promoted, err := f.identity.Profile(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, authz.RoleAdmin, promoted.Role)
}

func TestResolveRequiresSuperAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.registerUser(t, "u@example.com")
	other := f.registerUser(t, "other@example.com")

	req, err := f.elevation.Submit(ctx, u.Actor(), "", identity.Meta{})
	require.NoError(t, err)

	_, err = f.elevation.Approve(ctx, req.ID, other.Actor(), "", identity.Meta{})
	require.ErrorIs(t, err, authz.ErrInsufficientRole)

	// The refusal lands in the ledger with a denied outcome.
	entries, _, err := f.store.ListForActor(ctx, other.ID,
		audit.Filter{Action: string(authz.ActionResolveElevation)}, audit.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, audit.OutcomeDenied, entries[0].Outcome)
}

func TestRevokeAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.registerUser(t, "u@example.com")

	req, err := f.elevation.Submit(ctx, u.Actor(), "", identity.Meta{})
	require.NoError(t, err)
	_, err = f.elevation.Approve(ctx, req.ID, f.super, "", identity.Meta{})
	require.NoError(t, err)

	demoted, err := f.elevation.Revoke(ctx, u.ID, f.super, "policy violation", identity.Meta{})
	require.NoError(t, err)
	require.Equal(t, authz.RoleUser, demoted.Role)

	// The historical request record stays resolved.
	requests, err := f.elevation.StatusFor(ctx, demoted.Actor())
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.Equal(t, elevation.StatusApproved, requests[0].Status)

	_, err = f.elevation.Revoke(ctx, u.ID, f.super, "", identity.Meta{})
	require.ErrorIs(t, err, elevation.ErrNotAdmin)
}

func TestListOrdersPendingFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.registerUser(t, "a@example.com")
	b := f.registerUser(t, "b@example.com")

	reqA, err := f.elevation.Submit(ctx, a.Actor(), "", identity.Meta{})
	require.NoError(t, err)
	_, err = f.elevation.Reject(ctx, reqA.ID, f.super, "", identity.Meta{})
	require.NoError(t, err)
	reqB, err := f.elevation.Submit(ctx, b.Actor(), "", identity.Meta{})
	require.NoError(t, err)

	requests, total, err := f.elevation.List(ctx, f.super, "", 10, 0, identity.Meta{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, reqB.ID, requests[0].ID)
	require.Equal(t, elevation.StatusPending, requests[0].Status)

	pending, total, err := f.elevation.List(ctx, f.super, elevation.StatusPending, 10, 0, identity.Meta{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, pending, 1)
}
