package elevation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/ids"
	"crimewatch.org/internal/obs"
)

// Store describes the atomic persistence operations of the elevation
// workflow. Mutating methods run as one transaction together with the audit
// entry and re-validate the acting account's current persisted state.
type Store interface {
	// CreateRequest inserts a PENDING request. It fails with
	// ErrDuplicatePending when the user already has one and with
	// ErrAlreadyPrivileged when the user's current role is admin-tier.
	CreateRequest(ctx context.Context, req Request, entry audit.Entry) (Request, error)
	RequestByID(ctx context.Context, id string) (Request, error)
	ListRequests(ctx context.Context, status Status, limit, offset int) ([]Request, int, error)
	ListRequestsForUser(ctx context.Context, userID string) ([]Request, error)

	// ResolveRequest moves a PENDING request to APPROVED or REJECTED via
	// compare-and-set; a lost race surfaces as ErrNotPending. Approval
	// promotes the requesting user to ADMIN in the same transaction.
	ResolveRequest(ctx context.Context, requestID, resolverID string, status Status, notes string, resolvedAt time.Time, entry audit.Entry) (Request, error)

	// RevokeAdmin demotes an ADMIN back to USER.
	RevokeAdmin(ctx context.Context, targetID, actorID string, entry audit.Entry) (identity.User, error)
}

// Service wires authorization and auditing around the elevation Store.
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

// NewService constructs the elevation service.
func NewService(store Store, ledger audit.Ledger, opts ...Option) *Service {
	s := &Service{store: store, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit files an elevation request for the acting user.
func (s *Service) Submit(ctx context.Context, actor authz.Actor, reason string, meta identity.Meta) (Request, error) {
	if err := s.deny(ctx, actor, authz.ActionRequestElevation, "", meta); err != nil {
		return Request{}, err
	}
	if actor.Role.AdminTier() {
		return Request{}, ErrAlreadyPrivileged
	}
	req := Request{
		ID:        ids.New(),
		UserID:    actor.ID,
		Status:    StatusPending,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: s.now().UTC(),
	}
	created, err := s.store.CreateRequest(ctx, req, audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionElevationRequested,
		ResourceType: audit.ResourceAdminRequest,
		ResourceID:   req.ID,
		Outcome:      audit.OutcomeSuccess,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return Request{}, err
	}
	obs.Logger().Info("elevation requested",
		zap.String("request_id", created.ID), zap.String("user_id", actor.ID))
	return created, nil
}

// StatusFor lists the acting user's own requests, newest first.
func (s *Service) StatusFor(ctx context.Context, actor authz.Actor) ([]Request, error) {
	if err := authz.Authorize(actor, authz.ActionViewOwnProfile, actor.ID); err != nil {
		return nil, err
	}
	return s.store.ListRequestsForUser(ctx, actor.ID)
}

// List returns requests for review (SUPER_ADMIN only), PENDING first and
// newest first within each group. An empty status lists every request.
func (s *Service) List(ctx context.Context, actor authz.Actor, status Status, limit, offset int, meta identity.Meta) ([]Request, int, error) {
	if err := s.deny(ctx, actor, authz.ActionResolveElevation, "", meta); err != nil {
		return nil, 0, err
	}
	if status != "" {
		if _, err := ParseStatus(string(status)); err != nil {
			return nil, 0, err
		}
	}
	return s.store.ListRequests(ctx, status, limit, offset)
}

// Approve resolves a PENDING request and promotes its user to ADMIN.
func (s *Service) Approve(ctx context.Context, requestID string, actor authz.Actor, notes string, meta identity.Meta) (Request, error) {
	return s.resolve(ctx, requestID, actor, StatusApproved, notes, audit.ActionElevationApproved, meta)
}

// Reject resolves a PENDING request without changing the user's role.
func (s *Service) Reject(ctx context.Context, requestID string, actor authz.Actor, notes string, meta identity.Meta) (Request, error) {
	return s.resolve(ctx, requestID, actor, StatusRejected, notes, audit.ActionElevationRejected, meta)
}

func (s *Service) resolve(ctx context.Context, requestID string, actor authz.Actor, status Status, notes, action string, meta identity.Meta) (Request, error) {
	if err := s.deny(ctx, actor, authz.ActionResolveElevation, requestID, meta); err != nil {
		return Request{}, err
	}
	resolved, err := s.store.ResolveRequest(ctx, requestID, actor.ID, status, strings.TrimSpace(notes), s.now().UTC(), audit.Entry{
		ActorID:      actor.ID,
		Action:       action,
		ResourceType: audit.ResourceAdminRequest,
		ResourceID:   requestID,
		Outcome:      audit.OutcomeSuccess,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return Request{}, err
	}
	obs.Logger().Info("elevation resolved",
		zap.String("request_id", requestID),
		zap.String("status", string(status)),
		zap.String("resolver_id", actor.ID))
	return resolved, nil
}

// Revoke demotes an ADMIN back to USER (SUPER_ADMIN only).
func (s *Service) Revoke(ctx context.Context, targetID string, actor authz.Actor, reason string, meta identity.Meta) (identity.User, error) {
	if err := s.deny(ctx, actor, authz.ActionRevokeAdmin, targetID, meta); err != nil {
		return identity.User{}, err
	}
	detail := map[string]string{}
	if reason = strings.TrimSpace(reason); reason != "" {
		detail["reason"] = reason
	}
	u, err := s.store.RevokeAdmin(ctx, targetID, actor.ID, audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionAdminRevoked,
		ResourceType: audit.ResourceUser,
		ResourceID:   targetID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       detail,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return identity.User{}, err
	}
	obs.Logger().Info("admin revoked",
		zap.String("user_id", targetID), zap.String("actor_id", actor.ID))
	return u, nil
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
		ResourceType: audit.ResourceAdminRequest,
		ResourceID:   resourceID,
		Outcome:      audit.OutcomeDenied,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	return err
}
