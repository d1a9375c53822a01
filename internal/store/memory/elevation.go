package memory

import (
	"context"
	"sort"
	"time"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/identity"
)

// CreateRequest inserts a PENDING request, enforcing one-pending-per-user and
// the requester's current role inside the same critical section.
func (s *Store) CreateRequest(_ context.Context, req elevation.Request, entry audit.Entry) (elevation.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.actor(req.UserID)
	if err != nil {
		return elevation.Request{}, err
	}
	if err := authz.Authorize(u.Actor(), authz.ActionRequestElevation, ""); err != nil {
		return elevation.Request{}, err
	}
	if u.Role.AdminTier() {
		return elevation.Request{}, elevation.ErrAlreadyPrivileged
	}
	for _, existing := range s.requests {
		if existing.UserID == req.UserID && existing.Status == elevation.StatusPending {
			return elevation.Request{}, elevation.ErrDuplicatePending
		}
	}
	s.requests[req.ID] = req
	s.append(entry)
	return req, nil
}

func (s *Store) RequestByID(_ context.Context, id string) (elevation.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return elevation.Request{}, elevation.ErrNotFound
	}
	return req, nil
}

// ListRequests returns requests PENDING-first, newest first within each
// group. An empty status matches every request.
func (s *Store) ListRequests(_ context.Context, status elevation.Status, limit, offset int) ([]elevation.Request, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]elevation.Request, 0, len(s.requests))
	for _, req := range s.requests {
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Status == elevation.StatusPending, out[j].Status == elevation.StatusPending
		if pi != pj {
			return pi
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	if offset >= total {
		return []elevation.Request{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (s *Store) ListRequestsForUser(_ context.Context, userID string) ([]elevation.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]elevation.Request, 0, 2)
	for _, req := range s.requests {
		if req.UserID == userID {
			out = append(out, req)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ResolveRequest moves a PENDING request to its terminal state. Approval
// promotes the requester to ADMIN in the same critical section; the mutex
// plays the part of the database's compare-and-set, so a second resolver
// observes the terminal status and fails with ErrNotPending.
func (s *Store) ResolveRequest(_ context.Context, requestID, resolverID string, status elevation.Status, notes string, resolvedAt time.Time, entry audit.Entry) (elevation.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolver, err := s.actor(resolverID)
	if err != nil {
		return elevation.Request{}, err
	}
	if err := authz.Authorize(resolver.Actor(), authz.ActionResolveElevation, ""); err != nil {
		return elevation.Request{}, err
	}

	req, ok := s.requests[requestID]
	if !ok {
		return elevation.Request{}, elevation.ErrNotFound
	}
	if req.Status != elevation.StatusPending {
		return elevation.Request{}, elevation.ErrNotPending
	}

	if status == elevation.StatusApproved {
		u, ok := s.users[req.UserID]
		if !ok {
			return elevation.Request{}, identity.ErrNotFound
		}
		if u.Role == authz.RoleUser {
			u.Role = authz.RoleAdmin
			u.UpdatedAt = resolvedAt
			s.users[u.ID] = u
		}
	}

	req.Status = status
	req.ResolutionNotes = notes
	req.ResolvedBy = resolverID
	req.ResolvedAt = &resolvedAt
	s.requests[requestID] = req
	s.append(entry)
	return req, nil
}

// RevokeAdmin demotes an ADMIN back to USER after re-validating the acting
// account.
func (s *Store) RevokeAdmin(_ context.Context, targetID, actorID string, entry audit.Entry) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actor, err := s.actor(actorID)
	if err != nil {
		return identity.User{}, err
	}
	if err := authz.Authorize(actor.Actor(), authz.ActionRevokeAdmin, ""); err != nil {
		return identity.User{}, err
	}

	target, ok := s.users[targetID]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	if target.Role != authz.RoleAdmin {
		return identity.User{}, elevation.ErrNotAdmin
	}
	target.Role = authz.RoleUser
	target.UpdatedAt = s.now().UTC()
	s.users[targetID] = target
	s.append(entry)
	return target, nil
}
