package memory

import (
	"context"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/identity"
)

// CreateUser inserts the account and the registration audit entry.
func (s *Store) CreateUser(_ context.Context, u identity.User, entry audit.Entry) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[u.Email]; ok {
		return identity.User{}, identity.ErrEmailTaken
	}
	s.users[u.ID] = u
	s.emails[u.Email] = u.ID
	s.append(entry)
	return u, nil
}

func (s *Store) UserByID(_ context.Context, id string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return s.users[id], nil
}

// EnsureSuperAdmin creates the account or promotes the existing holder of
// the email. The returned bool reports whether anything changed.
func (s *Store) EnsureSuperAdmin(_ context.Context, u identity.User, entry audit.Entry) (identity.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[u.Email]
	if !ok {
		s.users[u.ID] = u
		s.emails[u.Email] = u.ID
		entry.ActorID = u.ID
		entry.ResourceID = u.ID
		s.append(entry)
		return u, true, nil
	}
	existing := s.users[id]
	if existing.Role == authz.RoleSuperAdmin {
		return existing, false, nil
	}
	existing.Role = authz.RoleSuperAdmin
	existing.PasswordHash = u.PasswordHash
	existing.Active = true
	existing.Locked = false
	existing.UpdatedAt = s.now().UTC()
	s.users[id] = existing
	entry.ActorID = id
	entry.ResourceID = id
	s.append(entry)
	return existing, true, nil
}

// CreateSession stores the session and the login audit entry.
func (s *Store) CreateSession(_ context.Context, sess identity.Session, entry audit.Entry) (identity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[sess.UserID]; !ok {
		return identity.Session{}, identity.ErrNotFound
	}
	s.sessions[sess.TokenHash] = sess
	s.append(entry)
	return sess, nil
}

func (s *Store) SessionByTokenHash(_ context.Context, hash string) (identity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[hash]
	if !ok {
		return identity.Session{}, identity.ErrNotFound
	}
	return sess, nil
}

// RevokeSession marks the session revoked and records the logout.
func (s *Store) RevokeSession(_ context.Context, tokenHash string, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenHash]
	if !ok {
		return identity.ErrNotFound
	}
	sess.Revoked = true
	s.sessions[tokenHash] = sess
	s.append(entry)
	return nil
}

// SetUserLocked flips the locked flag after re-validating the acting account
// against its current row. Locking revokes the target's sessions.
func (s *Store) SetUserLocked(_ context.Context, targetID, actorID string, locked bool, entry audit.Entry) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actor, err := s.actor(actorID)
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

	target, ok := s.users[targetID]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	if locked {
		if target.Role == authz.RoleSuperAdmin {
			return identity.User{}, identity.ErrProtectedAccount
		}
		if target.Locked {
			return identity.User{}, identity.ErrAlreadyLocked
		}
		for hash, sess := range s.sessions {
			if sess.UserID == targetID && !sess.Revoked {
				sess.Revoked = true
				s.sessions[hash] = sess
			}
		}
	} else if !target.Locked {
		return identity.User{}, identity.ErrNotLocked
	}

	target.Locked = locked
	target.UpdatedAt = s.now().UTC()
	s.users[targetID] = target
	s.append(entry)
	return target, nil
}
