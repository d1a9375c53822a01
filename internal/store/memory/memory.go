// Package memory is the in-process store used by tests and the -dev server
// mode. One mutex guards all tables, so every mutating method is atomic the
// same way a database transaction is: the entity write, the history append
// and the audit entry become visible together.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/elevation"
	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/ids"
	"crimewatch.org/internal/report"
)

// Store implements identity.Store, elevation.Store, report.Store and
// audit.Ledger over in-memory maps.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	users    map[string]identity.User
	emails   map[string]string
	sessions map[string]identity.Session // keyed by token hash
	requests map[string]elevation.Request
	reports  map[string]report.CrimeReport
	history  map[string][]report.HistoryEntry
	entries  []audit.Entry
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		users:    make(map[string]identity.User),
		emails:   make(map[string]string),
		sessions: make(map[string]identity.Session),
		requests: make(map[string]elevation.Request),
		reports:  make(map[string]report.CrimeReport),
		history:  make(map[string][]report.HistoryEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// append records an audit entry, filling id and timestamp when unset.
// Callers hold the write lock.
func (s *Store) append(e audit.Entry) string {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.entries = append(s.entries, e)
	return e.ID
}

// actor loads a user row for an in-transaction policy re-check. Callers hold
// at least the read lock.
func (s *Store) actor(id string) (identity.User, error) {
	u, ok := s.users[id]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

// Append implements audit.Ledger for standalone entries such as denied
// attempts.
func (s *Store) Append(_ context.Context, e audit.Entry) (string, error) {
	if e.Action == "" || e.Outcome == "" {
		return "", audit.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(e), nil
}

// ListAll implements audit.Ledger, newest first.
func (s *Store) ListAll(_ context.Context, f audit.Filter, p audit.Page) ([]audit.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageEntries(s.filtered(f), p)
}

// ListForActor implements audit.Ledger scoped to one actor, newest first.
func (s *Store) ListForActor(_ context.Context, actorID string, f audit.Filter, p audit.Page) ([]audit.Entry, int, error) {
	f.ActorID = actorID
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageEntries(s.filtered(f), p)
}

func (s *Store) filtered(f audit.Filter) []audit.Entry {
	out := make([]audit.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func pageEntries(all []audit.Entry, p audit.Page) ([]audit.Entry, int, error) {
	p = p.Clamp(50, 200)
	total := len(all)
	start := p.Offset
	if start >= total {
		return []audit.Entry{}, total, nil
	}
	end := start + p.Limit
	if end > total {
		end = total
	}
	out := make([]audit.Entry, end-start)
	copy(out, all[start:end])
	return out, total, nil
}
