package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"crimewatch.org/internal/audit"
	"crimewatch.org/internal/authz"
	"crimewatch.org/internal/ids"
	"crimewatch.org/internal/obs"
)

const defaultSessionTTL = 24 * time.Hour

// Store describes the atomic persistence operations the identity service
// needs. Each mutating method executes as one transaction: the entity write
// and the supplied audit entry become visible together or not at all, and
// methods taking an actorID re-validate authorization against the actor's
// current persisted row inside that transaction.
type Store interface {
	CreateUser(ctx context.Context, u User, entry audit.Entry) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	// EnsureSuperAdmin creates the account or promotes an existing one.
	// It is the only path that produces RoleSuperAdmin.
	EnsureSuperAdmin(ctx context.Context, u User, entry audit.Entry) (User, bool, error)

	CreateSession(ctx context.Context, s Session, entry audit.Entry) (Session, error)
	SessionByTokenHash(ctx context.Context, hash string) (Session, error)
	RevokeSession(ctx context.Context, tokenHash string, entry audit.Entry) error

	// SetUserLocked flips the locked flag via compare-and-set and, when
	// locking, revokes the target's live sessions in the same transaction.
	SetUserLocked(ctx context.Context, targetID, actorID string, locked bool, entry audit.Entry) (User, error)
}

// Meta carries request provenance recorded on audit entries.
type Meta struct {
	IP        string
	UserAgent string
}

// Service implements registration, login, session validation and account
// locking on top of a Store.
type Service struct {
	store      Store
	ledger     audit.Ledger
	hasher     Hasher
	sessionTTL time.Duration
	now        func() time.Time
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

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithHasher overrides the password hasher.
func WithHasher(h Hasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// NewService constructs the identity service.
func NewService(store Store, ledger audit.Ledger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		ledger:     ledger,
		hasher:     BcryptHasher{},
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a USER-role account.
func (s *Service) Register(ctx context.Context, email, password string, meta Meta) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	u := User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         authz.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := s.store.CreateUser(ctx, u, audit.Entry{
		ActorID:      u.ID,
		Action:       audit.ActionUserRegistered,
		ResourceType: audit.ResourceUser,
		ResourceID:   u.ID,
		Outcome:      audit.OutcomeSuccess,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return User{}, err
	}
	obs.Logger().Info("user registered", zap.String("user_id", created.ID))
	return created, nil
}

// Login verifies credentials and issues an opaque session token. The
// plaintext token is returned once and only its hash is persisted.
func (s *Service) Login(ctx context.Context, email, password string, meta Meta) (string, Session, User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", Session{}, User{}, ErrInvalidCredentials
	}
	u, err := s.store.UserByEmail(ctx, email)
	if err != nil || !s.hasher.Verify(u.PasswordHash, password) {
		// Identical failure for unknown email and wrong password.
		return "", Session{}, User{}, ErrInvalidCredentials
	}
	if u.Locked {
		return "", Session{}, User{}, fmt.Errorf("%w: login refused", authz.ErrAccountLocked)
	}
	if !u.Active {
		return "", Session{}, User{}, ErrAccountInactive
	}

	token, tokenHash, err := newSessionToken()
	if err != nil {
		return "", Session{}, User{}, err
	}
	now := s.now().UTC()
	sess := Session{
		ID:        ids.New(),
		UserID:    u.ID,
		TokenHash: tokenHash,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	created, err := s.store.CreateSession(ctx, sess, audit.Entry{
		ActorID:      u.ID,
		Action:       audit.ActionUserLogin,
		ResourceType: audit.ResourceUser,
		ResourceID:   u.ID,
		Outcome:      audit.OutcomeSuccess,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return "", Session{}, User{}, err
	}
	return token, created, u, nil
}

// Logout revokes the session behind the token. Unknown tokens are treated as
// already-revoked, so logout is idempotent.
func (s *Service) Logout(ctx context.Context, token string, actor authz.Actor, meta Meta) error {
	if strings.TrimSpace(token) == "" {
		return ErrSessionInvalid
	}
	err := s.store.RevokeSession(ctx, hashToken(token), audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionUserLogout,
		ResourceType: audit.ResourceUser,
		ResourceID:   actor.ID,
		Outcome:      audit.OutcomeSuccess,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ValidateSession resolves a token to the CURRENT state of its owner. Locked
// accounts still authenticate; the policy engine rejects them per action.
func (s *Service) ValidateSession(ctx context.Context, token string) (authz.Actor, User, error) {
	if strings.TrimSpace(token) == "" {
		return authz.Actor{}, User{}, ErrSessionInvalid
	}
	sess, err := s.store.SessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return authz.Actor{}, User{}, ErrSessionInvalid
	}
	if !sess.Live(s.now().UTC()) {
		return authz.Actor{}, User{}, ErrSessionInvalid
	}
	u, err := s.store.UserByID(ctx, sess.UserID)
	if err != nil || !u.Active {
		return authz.Actor{}, User{}, ErrSessionInvalid
	}
	return u.Actor(), u, nil
}

// Profile returns the account behind an id.
func (s *Service) Profile(ctx context.Context, userID string) (User, error) {
	return s.store.UserByID(ctx, userID)
}

// Lock disables a target account (SUPER_ADMIN only) and revokes its live
// sessions atomically.
func (s *Service) Lock(ctx context.Context, targetID string, actor authz.Actor, reason string, meta Meta) (User, error) {
	if err := s.deny(ctx, actor, authz.ActionLockAccount, targetID, meta); err != nil {
		return User{}, err
	}
	detail := map[string]string{}
	if reason = strings.TrimSpace(reason); reason != "" {
		detail["reason"] = reason
	}
	u, err := s.store.SetUserLocked(ctx, targetID, actor.ID, true, audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionUserLocked,
		ResourceType: audit.ResourceUser,
		ResourceID:   targetID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       detail,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return User{}, err
	}
	obs.Logger().Info("account locked",
		zap.String("user_id", targetID), zap.String("actor_id", actor.ID))
	return u, nil
}

// Unlock re-enables a locked account (SUPER_ADMIN only).
func (s *Service) Unlock(ctx context.Context, targetID string, actor authz.Actor, meta Meta) (User, error) {
	if err := s.deny(ctx, actor, authz.ActionUnlockAccount, targetID, meta); err != nil {
		return User{}, err
	}
	u, err := s.store.SetUserLocked(ctx, targetID, actor.ID, false, audit.Entry{
		ActorID:      actor.ID,
		Action:       audit.ActionUserUnlocked,
		ResourceType: audit.ResourceUser,
		ResourceID:   targetID,
		Outcome:      audit.OutcomeSuccess,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	if err != nil {
		return User{}, err
	}
	obs.Logger().Info("account unlocked",
		zap.String("user_id", targetID), zap.String("actor_id", actor.ID))
	return u, nil
}

// EnsureSuperAdmin is the out-of-band seed path. It is idempotent: an
// existing SUPER_ADMIN with the email is returned unchanged, any other
// account with the email is promoted.
func (s *Service) EnsureSuperAdmin(ctx context.Context, email, password string) (User, bool, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, false, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return User{}, false, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, false, err
	}
	now := s.now().UTC()
	u := User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         authz.RoleSuperAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.store.EnsureSuperAdmin(ctx, u, audit.Entry{
		Action:       audit.ActionUserRegistered,
		ResourceType: audit.ResourceUser,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]string{"seed": "super_admin"},
	})
}

// deny runs the fast-path policy check and records refused privileged
// attempts in the audit ledger. The storage layer repeats the check inside
// the transaction.
func (s *Service) deny(ctx context.Context, actor authz.Actor, action authz.Action, resourceID string, meta Meta) error {
	err := authz.Authorize(actor, action, "")
	if err == nil {
		return nil
	}
	obs.AuthzDenied(string(action), denyReason(err))
	_, _ = s.ledger.Append(ctx, audit.Entry{
		ActorID:      actor.ID,
		Action:       string(action),
		ResourceType: audit.ResourceUser,
		ResourceID:   resourceID,
		Outcome:      audit.OutcomeDenied,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
	return err
}

func denyReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, authz.ErrAccountLocked):
		return "account_locked"
	default:
		return "insufficient_role"
	}
}

func newSessionToken() (token, tokenHash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
