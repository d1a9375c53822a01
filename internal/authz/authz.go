// Package authz is the single decision point for role-based access control.
// It is a pure policy table: no I/O, no clock, no storage. Every mutating
// entry point routes through Authorize, and the storage layer re-evaluates
// the same policy inside the transaction against current persisted state.
package authz

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the closed set of privilege tiers.
type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// ParseRole validates a persisted or user-supplied role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleSuperAdmin:
		return RoleSuperAdmin, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

// AdminTier reports whether the role carries admin privileges.
func (r Role) AdminTier() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Action identifies an operation submitted for a policy decision.
type Action string

const (
	// Open to any authenticated, unlocked account.
	ActionCreateReport     Action = "report.create"
	ActionListReports      Action = "report.list"
	ActionRequestElevation Action = "elevation.request"

	// Ownership-scoped.
	ActionViewReport        Action = "report.view"
	ActionViewReportHistory Action = "report.history"
	ActionViewOwnProfile    Action = "profile.view"
	ActionLogout            Action = "session.logout"

	// Admin tier.
	ActionUpdateReportStatus   Action = "report.status.update"
	ActionUpdateReportPriority Action = "report.priority.update"
	ActionUpdateReportNotes    Action = "report.notes.update"
	ActionDeleteReport         Action = "report.delete"

	// Super admin only.
	ActionResolveElevation Action = "elevation.resolve"
	ActionRevokeAdmin      Action = "admin.revoke"
	ActionLockAccount      Action = "account.lock"
	ActionUnlockAccount    Action = "account.unlock"
	ActionViewAuditLogs    Action = "audit.view"
)

var superAdminActions = map[Action]struct{}{
	ActionResolveElevation: {},
	ActionRevokeAdmin:      {},
	ActionLockAccount:      {},
	ActionUnlockAccount:    {},
	ActionViewAuditLogs:    {},
}

var adminTierActions = map[Action]struct{}{
	ActionUpdateReportStatus:   {},
	ActionUpdateReportPriority: {},
	ActionUpdateReportNotes:    {},
	ActionDeleteReport:         {},
}

// lockExempt actions stay available to a locked account so it can observe
// its own state and end its session.
var lockExempt = map[Action]struct{}{
	ActionViewOwnProfile: {},
	ActionLogout:         {},
}

var (
	ErrAccountLocked    = errors.New("account is locked")
	ErrInsufficientRole = errors.New("insufficient role")
	ErrInvalidInput     = errors.New("invalid input")
)

// Actor is the authenticated identity a decision is made for.
type Actor struct {
	ID     string
	Role   Role
	Locked bool
}

// Authorize evaluates the policy table in order, first match wins.
// ownerID is the owning user of the target resource; it only participates
// in ownership-scoped decisions and may be empty otherwise.
func Authorize(actor Actor, action Action, ownerID string) error {
	if actor.Locked {
		if _, ok := lockExempt[action]; !ok {
			return fmt.Errorf("%w: action %s", ErrAccountLocked, action)
		}
		return nil
	}
	if _, ok := superAdminActions[action]; ok {
		if actor.Role != RoleSuperAdmin {
			return fmt.Errorf("%w: action %s requires %s", ErrInsufficientRole, action, RoleSuperAdmin)
		}
		return nil
	}
	if _, ok := adminTierActions[action]; ok {
		if !actor.Role.AdminTier() {
			return fmt.Errorf("%w: action %s requires admin tier", ErrInsufficientRole, action)
		}
		return nil
	}
	if action == ActionViewReportHistory {
		if actor.Role.AdminTier() || (ownerID != "" && ownerID == actor.ID) {
			return nil
		}
		return fmt.Errorf("%w: action %s", ErrInsufficientRole, action)
	}
	// Remaining actions are open to any authenticated, unlocked account;
	// ownership-scoped view narrowing is handled by ViewScope.
	return nil
}

// Scope is the projection a viewer is entitled to.
type Scope int

const (
	// ScopeHidden hides even the existence of the resource.
	ScopeHidden Scope = iota
	// ScopeBrief exposes the summary projection only.
	ScopeBrief
	// ScopeFull exposes the complete record including admin notes.
	ScopeFull
)

// ViewScope decides the visibility of a report for an actor. Soft-deleted
// reports carry their deletion into the decision so every read path inherits
// the hiding rule instead of re-checking the flag ad hoc.
func ViewScope(actor Actor, ownerID string, deleted bool) Scope {
	if actor.Role.AdminTier() {
		return ScopeFull
	}
	if deleted {
		return ScopeHidden
	}
	if ownerID != "" && ownerID == actor.ID {
		return ScopeFull
	}
	return ScopeBrief
}
