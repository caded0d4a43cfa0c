// Package policy decides whether a workspace member may perform an action.
//
// Authorize is pure: callers load a Snapshot of the relevant memberships
// (inside the same transaction that will perform the mutation) and act only
// on a granted Decision.
package policy

import (
	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/database/models"
)

type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonNotMember             Reason = "not_member"
	ReasonInsufficientRole      Reason = "insufficient_role"
	ReasonNonOwner              Reason = "non_owner"
	ReasonPersonalWorkspace     Reason = "personal_workspace"
	ReasonLastOwner             Reason = "last_owner"
	ReasonOwnerTransferRequired Reason = "owner_transfer_required"
	ReasonTargetNotMember       Reason = "target_not_member"
	ReasonInvalidRole           Reason = "invalid_role"
	ReasonSelfTransfer          Reason = "self_transfer"
	ReasonUnknownAction         Reason = "unknown_action"
)

// Message is the human-readable text for a reason code.
func (r Reason) Message() string {
	switch r {
	case ReasonNotMember:
		return "not a member"
	case ReasonInsufficientRole:
		return "insufficient role"
	case ReasonNonOwner:
		return "not permitted: non-owner"
	case ReasonPersonalWorkspace:
		return "not allowed on a personal workspace"
	case ReasonLastOwner:
		return "cannot remove or demote last owner"
	case ReasonOwnerTransferRequired:
		return "ownership must be transferred explicitly"
	case ReasonTargetNotMember:
		return "target is not a member"
	case ReasonInvalidRole:
		return "invalid role"
	case ReasonSelfTransfer:
		return "cannot transfer ownership to yourself"
	case ReasonUnknownAction:
		return "unknown action"
	default:
		return ""
	}
}

// Snapshot is the membership state an authorization decision is made against.
type Snapshot struct {
	Caller        uuid.UUID
	CallerRole    models.Role // empty when the caller holds no membership
	WorkspaceKind models.WorkspaceKind
	OwnerCount    int
	TargetRole    models.Role // empty when the target holds no membership
}

type Decision struct {
	Granted bool
	Reason  Reason
}

func grant() Decision           { return Decision{Granted: true} }
func deny(r Reason) Decision    { return Decision{Reason: r} }
func (d Decision) Denied() bool { return !d.Granted }

// Authorize evaluates the base rank check first, then the special-case rules.
// Each special rule is a hard deny regardless of rank.
func Authorize(s Snapshot, a Action) Decision {
	if Rank(s.CallerRole) == 0 {
		return deny(ReasonNotMember)
	}

	required, ok := MinimumRole(a.Kind)
	if !ok {
		return deny(ReasonUnknownAction)
	}
	if !AtLeast(s.CallerRole, required) {
		if a.targetsMember() {
			return deny(ReasonNonOwner)
		}
		return deny(ReasonInsufficientRole)
	}

	switch a.Kind {
	case ActionDeleteWorkspace, ActionManageMembers:
		if s.WorkspaceKind == models.WorkspaceKindPersonal {
			return deny(ReasonPersonalWorkspace)
		}

	case ActionChangeRole:
		if a.NewRole == models.RoleOwner {
			return deny(ReasonOwnerTransferRequired)
		}
		if Rank(a.NewRole) == 0 {
			return deny(ReasonInvalidRole)
		}
		if d := checkTarget(s, a); d.Denied() {
			return d
		}

	case ActionRemoveMember:
		if d := checkTarget(s, a); d.Denied() {
			return d
		}

	case ActionTransferOwnership:
		if a.Target == s.Caller {
			return deny(ReasonSelfTransfer)
		}
		if Rank(s.TargetRole) == 0 {
			return deny(ReasonTargetNotMember)
		}
	}

	return grant()
}

// checkTarget guards the owner invariant: an owner may only lose that role
// while another owner remains.
func checkTarget(s Snapshot, a Action) Decision {
	if Rank(s.TargetRole) == 0 {
		return deny(ReasonTargetNotMember)
	}
	if s.TargetRole == models.RoleOwner && s.OwnerCount <= 1 {
		return deny(ReasonLastOwner)
	}
	return grant()
}
