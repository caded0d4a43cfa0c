package policy

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/database/models"
)

type ActionKind int

const (
	ActionView ActionKind = iota + 1
	ActionEdit
	ActionManageMembers
	ActionDeleteWorkspace
	ActionChangeRole
	ActionRemoveMember
	ActionDeleteResource
	ActionTransferOwnership
)

func (k ActionKind) String() string {
	switch k {
	case ActionView:
		return "view"
	case ActionEdit:
		return "edit"
	case ActionManageMembers:
		return "manage_members"
	case ActionDeleteWorkspace:
		return "delete_workspace"
	case ActionChangeRole:
		return "change_role"
	case ActionRemoveMember:
		return "remove_member"
	case ActionDeleteResource:
		return "delete_resource"
	case ActionTransferOwnership:
		return "transfer_ownership"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// MinimumRole is the lowest role allowed to attempt an action. Adding an
// ActionKind without a case here makes Authorize deny it.
func MinimumRole(k ActionKind) (models.Role, bool) {
	switch k {
	case ActionView:
		return models.RoleViewer, true
	case ActionEdit, ActionDeleteResource:
		return models.RoleEditor, true
	case ActionManageMembers, ActionDeleteWorkspace, ActionChangeRole,
		ActionRemoveMember, ActionTransferOwnership:
		return models.RoleOwner, true
	default:
		return "", false
	}
}

// Action is a requested operation. Target and NewRole are only meaningful for
// member-directed actions.
type Action struct {
	Kind    ActionKind
	Target  uuid.UUID
	NewRole models.Role
}

func View() Action            { return Action{Kind: ActionView} }
func Edit() Action            { return Action{Kind: ActionEdit} }
func ManageMembers() Action   { return Action{Kind: ActionManageMembers} }
func DeleteWorkspace() Action { return Action{Kind: ActionDeleteWorkspace} }
func DeleteResource() Action  { return Action{Kind: ActionDeleteResource} }

func ChangeRole(target uuid.UUID, newRole models.Role) Action {
	return Action{Kind: ActionChangeRole, Target: target, NewRole: newRole}
}

func RemoveMember(target uuid.UUID) Action {
	return Action{Kind: ActionRemoveMember, Target: target}
}

func TransferOwnership(target uuid.UUID) Action {
	return Action{Kind: ActionTransferOwnership, Target: target}
}

func (a Action) targetsMember() bool {
	switch a.Kind {
	case ActionChangeRole, ActionRemoveMember, ActionTransferOwnership:
		return true
	}
	return false
}
