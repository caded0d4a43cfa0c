package policy_test

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allRoles = []models.Role{"", models.RoleViewer, models.RoleEditor, models.RoleOwner}

func TestRank(t *testing.T) {
	assert.Greater(t, policy.Rank(models.RoleOwner), policy.Rank(models.RoleEditor))
	assert.Greater(t, policy.Rank(models.RoleEditor), policy.Rank(models.RoleViewer))
	assert.Greater(t, policy.Rank(models.RoleViewer), 0)
	assert.Equal(t, 0, policy.Rank(models.Role("admin")))
	assert.Equal(t, 0, policy.Rank(""))

	assert.False(t, policy.AtLeast("", models.RoleViewer))
	assert.True(t, policy.AtLeast(models.RoleOwner, models.RoleViewer))
	assert.False(t, policy.AtLeast(models.RoleViewer, models.RoleEditor))
}

func TestMinimumRole_CoversEveryAction(t *testing.T) {
	kinds := []policy.ActionKind{
		policy.ActionView,
		policy.ActionEdit,
		policy.ActionManageMembers,
		policy.ActionDeleteWorkspace,
		policy.ActionChangeRole,
		policy.ActionRemoveMember,
		policy.ActionDeleteResource,
		policy.ActionTransferOwnership,
	}
	for _, k := range kinds {
		role, ok := policy.MinimumRole(k)
		assert.True(t, ok, k.String())
		assert.NotZero(t, policy.Rank(role), k.String())
	}

	_, ok := policy.MinimumRole(policy.ActionKind(99))
	assert.False(t, ok)
}

func TestAuthorize_NonMemberAlwaysDenied(t *testing.T) {
	target := uuid.New()
	actions := []policy.Action{
		policy.View(),
		policy.Edit(),
		policy.ManageMembers(),
		policy.DeleteWorkspace(),
		policy.DeleteResource(),
		policy.ChangeRole(target, models.RoleViewer),
		policy.RemoveMember(target),
		policy.TransferOwnership(target),
	}
	for _, kind := range []models.WorkspaceKind{models.WorkspaceKindPersonal, models.WorkspaceKindTeam} {
		for _, a := range actions {
			d := policy.Authorize(policy.Snapshot{
				Caller:        uuid.New(),
				WorkspaceKind: kind,
				OwnerCount:    1,
				TargetRole:    models.RoleEditor,
			}, a)
			assert.False(t, d.Granted, a.Kind.String())
			assert.Equal(t, policy.ReasonNotMember, d.Reason, a.Kind.String())
		}
	}
}

func TestAuthorize_BaseRankMatrix(t *testing.T) {
	tests := []struct {
		action policy.Action
		role   models.Role
		want   bool
		reason policy.Reason
	}{
		{policy.View(), models.RoleViewer, true, policy.ReasonNone},
		{policy.View(), models.RoleEditor, true, policy.ReasonNone},
		{policy.View(), models.RoleOwner, true, policy.ReasonNone},
		{policy.Edit(), models.RoleViewer, false, policy.ReasonInsufficientRole},
		{policy.Edit(), models.RoleEditor, true, policy.ReasonNone},
		{policy.Edit(), models.RoleOwner, true, policy.ReasonNone},
		{policy.DeleteResource(), models.RoleViewer, false, policy.ReasonInsufficientRole},
		{policy.DeleteResource(), models.RoleEditor, true, policy.ReasonNone},
		{policy.ManageMembers(), models.RoleViewer, false, policy.ReasonInsufficientRole},
		{policy.ManageMembers(), models.RoleEditor, false, policy.ReasonInsufficientRole},
		{policy.ManageMembers(), models.RoleOwner, true, policy.ReasonNone},
		{policy.DeleteWorkspace(), models.RoleEditor, false, policy.ReasonInsufficientRole},
		{policy.DeleteWorkspace(), models.RoleOwner, true, policy.ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.action.Kind.String()+"/"+string(tt.role), func(t *testing.T) {
			d := policy.Authorize(policy.Snapshot{
				Caller:        uuid.New(),
				CallerRole:    tt.role,
				WorkspaceKind: models.WorkspaceKindTeam,
				OwnerCount:    1,
			}, tt.action)
			assert.Equal(t, tt.want, d.Granted)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestAuthorize_PersonalWorkspaceNeverDeletable(t *testing.T) {
	for _, role := range allRoles {
		for owners := 0; owners <= 3; owners++ {
			d := policy.Authorize(policy.Snapshot{
				Caller:        uuid.New(),
				CallerRole:    role,
				WorkspaceKind: models.WorkspaceKindPersonal,
				OwnerCount:    owners,
			}, policy.DeleteWorkspace())
			assert.False(t, d.Granted, "role %q owners %d", role, owners)
		}
	}

	d := policy.Authorize(policy.Snapshot{
		Caller:        uuid.New(),
		CallerRole:    models.RoleOwner,
		WorkspaceKind: models.WorkspaceKindPersonal,
		OwnerCount:    1,
	}, policy.DeleteWorkspace())
	assert.Equal(t, policy.ReasonPersonalWorkspace, d.Reason)
}

func TestAuthorize_MemberManagement(t *testing.T) {
	caller := uuid.New()
	other := uuid.New()

	tests := []struct {
		name     string
		snapshot policy.Snapshot
		action   policy.Action
		want     bool
		reason   policy.Reason
	}{
		{
			name:     "owner demotes editor",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1, TargetRole: models.RoleEditor},
			action:   policy.ChangeRole(other, models.RoleViewer),
			want:     true,
		},
		{
			name:     "owner promotes viewer to editor",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1, TargetRole: models.RoleViewer},
			action:   policy.ChangeRole(other, models.RoleEditor),
			want:     true,
		},
		{
			name:     "sole owner demotes self",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1, TargetRole: models.RoleOwner},
			action:   policy.ChangeRole(caller, models.RoleViewer),
			reason:   policy.ReasonLastOwner,
		},
		{
			name:     "sole owner removes self",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1, TargetRole: models.RoleOwner},
			action:   policy.RemoveMember(caller),
			reason:   policy.ReasonLastOwner,
		},
		{
			name:     "co-owner demotes self",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 2, TargetRole: models.RoleOwner},
			action:   policy.ChangeRole(caller, models.RoleEditor),
			want:     true,
		},
		{
			name:     "co-owner removes other owner",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 2, TargetRole: models.RoleOwner},
			action:   policy.RemoveMember(other),
			want:     true,
		},
		{
			name:     "change role to owner",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1, TargetRole: models.RoleEditor},
			action:   policy.ChangeRole(other, models.RoleOwner),
			reason:   policy.ReasonOwnerTransferRequired,
		},
		{
			name:     "change role to unknown role",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1, TargetRole: models.RoleEditor},
			action:   policy.ChangeRole(other, models.Role("admin")),
			reason:   policy.ReasonInvalidRole,
		},
		{
			name:     "editor changes role",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleEditor, OwnerCount: 1, TargetRole: models.RoleViewer},
			action:   policy.ChangeRole(other, models.RoleEditor),
			reason:   policy.ReasonNonOwner,
		},
		{
			name:     "viewer escalates self",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleViewer, OwnerCount: 1, TargetRole: models.RoleViewer},
			action:   policy.ChangeRole(caller, models.RoleOwner),
			reason:   policy.ReasonNonOwner,
		},
		{
			name:     "editor removes viewer",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleEditor, OwnerCount: 1, TargetRole: models.RoleViewer},
			action:   policy.RemoveMember(other),
			reason:   policy.ReasonNonOwner,
		},
		{
			name:     "remove non-member",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1},
			action:   policy.RemoveMember(other),
			reason:   policy.ReasonTargetNotMember,
		},
		{
			name:     "transfer to editor",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1, TargetRole: models.RoleEditor},
			action:   policy.TransferOwnership(other),
			want:     true,
		},
		{
			name:     "transfer to self",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1, TargetRole: models.RoleOwner},
			action:   policy.TransferOwnership(caller),
			reason:   policy.ReasonSelfTransfer,
		},
		{
			name:     "transfer to non-member",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleOwner, OwnerCount: 1},
			action:   policy.TransferOwnership(other),
			reason:   policy.ReasonTargetNotMember,
		},
		{
			name:     "editor transfers",
			snapshot: policy.Snapshot{Caller: caller, CallerRole: models.RoleEditor, OwnerCount: 1, TargetRole: models.RoleViewer},
			action:   policy.TransferOwnership(other),
			reason:   policy.ReasonNonOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.snapshot.WorkspaceKind = models.WorkspaceKindTeam
			d := policy.Authorize(tt.snapshot, tt.action)
			assert.Equal(t, tt.want, d.Granted)
			assert.Equal(t, tt.reason, d.Reason)
			if !tt.want {
				assert.NotEmpty(t, d.Reason.Message())
			}
		})
	}
}

func TestAuthorize_PersonalWorkspaceHasNoInvites(t *testing.T) {
	d := policy.Authorize(policy.Snapshot{
		Caller:        uuid.New(),
		CallerRole:    models.RoleOwner,
		WorkspaceKind: models.WorkspaceKindPersonal,
		OwnerCount:    1,
	}, policy.ManageMembers())
	assert.False(t, d.Granted)
	assert.Equal(t, policy.ReasonPersonalWorkspace, d.Reason)
}

func TestReason_Messages(t *testing.T) {
	assert.Equal(t, "not permitted: non-owner", policy.ReasonNonOwner.Message())
	assert.Contains(t, policy.ReasonLastOwner.Message(), "last owner")
}

// Random sequences of granted role changes and removals never leave a
// workspace without an owner.
func TestAuthorize_OwnerCountNeverReachesZero(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	roles := []models.Role{models.RoleOwner, models.RoleEditor, models.RoleViewer}

	for run := 0; run < 200; run++ {
		users := make([]uuid.UUID, 5)
		members := map[uuid.UUID]models.Role{}
		for i := range users {
			users[i] = uuid.New()
		}
		members[users[0]] = models.RoleOwner
		for _, u := range users[1:] {
			if rng.Intn(3) > 0 {
				members[u] = roles[1+rng.Intn(2)]
			}
		}

		for step := 0; step < 50; step++ {
			caller := users[rng.Intn(len(users))]
			target := users[rng.Intn(len(users))]

			var action policy.Action
			switch rng.Intn(3) {
			case 0:
				action = policy.ChangeRole(target, roles[rng.Intn(len(roles))])
			case 1:
				action = policy.RemoveMember(target)
			default:
				action = policy.TransferOwnership(target)
			}

			d := policy.Authorize(snapshotOf(members, caller, target), action)
			if !d.Granted {
				continue
			}

			switch action.Kind {
			case policy.ActionChangeRole:
				members[target] = action.NewRole
			case policy.ActionRemoveMember:
				delete(members, target)
			case policy.ActionTransferOwnership:
				members[target] = models.RoleOwner
				members[caller] = models.RoleEditor
			}

			require.GreaterOrEqual(t, countOwners(members), 1, "run %d step %d %s", run, step, action.Kind)
		}
	}
}

func snapshotOf(members map[uuid.UUID]models.Role, caller, target uuid.UUID) policy.Snapshot {
	return policy.Snapshot{
		Caller:        caller,
		CallerRole:    members[caller],
		WorkspaceKind: models.WorkspaceKindTeam,
		OwnerCount:    countOwners(members),
		TargetRole:    members[target],
	}
}

func countOwners(members map[uuid.UUID]models.Role) int {
	n := 0
	for _, r := range members {
		if r == models.RoleOwner {
			n++
		}
	}
	return n
}
