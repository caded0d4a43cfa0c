package workspace

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/metrics"
	"github.com/hugh/quanty/internal/policy"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadSnapshot reads the membership state needed to authorize an action by
// caller on workspace id. Pass the transaction that will perform the
// mutation so the decision and the write see the same rows. target may be nil.
func LoadSnapshot(ctx context.Context, tx *gorm.DB, id, caller uuid.UUID, target *uuid.UUID) (*models.Workspace, policy.Snapshot, error) {
	return loadSnapshot(ctx, tx, id, caller, target, false)
}

// LockSnapshot is LoadSnapshot for membership mutations. It holds the
// workspace row FOR UPDATE until tx ends, so concurrent mutations of the
// same workspace read the owner count one after another.
func LockSnapshot(ctx context.Context, tx *gorm.DB, id, caller uuid.UUID, target *uuid.UUID) (*models.Workspace, policy.Snapshot, error) {
	return loadSnapshot(ctx, tx, id, caller, target, true)
}

func loadSnapshot(ctx context.Context, tx *gorm.DB, id, caller uuid.UUID, target *uuid.UUID, lock bool) (*models.Workspace, policy.Snapshot, error) {
	tx = tx.WithContext(ctx)

	q := tx.Where("id = ? AND is_active = ?", id, true)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var ws models.Workspace
	if err := q.First(&ws).Error; err != nil {
		return nil, policy.Snapshot{}, apperr.FromStorage(err, "workspace")
	}

	snap := policy.Snapshot{
		Caller:        caller,
		WorkspaceKind: ws.Kind,
	}

	role, err := roleOf(tx, id, caller)
	if err != nil {
		return nil, policy.Snapshot{}, err
	}
	snap.CallerRole = role

	var owners int64
	if err := tx.Model(&models.Membership{}).
		Where("workspace_id = ? AND role = ?", id, models.RoleOwner).
		Count(&owners).Error; err != nil {
		return nil, policy.Snapshot{}, apperr.FromStorage(err, "workspace")
	}
	snap.OwnerCount = int(owners)

	if target != nil {
		role, err := roleOf(tx, id, *target)
		if err != nil {
			return nil, policy.Snapshot{}, err
		}
		snap.TargetRole = role
	}

	return &ws, snap, nil
}

func roleOf(tx *gorm.DB, workspaceID, userID uuid.UUID) (models.Role, error) {
	var m models.Membership
	err := tx.Where("workspace_id = ? AND user_id = ?", workspaceID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperr.FromStorage(err, "membership")
	}
	return m.Role, nil
}

// Check evaluates the policy and converts a denial into an error. A caller
// without membership gets NotFound so that workspace existence is not
// revealed to outsiders.
func Check(m *metrics.Metrics, snap policy.Snapshot, action policy.Action) error {
	d := policy.Authorize(snap, action)
	m.Decision(action.Kind.String(), d.Granted, string(d.Reason))
	if d.Granted {
		return nil
	}
	if d.Reason == policy.ReasonNotMember {
		return apperr.NotFound("workspace")
	}
	return apperr.Denied(string(d.Reason))
}
