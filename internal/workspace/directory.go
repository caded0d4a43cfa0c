// Package workspace owns workspaces and memberships. Every mutation is
// authorized by the policy engine inside the transaction that performs it.
package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/audit"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/metrics"
	"github.com/hugh/quanty/internal/policy"
	"gorm.io/gorm"
)

const (
	maxNameLength     = 100
	maxSlugAttempts   = 5
	resourceWorkspace = "workspace"
	resourceMember    = "membership"
)

type Directory struct {
	db      *gorm.DB
	audit   *audit.Recorder
	metrics *metrics.Metrics
	logger  *slog.Logger
	tables  TableRemover
	now     func() time.Time
}

// TableRemover drops the tables a workspace registered when the workspace
// is deleted.
type TableRemover interface {
	DropWorkspaceTables(ctx context.Context, tx *gorm.DB, id uuid.UUID) ([]string, error)
	Invalidate(names []string)
}

type Option func(*Directory)

// WithTableRemover makes Delete drop the workspace's tables in the same
// transaction.
func WithTableRemover(r TableRemover) Option {
	return func(d *Directory) { d.tables = r }
}

func NewDirectory(db *gorm.DB, recorder *audit.Recorder, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Directory {
	d := &Directory{
		db:      db,
		audit:   recorder,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Summary is a workspace as seen by one member.
type Summary struct {
	models.Workspace
	Role        models.Role `json:"role"`
	MemberCount int64       `json:"member_count"`
}

type UpdateFields struct {
	Name        *string
	Description *string
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", apperr.InvalidInput("name")
	}
	return name, nil
}

// CreateTeamWorkspace creates a team workspace owned by owner. The slug is
// derived from name; on collision a random suffix is appended and the insert
// is retried, so concurrent creators of the same name all succeed.
func (d *Directory) CreateTeamWorkspace(ctx context.Context, owner uuid.UUID, name, description string) (*models.Workspace, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	base := Slugify(name)

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		var ws *models.Workspace
		err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			slug := base
			if attempt > 0 {
				slug = base + "-" + randomSuffix()
			} else {
				var taken int64
				if err := tx.Model(&models.Workspace{}).Where("slug = ?", base).Count(&taken).Error; err != nil {
					return err
				}
				if taken > 0 {
					slug = base + "-" + randomSuffix()
				}
			}

			ws = &models.Workspace{
				Name:        name,
				Slug:        slug,
				Kind:        models.WorkspaceKindTeam,
				OwnerID:     owner,
				Description: strings.TrimSpace(description),
				IsActive:    true,
			}
			if err := d.insertWithOwner(tx, ws, owner); err != nil {
				return err
			}

			return d.audit.Record(ctx, tx, audit.Entry{
				ActorID:      owner,
				WorkspaceID:  &ws.ID,
				Action:       "workspace.create",
				ResourceType: resourceWorkspace,
				ResourceID:   ws.ID.String(),
				Detail:       map[string]any{"name": ws.Name, "slug": ws.Slug},
			})
		})
		if err == nil {
			d.logger.Info("workspace created", "workspace_id", ws.ID, "slug", ws.Slug, "owner_id", owner)
			return ws, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.FromStorage(err, "workspace")
		}
		d.logger.Debug("slug collision, retrying", "base", base, "attempt", attempt)
	}

	return nil, apperr.Conflict("slug")
}

// CreatePersonalWorkspace provisions the personal workspace for a newly
// created user. It runs inside the caller's transaction so the user and the
// workspace are created together.
func (d *Directory) CreatePersonalWorkspace(ctx context.Context, tx *gorm.DB, user *models.User) (*models.Workspace, error) {
	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = strings.SplitN(user.Email, "@", 2)[0]
	}

	personalFor := user.ID
	ws := &models.Workspace{
		Name:        name + "'s Workspace",
		Slug:        "personal-" + user.ID.String(),
		Kind:        models.WorkspaceKindPersonal,
		OwnerID:     user.ID,
		IsActive:    true,
		PersonalFor: &personalFor,
	}

	tx = tx.WithContext(ctx)
	if err := d.insertWithOwner(tx, ws, user.ID); err != nil {
		return nil, apperr.FromStorage(err, "workspace")
	}
	if err := d.audit.Record(ctx, tx, audit.Entry{
		ActorID:      user.ID,
		WorkspaceID:  &ws.ID,
		Action:       "workspace.create_personal",
		ResourceType: resourceWorkspace,
		ResourceID:   ws.ID.String(),
	}); err != nil {
		return nil, err
	}
	return ws, nil
}

func (d *Directory) insertWithOwner(tx *gorm.DB, ws *models.Workspace, owner uuid.UUID) error {
	if err := tx.Create(ws).Error; err != nil {
		return err
	}
	return tx.Create(&models.Membership{
		WorkspaceID: ws.ID,
		UserID:      owner,
		Role:        models.RoleOwner,
		JoinedAt:    d.now(),
	}).Error
}

// Authorize checks action for actor outside of any mutation. It is used by
// callers that gate reads or tenant data access on workspace membership.
func (d *Directory) Authorize(ctx context.Context, actor, id uuid.UUID, action policy.Action) (*models.Workspace, models.Role, error) {
	var target *uuid.UUID
	if action.Target != uuid.Nil {
		target = &action.Target
	}
	ws, snap, err := LoadSnapshot(ctx, d.db, id, actor, target)
	if err != nil {
		return nil, "", err
	}
	if err := Check(d.metrics, snap, action); err != nil {
		d.denied(ctx, actor, id, "workspace.authorize."+action.Kind.String(), resourceWorkspace, id.String(), err)
		return nil, "", err
	}
	return ws, snap.CallerRole, nil
}

func (d *Directory) Get(ctx context.Context, actor, id uuid.UUID) (*Summary, error) {
	ws, role, err := d.Authorize(ctx, actor, id, policy.View())
	if err != nil {
		return nil, err
	}

	var count int64
	if err := d.db.WithContext(ctx).Model(&models.Membership{}).
		Where("workspace_id = ?", id).
		Count(&count).Error; err != nil {
		return nil, apperr.FromStorage(err, "workspace")
	}
	return &Summary{Workspace: *ws, Role: role, MemberCount: count}, nil
}

func (d *Directory) Update(ctx context.Context, actor, id uuid.UUID, fields UpdateFields) (*models.Workspace, error) {
	updates := map[string]any{}
	if fields.Name != nil {
		name, err := validateName(*fields.Name)
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if fields.Description != nil {
		updates["description"] = strings.TrimSpace(*fields.Description)
	}

	var ws *models.Workspace
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, snap, err := LockSnapshot(ctx, tx, id, actor, nil)
		if err != nil {
			return err
		}
		if err := Check(d.metrics, snap, policy.Edit()); err != nil {
			return err
		}
		ws = w
		if len(updates) == 0 {
			return nil
		}

		if err := tx.Model(ws).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(ws, "id = ?", id).Error; err != nil {
			return err
		}
		return d.audit.Record(ctx, tx, audit.Entry{
			ActorID:      actor,
			WorkspaceID:  &id,
			Action:       "workspace.update",
			ResourceType: resourceWorkspace,
			ResourceID:   id.String(),
			Detail:       updates,
		})
	})
	if err != nil {
		d.denied(ctx, actor, id, "workspace.update", resourceWorkspace, id.String(), err)
		return nil, apperr.FromStorage(err, "workspace")
	}
	return ws, nil
}

// Delete removes a team workspace together with its memberships,
// invitations and, when a TableRemover is set, its tables.
func (d *Directory) Delete(ctx context.Context, actor, id uuid.UUID) error {
	var dropped []string
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ws, snap, err := LockSnapshot(ctx, tx, id, actor, nil)
		if err != nil {
			return err
		}
		if err := Check(d.metrics, snap, policy.DeleteWorkspace()); err != nil {
			return err
		}

		if err := tx.Where("workspace_id = ?", id).Delete(&models.Invitation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("workspace_id = ?", id).Delete(&models.Membership{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ? AND kind = ?", id, models.WorkspaceKindTeam).Delete(&models.Workspace{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("concurrent_update")
		}

		detail := map[string]any{"name": ws.Name, "slug": ws.Slug}
		if d.tables != nil {
			names, err := d.tables.DropWorkspaceTables(ctx, tx, id)
			if err != nil {
				return err
			}
			dropped = names
			detail["tables"] = names
		}

		return d.audit.Record(ctx, tx, audit.Entry{
			ActorID:      actor,
			WorkspaceID:  &id,
			Action:       "workspace.delete",
			ResourceType: resourceWorkspace,
			ResourceID:   id.String(),
			Detail:       detail,
		})
	})
	if err != nil {
		d.denied(ctx, actor, id, "workspace.delete", resourceWorkspace, id.String(), err)
		return apperr.FromStorage(err, "workspace")
	}
	if d.tables != nil {
		d.tables.Invalidate(dropped)
	}

	d.logger.Info("workspace deleted", "workspace_id", id, "actor_id", actor, "tables_dropped", len(dropped))
	return nil
}

// ListForUser returns every workspace user belongs to: the personal
// workspace first, then team workspaces by name.
func (d *Directory) ListForUser(ctx context.Context, user uuid.UUID) ([]Summary, error) {
	db := d.db.WithContext(ctx)

	var memberships []models.Membership
	if err := db.Where("user_id = ?", user).Find(&memberships).Error; err != nil {
		return nil, apperr.FromStorage(err, "workspace")
	}
	if len(memberships) == 0 {
		return []Summary{}, nil
	}

	ids := make([]uuid.UUID, 0, len(memberships))
	roles := make(map[uuid.UUID]models.Role, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.WorkspaceID)
		roles[m.WorkspaceID] = m.Role
	}

	var workspaces []models.Workspace
	if err := db.Where("id IN ? AND is_active = ?", ids, true).Find(&workspaces).Error; err != nil {
		return nil, apperr.FromStorage(err, "workspace")
	}

	var counts []struct {
		WorkspaceID uuid.UUID
		Count       int64
	}
	if err := db.Model(&models.Membership{}).
		Select("workspace_id, COUNT(*) AS count").
		Where("workspace_id IN ?", ids).
		Group("workspace_id").
		Scan(&counts).Error; err != nil {
		return nil, apperr.FromStorage(err, "workspace")
	}
	countByID := make(map[uuid.UUID]int64, len(counts))
	for _, c := range counts {
		countByID[c.WorkspaceID] = c.Count
	}

	out := make([]Summary, 0, len(workspaces))
	for _, ws := range workspaces {
		out = append(out, Summary{Workspace: ws, Role: roles[ws.ID], MemberCount: countByID[ws.ID]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].IsPersonal(), out[j].IsPersonal()
		if pi != pj {
			return pi
		}
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListMembers returns owners first, then editors, then viewers, each group in
// join order.
func (d *Directory) ListMembers(ctx context.Context, actor, id uuid.UUID) ([]models.Membership, error) {
	if _, _, err := d.Authorize(ctx, actor, id, policy.View()); err != nil {
		return nil, err
	}

	var members []models.Membership
	if err := d.db.WithContext(ctx).
		Preload("User").
		Where("workspace_id = ?", id).
		Find(&members).Error; err != nil {
		return nil, apperr.FromStorage(err, "membership")
	}
	sort.SliceStable(members, func(i, j int) bool {
		ri, rj := policy.Rank(members[i].Role), policy.Rank(members[j].Role)
		if ri != rj {
			return ri > rj
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

// ChangeMemberRole sets target's role. Demoting an owner is a conditional
// write that only succeeds while another owner exists, so two concurrent
// demotions cannot leave the workspace without an owner.
func (d *Directory) ChangeMemberRole(ctx context.Context, actor, id, target uuid.UUID, role string) (*models.Membership, error) {
	newRole, ok := models.ParseRole(role)
	if !ok {
		return nil, apperr.InvalidInput("role")
	}

	var member models.Membership
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, snap, err := LockSnapshot(ctx, tx, id, actor, &target)
		if err != nil {
			return err
		}
		if err := Check(d.metrics, snap, policy.ChangeRole(target, newRole)); err != nil {
			return err
		}

		q := tx.Model(&models.Membership{}).
			Where("workspace_id = ? AND user_id = ? AND role = ?", id, target, snap.TargetRole)
		if snap.TargetRole == models.RoleOwner {
			q = q.Where(otherOwnerExists, id, models.RoleOwner)
		}
		res := q.Update("role", newRole)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return lostRace(snap.TargetRole)
		}

		if err := tx.Where("workspace_id = ? AND user_id = ?", id, target).First(&member).Error; err != nil {
			return err
		}
		return d.audit.Record(ctx, tx, audit.Entry{
			ActorID:      actor,
			WorkspaceID:  &id,
			Action:       "member.change_role",
			ResourceType: resourceMember,
			ResourceID:   target.String(),
			Detail:       map[string]any{"from": snap.TargetRole, "to": newRole},
		})
	})
	if err != nil {
		d.denied(ctx, actor, id, "member.change_role", resourceMember, target.String(), err)
		return nil, apperr.FromStorage(err, "membership")
	}
	return &member, nil
}

func (d *Directory) RemoveMember(ctx context.Context, actor, id, target uuid.UUID) error {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, snap, err := LockSnapshot(ctx, tx, id, actor, &target)
		if err != nil {
			return err
		}
		if err := Check(d.metrics, snap, policy.RemoveMember(target)); err != nil {
			return err
		}

		q := tx.Where("workspace_id = ? AND user_id = ? AND role = ?", id, target, snap.TargetRole)
		if snap.TargetRole == models.RoleOwner {
			q = q.Where(otherOwnerExists, id, models.RoleOwner)
		}
		res := q.Delete(&models.Membership{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return lostRace(snap.TargetRole)
		}

		return d.audit.Record(ctx, tx, audit.Entry{
			ActorID:      actor,
			WorkspaceID:  &id,
			Action:       "member.remove",
			ResourceType: resourceMember,
			ResourceID:   target.String(),
			Detail:       map[string]any{"role": snap.TargetRole},
		})
	})
	if err != nil {
		d.denied(ctx, actor, id, "member.remove", resourceMember, target.String(), err)
		return apperr.FromStorage(err, "membership")
	}
	return nil
}

// TransferOwnership promotes newOwner to owner, records them as the
// workspace owner and demotes actor to editor.
func (d *Directory) TransferOwnership(ctx context.Context, actor, id, newOwner uuid.UUID) (*models.Workspace, error) {
	var ws *models.Workspace
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, snap, err := LockSnapshot(ctx, tx, id, actor, &newOwner)
		if err != nil {
			return err
		}
		if err := Check(d.metrics, snap, policy.TransferOwnership(newOwner)); err != nil {
			return err
		}
		ws = w

		res := tx.Model(&models.Membership{}).
			Where("workspace_id = ? AND user_id = ? AND role = ?", id, newOwner, snap.TargetRole).
			Update("role", models.RoleOwner)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("concurrent_update")
		}

		res = tx.Model(&models.Membership{}).
			Where("workspace_id = ? AND user_id = ? AND role = ?", id, actor, models.RoleOwner).
			Update("role", models.RoleEditor)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("concurrent_update")
		}

		if err := tx.Model(ws).Update("owner_id", newOwner).Error; err != nil {
			return err
		}
		return d.audit.Record(ctx, tx, audit.Entry{
			ActorID:      actor,
			WorkspaceID:  &id,
			Action:       "workspace.transfer_ownership",
			ResourceType: resourceWorkspace,
			ResourceID:   id.String(),
			Detail:       map[string]any{"from": actor, "to": newOwner},
		})
	})
	if err != nil {
		d.denied(ctx, actor, id, "workspace.transfer_ownership", resourceWorkspace, id.String(), err)
		return nil, apperr.FromStorage(err, "workspace")
	}
	return ws, nil
}

// AuditLog lists recent events for a workspace. Only owners may read it.
func (d *Directory) AuditLog(ctx context.Context, actor, id uuid.UUID, limit int) ([]models.AuditEvent, error) {
	_, role, err := d.Authorize(ctx, actor, id, policy.View())
	if err != nil {
		return nil, err
	}
	if role != models.RoleOwner {
		err := apperr.Denied(string(policy.ReasonInsufficientRole))
		d.denied(ctx, actor, id, "workspace.audit_log", resourceWorkspace, id.String(), err)
		return nil, err
	}
	return d.audit.List(ctx, id, limit)
}

// otherOwnerExists guards owner demotion and removal at write time.
const otherOwnerExists = "(SELECT COUNT(*) FROM workspace_members AS o WHERE o.workspace_id = ? AND o.role = ?) > 1"

// lostRace classifies a conditional write that matched no rows after the
// policy had granted it.
func lostRace(previous models.Role) error {
	if previous == models.RoleOwner {
		return apperr.Denied(string(policy.ReasonLastOwner))
	}
	return apperr.Conflict("concurrent_update")
}

// denied records a denied attempt once the transaction has finished.
func (d *Directory) denied(ctx context.Context, actor, id uuid.UUID, action, resourceType, resourceID string, err error) {
	if apperr.KindOf(err) != apperr.KindDenied {
		return
	}
	d.audit.RecordDenied(ctx, audit.Entry{
		ActorID:      actor,
		WorkspaceID:  &id,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}, apperr.ReasonOf(err))
}
