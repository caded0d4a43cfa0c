// Package invitation issues and redeems single-use workspace invitations.
package invitation

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/audit"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/metrics"
	"github.com/hugh/quanty/internal/policy"
	"github.com/hugh/quanty/internal/workspace"
	"gorm.io/gorm"
)

const (
	DefaultTTL         = 7 * 24 * time.Hour
	resourceInvitation = "invitation"
)

// Notifier delivers a freshly issued invitation to the invitee. It is called
// after the invitation has been committed; failures are logged only.
type Notifier interface {
	InvitationIssued(ctx context.Context, inv *models.Invitation, workspaceName, token string) error
}

type Manager struct {
	db       *gorm.DB
	audit    *audit.Recorder
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	ttl      time.Duration
	now      func() time.Time
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(db *gorm.DB, recorder *audit.Recorder, notifier Notifier, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Manager {
	mgr := &Manager{
		db:       db,
		audit:    recorder,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		ttl:      DefaultTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Issued is returned once, to the inviter. The plaintext token is not stored.
type Issued struct {
	Invitation *models.Invitation
	Token      string
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.InvalidInput("email")
	}
	return email, nil
}

// Invite issues an invitation for email at role. Owner is never invitable;
// ownership moves only through an explicit transfer.
func (m *Manager) Invite(ctx context.Context, actor, workspaceID uuid.UUID, email, role string) (*Issued, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	r, ok := models.ParseRole(role)
	if !ok || r == models.RoleOwner {
		return nil, apperr.InvalidInput("role")
	}

	token, err := newToken()
	if err != nil {
		return nil, apperr.Internal(err)
	}

	var inv *models.Invitation
	var wsName string
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ws, snap, err := workspace.LoadSnapshot(ctx, tx, workspaceID, actor, nil)
		if err != nil {
			return err
		}
		if err := workspace.Check(m.metrics, snap, policy.ManageMembers()); err != nil {
			return err
		}
		wsName = ws.Name

		var members int64
		if err := tx.Model(&models.Membership{}).
			Joins("JOIN users ON users.id = workspace_members.user_id").
			Where("workspace_members.workspace_id = ? AND users.email = ?", workspaceID, email).
			Count(&members).Error; err != nil {
			return err
		}
		if members > 0 {
			return apperr.Conflict("already_member")
		}

		key := models.PendingKeyFor(workspaceID, email)
		var holder models.Invitation
		err = tx.Where("pending_key = ?", key).First(&holder).Error
		switch {
		case err == nil && holder.Pending(m.now()):
			return apperr.Conflict("invitation_pending")
		case err == nil:
			// Expired but still holding the key; release it.
			if err := tx.Model(&models.Invitation{}).
				Where("id = ? AND pending_key = ?", holder.ID, key).
				Updates(map[string]any{"pending_key": nil, "is_active": false}).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		now := m.now()
		inv = &models.Invitation{
			WorkspaceID: workspaceID,
			Email:       email,
			Role:        r,
			TokenHash:   HashToken(token),
			InvitedBy:   actor,
			ExpiresAt:   now.Add(m.ttl),
			IsActive:    true,
			PendingKey:  &key,
		}
		if err := tx.Create(inv).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("invitation_pending")
			}
			return err
		}

		return m.audit.Record(ctx, tx, audit.Entry{
			ActorID:      actor,
			WorkspaceID:  &workspaceID,
			Action:       "invitation.create",
			ResourceType: resourceInvitation,
			ResourceID:   inv.ID.String(),
			Detail:       map[string]any{"email": email, "role": r},
		})
	})
	if err != nil {
		m.denied(ctx, actor, workspaceID, "invitation.create", err)
		return nil, apperr.FromStorage(err, "invitation")
	}

	if m.notifier != nil {
		if err := m.notifier.InvitationIssued(ctx, inv, wsName, token); err != nil {
			m.logger.Warn("failed to enqueue invitation notification",
				"invitation_id", inv.ID,
				"error", err,
			)
		}
	}

	m.logger.Info("invitation issued", "invitation_id", inv.ID, "workspace_id", workspaceID)
	return &Issued{Invitation: inv, Token: token}, nil
}

// Accept redeems token for user. Every failure, whatever its cause, is
// reported as InvalidOrExpired. If user is already a member the existing
// membership is returned and the invitation is still consumed.
func (m *Manager) Accept(ctx context.Context, token string, user *models.User) (*models.Membership, error) {
	if token == "" || user == nil {
		return nil, apperr.InvalidOrExpired()
	}

	var member models.Membership
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.Invitation
		if err := tx.Where("token_hash = ?", HashToken(token)).First(&inv).Error; err != nil {
			return err
		}

		now := m.now()
		if !inv.Pending(now) || !strings.EqualFold(inv.Email, user.Email) {
			return apperr.InvalidOrExpired()
		}

		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND is_active = ? AND accepted_at IS NULL AND expires_at > ?", inv.ID, true, now).
			Updates(map[string]any{
				"accepted_at": now,
				"is_active":   false,
				"pending_key": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.InvalidOrExpired()
		}

		err := tx.Where("workspace_id = ? AND user_id = ?", inv.WorkspaceID, user.ID).First(&member).Error
		switch {
		case err == nil:
		case errors.Is(err, gorm.ErrRecordNotFound):
			member = models.Membership{
				WorkspaceID: inv.WorkspaceID,
				UserID:      user.ID,
				Role:        inv.Role,
				JoinedAt:    now,
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		default:
			return err
		}

		return m.audit.Record(ctx, tx, audit.Entry{
			ActorID:      user.ID,
			WorkspaceID:  &inv.WorkspaceID,
			Action:       "invitation.accept",
			ResourceType: resourceInvitation,
			ResourceID:   inv.ID.String(),
			Detail:       map[string]any{"role": member.Role},
		})
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal && !errors.Is(err, gorm.ErrRecordNotFound) {
			m.logger.Error("invitation accept failed", "user_id", user.ID, "error", err)
		}
		return nil, apperr.InvalidOrExpired()
	}
	return &member, nil
}

// ListPending returns unexpired, unaccepted, active invitations.
func (m *Manager) ListPending(ctx context.Context, actor, workspaceID uuid.UUID) ([]models.Invitation, error) {
	_, snap, err := workspace.LoadSnapshot(ctx, m.db, workspaceID, actor, nil)
	if err != nil {
		return nil, err
	}
	if err := workspace.Check(m.metrics, snap, policy.ManageMembers()); err != nil {
		m.denied(ctx, actor, workspaceID, "invitation.list", err)
		return nil, err
	}

	var invitations []models.Invitation
	if err := m.db.WithContext(ctx).
		Where("workspace_id = ? AND is_active = ? AND accepted_at IS NULL AND expires_at > ?", workspaceID, true, m.now()).
		Order("created_at DESC").
		Find(&invitations).Error; err != nil {
		return nil, apperr.FromStorage(err, "invitation")
	}
	return invitations, nil
}

// Revoke deactivates a pending invitation.
func (m *Manager) Revoke(ctx context.Context, actor, workspaceID, invitationID uuid.UUID) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, snap, err := workspace.LoadSnapshot(ctx, tx, workspaceID, actor, nil)
		if err != nil {
			return err
		}
		if err := workspace.Check(m.metrics, snap, policy.ManageMembers()); err != nil {
			return err
		}

		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND workspace_id = ? AND is_active = ? AND accepted_at IS NULL", invitationID, workspaceID, true).
			Updates(map[string]any{"is_active": false, "pending_key": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("invitation")
		}

		return m.audit.Record(ctx, tx, audit.Entry{
			ActorID:      actor,
			WorkspaceID:  &workspaceID,
			Action:       "invitation.revoke",
			ResourceType: resourceInvitation,
			ResourceID:   invitationID.String(),
		})
	})
	if err != nil {
		m.denied(ctx, actor, workspaceID, "invitation.revoke", err)
		return apperr.FromStorage(err, "invitation")
	}
	return nil
}

func (m *Manager) denied(ctx context.Context, actor, workspaceID uuid.UUID, action string, err error) {
	if apperr.KindOf(err) != apperr.KindDenied {
		return
	}
	m.audit.RecordDenied(ctx, audit.Entry{
		ActorID:      actor,
		WorkspaceID:  &workspaceID,
		Action:       action,
		ResourceType: resourceInvitation,
	}, apperr.ReasonOf(err))
}
