package models

import (
	"time"

	"github.com/google/uuid"
)

type Invitation struct {
	Base
	WorkspaceID uuid.UUID `gorm:"type:uuid;index;not null" json:"workspace_id"`
	Email       string    `gorm:"not null;index" json:"email"`
	Role        Role      `gorm:"not null" json:"role"`
	// TokenHash is the SHA-256 of the bearer token; the token itself is never stored.
	TokenHash  string     `gorm:"uniqueIndex;not null" json:"-"`
	InvitedBy  uuid.UUID  `gorm:"type:uuid;not null" json:"invited_by"`
	ExpiresAt  time.Time  `gorm:"not null;index" json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	IsActive   bool       `gorm:"not null;default:true" json:"is_active"`

	// PendingKey is "<workspace>:<email>" while the invitation is outstanding
	// and NULL otherwise. Its unique index keeps one pending invite per pair.
	PendingKey *string `gorm:"uniqueIndex" json:"-"`

	Workspace *Workspace `gorm:"foreignKey:WorkspaceID" json:"-"`
}

func (Invitation) TableName() string {
	return "workspace_invitations"
}

// Pending reports whether the invitation can still be redeemed at now.
func (i *Invitation) Pending(now time.Time) bool {
	return i.IsActive && i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}

func PendingKeyFor(workspaceID uuid.UUID, email string) string {
	return workspaceID.String() + ":" + email
}
