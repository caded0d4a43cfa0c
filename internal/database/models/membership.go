package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of workspace roles. Ordering lives in the policy package.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleOwner, RoleEditor, RoleViewer:
		return Role(s), true
	}
	return "", false
}

// Membership grants a user a role in a workspace. The composite primary key
// allows at most one membership per (workspace, user).
type Membership struct {
	WorkspaceID uuid.UUID `gorm:"type:uuid;primaryKey" json:"workspace_id"`
	UserID      uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"user_id"`
	Role        Role      `gorm:"not null;index" json:"role"`
	JoinedAt    time.Time `gorm:"not null" json:"joined_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Membership) TableName() string {
	return "workspace_members"
}
