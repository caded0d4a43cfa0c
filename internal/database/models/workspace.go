package models

import "github.com/google/uuid"

type WorkspaceKind string

const (
	WorkspaceKindPersonal WorkspaceKind = "personal"
	WorkspaceKindTeam     WorkspaceKind = "team"
)

type Workspace struct {
	Base
	Name        string        `gorm:"not null" json:"name"`
	Slug        string        `gorm:"uniqueIndex;not null" json:"slug"`
	Kind        WorkspaceKind `gorm:"not null;index" json:"kind"`
	OwnerID     uuid.UUID     `gorm:"type:uuid;index;not null" json:"owner_id"`
	Description string        `json:"description,omitempty"`
	IsActive    bool          `gorm:"default:true" json:"is_active"`

	// PersonalFor is set only on personal workspaces. The unique index makes
	// a second personal workspace for the same user impossible.
	PersonalFor *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"-"`

	Owner       *User        `gorm:"foreignKey:OwnerID" json:"-"`
	Memberships []Membership `gorm:"foreignKey:WorkspaceID" json:"-"`
}

func (Workspace) TableName() string {
	return "workspaces"
}

func (w *Workspace) IsPersonal() bool {
	return w.Kind == WorkspaceKindPersonal
}
