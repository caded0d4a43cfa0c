package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// AuditEvent is append-only. Nothing in the codebase updates or deletes it.
type AuditEvent struct {
	ID           uuid.UUID    `gorm:"type:uuid;primary_key" json:"id"`
	ActorID      *uuid.UUID   `gorm:"type:uuid;index" json:"actor_id,omitempty"`
	WorkspaceID  *uuid.UUID   `gorm:"type:uuid;index" json:"workspace_id,omitempty"`
	Action       string       `gorm:"not null;index" json:"action"`
	ResourceType string       `gorm:"not null" json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Outcome      AuditOutcome `gorm:"not null" json:"outcome"`
	Detail       string       `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt    time.Time    `gorm:"index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

func (e *AuditEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
