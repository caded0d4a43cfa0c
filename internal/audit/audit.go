// Package audit appends AuditEvents. Events are never updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/database/models"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Entry describes something that happened. Detail is serialized to JSON.
type Entry struct {
	ActorID      uuid.UUID
	WorkspaceID  *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Detail       any
}

type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRecorder(db *gorm.DB, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record appends a successful event using tx, so the event commits or rolls
// back together with the mutation it describes. A nil tx uses the recorder's
// own connection.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, e Entry) error {
	if tx == nil {
		tx = r.db
	}
	event := r.build(e, models.AuditOutcomeSuccess)
	if err := tx.WithContext(ctx).Create(event).Error; err != nil {
		return apperr.FromStorage(err, "audit_event")
	}
	return nil
}

// RecordDenied appends a denied attempt. Failures are logged and swallowed:
// auditing a denial never changes the outcome of the request. It must be
// called outside any open transaction.
func (r *Recorder) RecordDenied(ctx context.Context, e Entry, reason string) {
	detail := map[string]any{"reason": reason}
	if e.Detail != nil {
		detail["request"] = e.Detail
	}
	e.Detail = detail

	event := r.build(e, models.AuditOutcomeDenied)
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		r.logger.Warn("failed to record denied attempt",
			"action", e.Action,
			"actor_id", e.ActorID,
			"error", err,
		)
	}
}

// List returns the most recent events for a workspace, newest first. Callers
// are responsible for authorization.
func (r *Recorder) List(ctx context.Context, workspaceID uuid.UUID, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var events []models.AuditEvent
	if err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, apperr.FromStorage(err, "audit_event")
	}
	return events, nil
}

func (r *Recorder) build(e Entry, outcome models.AuditOutcome) *models.AuditEvent {
	event := &models.AuditEvent{
		WorkspaceID:  e.WorkspaceID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Outcome:      outcome,
	}
	if e.ActorID != uuid.Nil {
		actor := e.ActorID
		event.ActorID = &actor
	}
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			r.logger.Warn("failed to serialize audit detail", "action", e.Action, "error", err)
		} else {
			event.Detail = string(data)
		}
	}
	return event
}
