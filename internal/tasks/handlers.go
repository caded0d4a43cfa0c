package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

type Handler struct {
	mailer Mailer
	logger *slog.Logger
	settings
}

func NewHandler(mailer Mailer, logger *slog.Logger, opts ...Option) *Handler {
	return &Handler{
		mailer:   mailer,
		logger:   logger,
		settings: applyOptions(opts),
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeInvitationSend, h.HandleInvitationSend)
}

func (h *Handler) HandleInvitationSend(ctx context.Context, t *asynq.Task) error {
	var payload InvitationSendPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.SealedAcceptURL != "" {
		if h.sealer == nil {
			return fmt.Errorf("sealed payload for invitation %s but no key configured: %w", payload.InvitationID, asynq.SkipRetry)
		}
		acceptURL, err := h.sealer.DecryptString(payload.SealedAcceptURL)
		if err != nil {
			return fmt.Errorf("unsealing invitation %s: %w: %w", payload.InvitationID, err, asynq.SkipRetry)
		}
		payload.AcceptURL, payload.SealedAcceptURL = acceptURL, ""
	}
	if payload.Email == "" || payload.AcceptURL == "" {
		return fmt.Errorf("invalid payload for invitation %s: %w", payload.InvitationID, asynq.SkipRetry)
	}

	h.logger.Info("sending invitation",
		"invitation_id", payload.InvitationID,
		"workspace_id", payload.WorkspaceID,
	)

	if err := h.mailer.SendInvitation(ctx, payload); err != nil {
		h.logger.Error("invitation delivery failed", "invitation_id", payload.InvitationID, "error", err)
		return fmt.Errorf("sending invitation: %w", err)
	}
	return nil
}
