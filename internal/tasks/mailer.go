package tasks

import (
	"context"
	"log/slog"
)

// Mailer delivers invitation mail. Delivery itself is an external concern.
type Mailer interface {
	SendInvitation(ctx context.Context, p InvitationSendPayload) error
}

// LogMailer writes invitations to the log instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendInvitation(ctx context.Context, p InvitationSendPayload) error {
	m.logger.InfoContext(ctx, "invitation mail",
		"invitation_id", p.InvitationID,
		"workspace", p.WorkspaceName,
		"email", p.Email,
		"role", p.Role,
		"expires_at", p.ExpiresAt,
	)
	return nil
}
