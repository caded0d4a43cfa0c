package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeInvitationSend = "invitation:send"
)

// QueueInvitations carries invitation mail.
const QueueInvitations = "critical"

// InvitationSendPayload carries what the mailer needs to notify an invitee.
// AcceptURL embeds the plaintext token. When a Sealer is configured it is
// replaced by SealedAcceptURL before the task is enqueued.
type InvitationSendPayload struct {
	InvitationID    uuid.UUID `json:"invitation_id"`
	WorkspaceID     uuid.UUID `json:"workspace_id"`
	WorkspaceName   string    `json:"workspace_name"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	AcceptURL       string    `json:"accept_url,omitempty"`
	SealedAcceptURL string    `json:"sealed_accept_url,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func NewInvitationSendTask(payload InvitationSendPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeInvitationSend, data,
		asynq.Queue(QueueInvitations),
		asynq.MaxRetry(5),
		asynq.Retention(time.Hour),
	), nil
}
