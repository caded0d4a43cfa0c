package tasks

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hibiken/asynq"
	"github.com/hugh/quanty/internal/database/models"
)

// TaskEnqueuer is the subset of *asynq.Client used to schedule work.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// InvitationNotifier turns issued invitations into invitation:send tasks.
type InvitationNotifier struct {
	client        TaskEnqueuer
	acceptBaseURL string
	settings
}

func NewInvitationNotifier(client TaskEnqueuer, acceptBaseURL string, opts ...Option) *InvitationNotifier {
	return &InvitationNotifier{
		client:        client,
		acceptBaseURL: acceptBaseURL,
		settings:      applyOptions(opts),
	}
}

func (n *InvitationNotifier) InvitationIssued(ctx context.Context, inv *models.Invitation, workspaceName, token string) error {
	payload := InvitationSendPayload{
		InvitationID:  inv.ID,
		WorkspaceID:   inv.WorkspaceID,
		WorkspaceName: workspaceName,
		Email:         inv.Email,
		Role:          string(inv.Role),
		AcceptURL:     n.acceptURL(token),
		ExpiresAt:     inv.ExpiresAt,
	}
	if n.sealer != nil {
		sealed, err := n.sealer.EncryptString(payload.AcceptURL)
		if err != nil {
			return fmt.Errorf("sealing accept url: %w", err)
		}
		payload.AcceptURL, payload.SealedAcceptURL = "", sealed
	}

	task, err := NewInvitationSendTask(payload)
	if err != nil {
		return fmt.Errorf("creating invitation task: %w", err)
	}

	if _, err := n.client.EnqueueContext(ctx, task, asynq.TaskID("invitation:"+inv.ID.String())); err != nil {
		return fmt.Errorf("enqueueing invitation task: %w", err)
	}
	return nil
}

func (n *InvitationNotifier) acceptURL(token string) string {
	u, err := url.Parse(n.acceptBaseURL)
	if err != nil || n.acceptBaseURL == "" {
		return "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
