package dto

import (
	"time"

	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/workspace"
)

type CreateWorkspaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateWorkspaceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type WorkspaceDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Kind        string    `json:"kind"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	Role        string    `json:"role,omitempty"`
	MemberCount int64     `json:"member_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewWorkspaceDTO(ws *models.Workspace) WorkspaceDTO {
	return WorkspaceDTO{
		ID:          ws.ID.String(),
		Name:        ws.Name,
		Slug:        ws.Slug,
		Kind:        string(ws.Kind),
		Description: ws.Description,
		OwnerID:     ws.OwnerID.String(),
		CreatedAt:   ws.CreatedAt,
	}
}

func NewWorkspaceSummaryDTO(s *workspace.Summary) WorkspaceDTO {
	out := NewWorkspaceDTO(&s.Workspace)
	out.Role = string(s.Role)
	out.MemberCount = s.MemberCount
	return out
}

type MemberDTO struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email,omitempty"`
	Name     string    `json:"name,omitempty"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

func NewMemberDTO(m *models.Membership) MemberDTO {
	out := MemberDTO{
		UserID:   m.UserID.String(),
		Role:     string(m.Role),
		JoinedAt: m.JoinedAt,
	}
	if m.User != nil {
		out.Email = m.User.Email
		out.Name = m.User.Name
	}
	return out
}

type ChangeRoleRequest struct {
	Role string `json:"role"`
}

type TransferOwnershipRequest struct {
	UserID string `json:"user_id"`
}

type InviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type InvitationDTO struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	InvitedBy   string    `json:"invited_by"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewInvitationDTO(inv *models.Invitation) InvitationDTO {
	return InvitationDTO{
		ID:          inv.ID.String(),
		WorkspaceID: inv.WorkspaceID.String(),
		Email:       inv.Email,
		Role:        string(inv.Role),
		InvitedBy:   inv.InvitedBy.String(),
		ExpiresAt:   inv.ExpiresAt,
		CreatedAt:   inv.CreatedAt,
	}
}

// InviteResponse is the only place the plaintext token ever appears.
type InviteResponse struct {
	Invitation InvitationDTO `json:"invitation"`
	Token      string        `json:"token"`
}

type AcceptInvitationRequest struct {
	Token string `json:"token"`
}
