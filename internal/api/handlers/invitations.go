package handlers

import (
	"net/http"

	"github.com/hugh/quanty/internal/api/dto"
	"github.com/hugh/quanty/internal/api/middleware"
	"github.com/hugh/quanty/internal/invitation"
)

type InvitationHandler struct {
	manager *invitation.Manager
}

func NewInvitationHandler(manager *invitation.Manager) *InvitationHandler {
	return &InvitationHandler{manager: manager}
}

func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}
	var req dto.InviteRequest
	if !decode(w, r, &req) {
		return
	}

	issued, err := h.manager.Invite(r.Context(), middleware.GetUserID(r.Context()), id, req.Email, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.InviteResponse{
		Invitation: dto.NewInvitationDTO(issued.Invitation),
		Token:      issued.Token,
	})
}

func (h *InvitationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}

	invitations, err := h.manager.ListPending(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]dto.InvitationDTO, 0, len(invitations))
	for i := range invitations {
		out = append(out, dto.NewInvitationDTO(&invitations[i]))
	}
	writeJSON(w, http.StatusOK, dto.ListResponse[dto.InvitationDTO]{Data: out})
}

func (h *InvitationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}
	invitationID, ok := pathUUID(w, r, "invitationID", "invitation")
	if !ok {
		return
	}

	if err := h.manager.Revoke(r.Context(), middleware.GetUserID(r.Context()), id, invitationID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Accept redeems an invitation token for the caller.
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req dto.AcceptInvitationRequest
	if !decode(w, r, &req) {
		return
	}

	member, err := h.manager.Accept(r.Context(), req.Token, middleware.GetUser(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewMemberDTO(member))
}
