package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/api/dto"
	"github.com/hugh/quanty/internal/api/middleware"
	"github.com/hugh/quanty/internal/api/validation"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/workspace"
)

const maxDescriptionLength = 500

type WorkspaceHandler struct {
	directory *workspace.Directory
}

func NewWorkspaceHandler(directory *workspace.Directory) *WorkspaceHandler {
	return &WorkspaceHandler{directory: directory}
}

func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.directory.ListForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]dto.WorkspaceDTO, 0, len(summaries))
	for i := range summaries {
		out = append(out, dto.NewWorkspaceSummaryDTO(&summaries[i]))
	}
	writeJSON(w, http.StatusOK, dto.ListResponse[dto.WorkspaceDTO]{Data: out})
}

func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateWorkspaceRequest
	if !decode(w, r, &req) {
		return
	}

	ws, err := h.directory.CreateTeamWorkspace(r.Context(),
		middleware.GetUserID(r.Context()),
		validation.SanitizeString(req.Name),
		validation.CleanText(req.Description, maxDescriptionLength),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := dto.NewWorkspaceDTO(ws)
	out.Role = string(models.RoleOwner)
	out.MemberCount = 1
	writeJSON(w, http.StatusCreated, out)
}

func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}

	summary, err := h.directory.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewWorkspaceSummaryDTO(summary))
}

func (h *WorkspaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}
	var req dto.UpdateWorkspaceRequest
	if !decode(w, r, &req) {
		return
	}

	fields := workspace.UpdateFields{}
	if req.Name != nil {
		name := validation.SanitizeString(*req.Name)
		fields.Name = &name
	}
	if req.Description != nil {
		desc := validation.CleanText(*req.Description, maxDescriptionLength)
		fields.Description = &desc
	}

	ws, err := h.directory.Update(r.Context(), middleware.GetUserID(r.Context()), id, fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewWorkspaceDTO(ws))
}

func (h *WorkspaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}

	if err := h.directory.Delete(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkspaceHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}

	members, err := h.directory.ListMembers(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]dto.MemberDTO, 0, len(members))
	for i := range members {
		out = append(out, dto.NewMemberDTO(&members[i]))
	}
	writeJSON(w, http.StatusOK, dto.ListResponse[dto.MemberDTO]{Data: out})
}

func (h *WorkspaceHandler) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}
	target, ok := pathUUID(w, r, "userID", "membership")
	if !ok {
		return
	}
	var req dto.ChangeRoleRequest
	if !decode(w, r, &req) {
		return
	}

	member, err := h.directory.ChangeMemberRole(r.Context(), middleware.GetUserID(r.Context()), id, target, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewMemberDTO(member))
}

func (h *WorkspaceHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}
	target, ok := pathUUID(w, r, "userID", "membership")
	if !ok {
		return
	}

	if err := h.directory.RemoveMember(r.Context(), middleware.GetUserID(r.Context()), id, target); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkspaceHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}
	var req dto.TransferOwnershipRequest
	if !decode(w, r, &req) {
		return
	}
	newOwner, err := uuid.Parse(req.UserID)
	if err != nil {
		badRequest(w, "user_id")
		return
	}

	ws, err := h.directory.TransferOwnership(r.Context(), middleware.GetUserID(r.Context()), id, newOwner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewWorkspaceDTO(ws))
}

func (h *WorkspaceHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return
	}

	events, err := h.directory.AuditLog(r.Context(), middleware.GetUserID(r.Context()), id, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ListResponse[models.AuditEvent]{Data: events})
}
