package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/quanty/internal/api/dto"
	"github.com/hugh/quanty/internal/api/middleware"
	"github.com/hugh/quanty/internal/api/validation"
	"github.com/hugh/quanty/internal/isolation"
	"github.com/hugh/quanty/internal/policy"
	"github.com/hugh/quanty/internal/tables"
	"github.com/hugh/quanty/internal/workspace"
)

const maxDisplayNameLength = 200

// TableHandler serves the tables of one workspace. Every call is authorized
// against the workspace before the workspace scope reaches the builder or
// the isolation filter.
type TableHandler struct {
	directory *workspace.Directory
	builder   *tables.Builder
	filter    *isolation.Filter
}

func NewTableHandler(directory *workspace.Directory, builder *tables.Builder, filter *isolation.Filter) *TableHandler {
	return &TableHandler{directory: directory, builder: builder, filter: filter}
}

// scopeFor authorizes action on the workspace in the URL and returns the data
// scope the caller may act in.
func scopeFor(w http.ResponseWriter, r *http.Request, directory *workspace.Directory, action policy.Action) (isolation.Scope, bool) {
	id, ok := pathUUID(w, r, "workspaceID", "workspace")
	if !ok {
		return isolation.Scope{}, false
	}
	if _, _, err := directory.Authorize(r.Context(), middleware.GetUserID(r.Context()), id, action); err != nil {
		writeError(w, r, err)
		return isolation.Scope{}, false
	}
	return isolation.WorkspaceScope(id), true
}

func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.View())
	if !ok {
		return
	}

	summaries, err := h.builder.List(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ListResponse[tables.Summary]{Data: summaries})
}

// Preview renders the DDL for a definition without creating anything.
func (h *TableHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if _, ok := scopeFor(w, r, h.directory, policy.Edit()); !ok {
		return
	}
	var req dto.CreateTableRequest
	if !decode(w, r, &req) {
		return
	}

	sql, err := h.builder.Preview(req.Name, req.Columns)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.PreviewResponse{SQL: sql})
}

func (h *TableHandler) Create(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.Edit())
	if !ok {
		return
	}
	var req dto.CreateTableRequest
	if !decode(w, r, &req) {
		return
	}

	schema, err := h.builder.Create(r.Context(), scope, req.Name,
		validation.CleanText(req.DisplayName, maxDisplayNameLength), req.Columns)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, schema.Public())
}

func (h *TableHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.View())
	if !ok {
		return
	}

	schema, err := h.builder.Metadata(r.Context(), scope, chi.URLParam(r, "table"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema.Public())
}

func (h *TableHandler) Rename(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.Edit())
	if !ok {
		return
	}
	var req dto.RenameRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.builder.Rename(r.Context(), scope, chi.URLParam(r, "table"), req.Name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TableHandler) Drop(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.DeleteResource())
	if !ok {
		return
	}

	if err := h.builder.Drop(r.Context(), scope, chi.URLParam(r, "table")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TableHandler) Truncate(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.DeleteResource())
	if !ok {
		return
	}

	n, err := h.builder.Truncate(r.Context(), scope, chi.URLParam(r, "table"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TruncateResponse{Deleted: n})
}

func (h *TableHandler) RenameColumn(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.Edit())
	if !ok {
		return
	}
	var req dto.RenameRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.builder.RenameColumn(r.Context(), scope, chi.URLParam(r, "table"), chi.URLParam(r, "column"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TableHandler) SetColumnVisibility(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.Edit())
	if !ok {
		return
	}
	var req dto.ColumnVisibilityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Visible == nil {
		badRequest(w, "visible")
		return
	}

	err := h.builder.SetColumnVisibility(r.Context(), scope, chi.URLParam(r, "table"), chi.URLParam(r, "column"), *req.Visible)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TableHandler) Changelog(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.View())
	if !ok {
		return
	}

	changes, err := h.builder.Changelog(r.Context(), scope, chi.URLParam(r, "table"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": changes})
}

func (h *TableHandler) ListRows(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.View())
	if !ok {
		return
	}

	query := r.URL.Query()
	rows, err := h.filter.ListRows(r.Context(), scope, chi.URLParam(r, "table"), isolation.RowQuery{
		Limit:     queryInt(r, "limit", 0),
		Offset:    queryInt(r, "offset", 0),
		SortBy:    query.Get("sort_by"),
		SortOrder: query.Get("sort_order"),
		Search:    query.Get("search"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ListResponse[map[string]any]{Data: rows})
}

func (h *TableHandler) InsertRow(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.Edit())
	if !ok {
		return
	}
	var req dto.RowRequest
	if !decode(w, r, &req) {
		return
	}

	row, err := h.filter.InsertRow(r.Context(), scope, chi.URLParam(r, "table"), req.Values)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (h *TableHandler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.Edit())
	if !ok {
		return
	}
	var req dto.RowRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.filter.UpdateRow(r.Context(), scope, chi.URLParam(r, "table"), chi.URLParam(r, "key"), req.Values)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TableHandler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.DeleteResource())
	if !ok {
		return
	}

	if err := h.filter.DeleteRow(r.Context(), scope, chi.URLParam(r, "table"), chi.URLParam(r, "key")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
