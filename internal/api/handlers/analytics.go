package handlers

import (
	"net/http"

	"github.com/hugh/quanty/internal/analytics"
	"github.com/hugh/quanty/internal/api/dto"
	"github.com/hugh/quanty/internal/policy"
	"github.com/hugh/quanty/internal/workspace"
)

type AnalyticsHandler struct {
	directory *workspace.Directory
	service   *analytics.Service
}

func NewAnalyticsHandler(directory *workspace.Directory, service *analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{directory: directory, service: service}
}

// Analyze answers a natural-language question over one table.
func (h *AnalyticsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.View())
	if !ok {
		return
	}
	var req dto.AnalyzeRequest
	if !decode(w, r, &req) {
		return
	}

	answer, err := h.service.Ask(r.Context(), scope, req.Table, req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (h *AnalyticsHandler) ExecuteWidget(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.View())
	if !ok {
		return
	}
	var req dto.ExecuteWidgetRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.ExecuteWidget(r.Context(), scope, req.Widget)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.WidgetResult{ID: req.Widget.ID, Result: result})
}

// ExecuteAll runs a dashboard. Widget failures are reported per widget and
// do not fail the request.
func (h *AnalyticsHandler) ExecuteAll(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFor(w, r, h.directory, policy.View())
	if !ok {
		return
	}
	var req dto.ExecuteAllRequest
	if !decode(w, r, &req) {
		return
	}

	results, err := h.service.ExecuteAll(r.Context(), scope, req.Widgets)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ListResponse[analytics.WidgetResult]{Data: results})
}
