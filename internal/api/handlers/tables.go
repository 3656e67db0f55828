package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"evalmap/internal/core"
	"evalmap/internal/table"
	"evalmap/internal/types"
)

// SkillTableRequest is the body of POST /v1/tables/skill. Params stays raw
// so the required-parameter check can report which key is absent.
type SkillTableRequest struct {
	Params    json.RawMessage `json:"params"`
	Selection table.Selection `json:"selection"`
	Series    table.Series    `json:"series"`
}

// TableHandler renders forecast results tables.
type TableHandler struct {
	validator *core.Validator
	logger    *slog.Logger
}

// NewTableHandler creates a TableHandler.
func NewTableHandler(val *core.Validator, logger *slog.Logger) *TableHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableHandler{validator: val, logger: logger}
}

// RegisterRoutes mounts the table endpoints under /v1.
func (h *TableHandler) RegisterRoutes(r chi.Router) {
	r.Post("/tables/skill", h.HandleSkillTable)
}

// HandleSkillTable handles POST /v1/tables/skill.
func (h *TableHandler) HandleSkillTable(w http.ResponseWriter, r *http.Request) {
	var req SkillTableRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.Params) == 0 {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"params is required",
			nil,
			map[string]any{"parameter": "params"},
		))
		return
	}

	params, err := table.DecodeParams(req.Params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req.Selection); err != nil {
		core.Error(w, r, err)
		return
	}

	t, err := table.Build(params, req.Selection, req.Series)
	if err != nil {
		h.logger.WarnContext(r.Context(), "skill table could not be built", "metric", req.Selection.Metric, "error", err)
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, t)
}
