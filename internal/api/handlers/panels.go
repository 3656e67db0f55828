package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"evalmap/internal/core"
	"evalmap/internal/panel"
	"evalmap/internal/types"
)

// PanelRegistry is the part of panel.Registry the panel endpoints use.
type PanelRegistry interface {
	Create(spec panel.Spec, initial panel.Snapshot) (*panel.Runtime, error)
	Get(id string) (*panel.Runtime, bool)
	SetVariables(id string, snap panel.Snapshot) error
	Remove(id string) error
}

// CreatePanelRequest is the body of POST /v1/panels.
type CreatePanelRequest struct {
	ID        string              `json:"id" validate:"omitempty,max=128,printascii"`
	Mode      string              `json:"mode" validate:"omitempty,panel_mode"`
	Family    string              `json:"dataset_family" validate:"omitempty,oneof=metric grouped_metric"`
	Products  []panel.Product     `json:"products" validate:"omitempty,max=8,dive"`
	Variables map[string][]string `json:"variables"`
}

// SetVariablesRequest is the body of PUT /v1/panels/{id}/variables.
type SetVariablesRequest struct {
	Variables map[string][]string `json:"variables" validate:"required"`
}

// PanelHandler manages server-side panel runtimes. The host registers a
// panel, pushes variable values as they change, and reads the derived state;
// polling, debouncing and refreshing happen in the runtime.
type PanelHandler struct {
	registry  PanelRegistry
	validator *core.Validator
	logger    *slog.Logger
}

// NewPanelHandler creates a PanelHandler.
func NewPanelHandler(registry PanelRegistry, val *core.Validator, logger *slog.Logger) *PanelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PanelHandler{registry: registry, validator: val, logger: logger}
}

// RegisterRoutes mounts the panel endpoints under /v1.
func (h *PanelHandler) RegisterRoutes(r chi.Router) {
	r.Route("/panels", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}/variables", h.HandleSetVariables)
		r.Delete("/{id}", h.HandleDelete)
	})
}

// HandleCreate handles POST /v1/panels. The response holds the initial
// state, which is pending until the first refresh lands.
func (h *PanelHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreatePanelRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	spec := panel.Spec{
		ID:       req.ID,
		Mode:     panel.Mode(req.Mode),
		Family:   req.Family,
		Products: req.Products,
	}
	rt, err := h.registry.Create(spec, panel.Snapshot(req.Variables))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/panels/"+rt.ID())
	core.Data(w, r, http.StatusCreated, rt.State())
}

// HandleGet handles GET /v1/panels/{id}.
func (h *PanelHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rt, ok := h.registry.Get(id)
	if !ok {
		core.Error(w, r, panelNotFound(id))
		return
	}
	core.Data(w, r, http.StatusOK, rt.State())
}

// HandleSetVariables handles PUT /v1/panels/{id}/variables. The update is
// accepted immediately; the runtime picks it up on its next poll.
func (h *PanelHandler) HandleSetVariables(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SetVariablesRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.registry.SetVariables(id, panel.Snapshot(req.Variables)); err != nil {
		core.Error(w, r, err)
		return
	}

	rt, ok := h.registry.Get(id)
	if !ok {
		core.Error(w, r, panelNotFound(id))
		return
	}
	core.Data(w, r, http.StatusAccepted, rt.State())
}

// HandleDelete handles DELETE /v1/panels/{id}.
func (h *PanelHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Remove(id); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "panel deleted", "panel_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func panelNotFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundPanel, "panel not found", nil, map[string]any{"panel_id": id})
}
