// Package handlers contains the HTTP handlers of the evalmap API.
//
// Handlers decode and validate the request, call into the domain packages
// and write the response through the core envelope helpers. Dependencies are
// taken as small interfaces defined here so tests can substitute fakes.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"evalmap/internal/colormap"
	"evalmap/internal/core"
	"evalmap/internal/dataset"
	"evalmap/internal/panel"
	"evalmap/internal/scores"
	"evalmap/internal/stretch"
	"evalmap/internal/types"
)

// LayerBuilder is the part of panel.Pipeline the layer endpoints use.
type LayerBuilder interface {
	BuildLayer(ctx context.Context, params dataset.Params, vmin, vmax string) (panel.Layer, error)
	SharedStretch(ctx context.Context, params dataset.Params, leads []string) (stretch.Stretch, bool, error)
}

// layerQuery holds the query parameters that are validated rather than
// passed through as dashboard variables.
type layerQuery struct {
	Family     string `json:"dataset_family" validate:"omitempty,oneof=metric grouped_metric"`
	OutputMode string `json:"time_filter_output_mode" validate:"timefilter_mode"`
}

// DatasetIDResponse is returned by GET /v1/datasets/id.
type DatasetIDResponse struct {
	DatasetID string            `json:"dataset_id"`
	Params    dataset.Params    `json:"params"`
	Dates     dataset.DateRange `json:"dates"`
}

// LayerResponse is returned by GET /v1/layers.
type LayerResponse struct {
	panel.Layer
	Metric panel.MetricInfo `json:"metric"`
}

// SharedStretchResponse is returned by GET /v1/layers/shared.
type SharedStretchResponse struct {
	Leads   []string         `json:"leads"`
	Visible bool             `json:"visible"`
	Stretch *stretch.Stretch `json:"stretch,omitempty"`
	Token   string           `json:"stretch_token"`
	Legend  string           `json:"legend_html"`
}

// LayerHandler serves stateless layer derivation: the caller passes the
// dashboard variables as query parameters and gets the result directly.
type LayerHandler struct {
	layers    LayerBuilder
	validator *core.Validator
	logger    *slog.Logger
}

// NewLayerHandler creates a LayerHandler.
func NewLayerHandler(layers LayerBuilder, val *core.Validator, logger *slog.Logger) *LayerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LayerHandler{layers: layers, validator: val, logger: logger}
}

// RegisterRoutes mounts the layer endpoints under /v1.
func (h *LayerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/datasets/id", h.HandleDatasetID)
	r.Get("/layers", h.HandleGetLayer)
	r.Get("/layers/shared", h.HandleSharedStretch)
}

// HandleDatasetID handles GET /v1/datasets/id.
func (h *LayerHandler) HandleDatasetID(w http.ResponseWriter, r *http.Request) {
	params, ok := h.paramsFromQuery(w, r)
	if !ok {
		return
	}
	core.Data(w, r, http.StatusOK, DatasetIDResponse{
		DatasetID: dataset.BuildID(params),
		Params:    params,
		Dates:     dataset.ResolveDates(params.Family()),
	})
}

// HandleGetLayer handles GET /v1/layers. Missing data and upstream failures
// are reported in the layer status with a 200; only a request that ends
// before the layer is built is an error.
func (h *LayerHandler) HandleGetLayer(w http.ResponseWriter, r *http.Request) {
	params, ok := h.paramsFromQuery(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	layer, err := h.layers.BuildLayer(r.Context(), params, q.Get("vmin"), q.Get("vmax"))
	if err != nil {
		h.writeAborted(w, r, err)
		return
	}

	core.Data(w, r, http.StatusOK, LayerResponse{
		Layer:  layer,
		Metric: panel.DescribeMetric(params.Metric, params.Product),
	})
}

// HandleSharedStretch handles GET /v1/layers/shared. Leads come from the
// repeatable or comma-separated leads parameter, otherwise from max_lead.
func (h *LayerHandler) HandleSharedStretch(w http.ResponseWriter, r *http.Request) {
	params, ok := h.paramsFromQuery(w, r)
	if !ok {
		return
	}

	leads := splitList(r.URL.Query()["leads"])
	if len(leads) == 0 {
		maxLead := dataset.ParseMaxLead(r.URL.Query().Get("max_lead"), panel.DefaultMaxLead)
		for _, week := range dataset.LeadWeeks(maxLead) {
			leads = append(leads, dataset.WeekLead(week))
		}
	}

	s, found, err := h.layers.SharedStretch(r.Context(), params, leads)
	if err != nil {
		h.writeAborted(w, r, err)
		return
	}

	resp := SharedStretchResponse{
		Leads:   leads,
		Visible: found,
		Legend:  colormap.LegendHTML(s.Colormap, s.Min, s.Max, found, scores.Units(params.Metric, params.Product)),
	}
	if found {
		resp.Stretch = &s
		resp.Token = s.Encode()
	}
	core.Data(w, r, http.StatusOK, resp)
}

func (h *LayerHandler) paramsFromQuery(w http.ResponseWriter, r *http.Request) (dataset.Params, bool) {
	q := r.URL.Query()
	lq := layerQuery{
		Family:     q.Get("dataset_family"),
		OutputMode: q.Get("time_filter_output_mode"),
	}
	if err := h.validator.ValidateStruct(lq); err != nil {
		core.Error(w, r, err)
		return dataset.Params{}, false
	}
	return panel.SingleParams(dataset.Variables(q), lq.Family), true
}

func (h *LayerHandler) writeAborted(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		h.logger.DebugContext(r.Context(), "layer request canceled", "error", err)
	}
	core.Error(w, r, types.NewAppError(types.ErrCodeUpstreamUnavailable, "layer could not be built before the request ended", err))
}

// splitList flattens repeated and comma-separated values, dropping blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
