package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"evalmap/internal/colormap"
	"evalmap/internal/core"
	"evalmap/internal/dataset"
	"evalmap/internal/external"
	"evalmap/internal/scores"
	"evalmap/internal/stretch"
	"evalmap/internal/timefilter"
	"evalmap/internal/types"
)

type colorQuery struct {
	Value    string `json:"value" validate:"required,stretch_bound"`
	Min      string `json:"min" validate:"required,stretch_bound"`
	Max      string `json:"max" validate:"required,stretch_bound"`
	Colormap string `json:"colormap" validate:"omitempty,colormap"`
	Signed   string `json:"signed" validate:"omitempty,boolean"`
}

type timeFilterQuery struct {
	Mode string `json:"mode" validate:"timefilter_mode"`
}

// ColorResponse is returned by GET /v1/colors.
type ColorResponse struct {
	Color    string `json:"color"`
	Colormap string `json:"colormap"`
	Signed   bool   `json:"signed"`
}

// ColormapInfo is one entry of GET /v1/colormaps.
type ColormapInfo struct {
	Name  string   `json:"name"`
	Stops []string `json:"stops"`
}

// TimeFilterResponse is returned by GET /v1/timefilter.
type TimeFilterResponse struct {
	Raw        string                `json:"raw"`
	Mode       timefilter.OutputMode `json:"mode"`
	Normalized string                `json:"normalized"`
	Humanized  string                `json:"humanized"`
}

// MetricResponse is returned by GET /v1/metrics/{metric}.
type MetricResponse struct {
	Metric          string           `json:"metric"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Direction       scores.Direction `json:"direction,omitempty"`
	Product         string           `json:"product,omitempty"`
	Units           string           `json:"units"`
	Unitless        bool             `json:"unitless"`
	Maximized       bool             `json:"maximized"`
	DescriptionHTML string           `json:"description_html"`
}

// CatalogHandler serves the pure lookups: colors, colormaps, time filters,
// the metric catalog and the basemap style.
type CatalogHandler struct {
	styles        external.StyleFetcher
	defaultFlavor string
	validator     *core.Validator
	logger        *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler. styles may be nil, in which
// case the basemap route is not mounted.
func NewCatalogHandler(styles external.StyleFetcher, defaultFlavor string, val *core.Validator, logger *slog.Logger) *CatalogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogHandler{styles: styles, defaultFlavor: defaultFlavor, validator: val, logger: logger}
}

// RegisterRoutes mounts the catalog endpoints under /v1.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/colors", h.HandleColor)
	r.Get("/colormaps", h.HandleListColormaps)
	r.Get("/timefilter", h.HandleTimeFilter)
	r.Get("/metrics/{metric}", h.HandleMetric)
	if h.styles != nil {
		r.Get("/basemap/style", h.HandleBasemapStyle)
	}
}

// HandleColor handles GET /v1/colors?value=&min=&max=&colormap=&signed=.
func (h *CatalogHandler) HandleColor(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cq := colorQuery{
		Value:    q.Get("value"),
		Min:      q.Get("min"),
		Max:      q.Get("max"),
		Colormap: q.Get("colormap"),
		Signed:   q.Get("signed"),
	}
	if err := h.validator.ValidateStruct(cq); err != nil {
		core.Error(w, r, err)
		return
	}

	value, _ := stretch.ParseBound(cq.Value)
	lo, _ := stretch.ParseBound(cq.Min)
	hi, _ := stretch.ParseBound(cq.Max)
	name := cq.Colormap
	if name == "" {
		name = stretch.DefaultColormap
	}
	signed, _ := strconv.ParseBool(cq.Signed)

	resolve := colormap.Resolve
	if signed {
		resolve = colormap.ResolveSigned
	}
	color, err := resolve(value, lo, hi, name)
	if err != nil {
		core.Error(w, r, colormapError(name, err))
		return
	}
	core.Data(w, r, http.StatusOK, ColorResponse{Color: color, Colormap: name, Signed: signed})
}

// HandleListColormaps handles GET /v1/colormaps.
func (h *CatalogHandler) HandleListColormaps(w http.ResponseWriter, r *http.Request) {
	names := colormap.Names()
	out := make([]ColormapInfo, 0, len(names))
	for _, name := range names {
		out = append(out, ColormapInfo{Name: name, Stops: colormap.Stops(name)})
	}
	core.Data(w, r, http.StatusOK, out)
}

// HandleTimeFilter handles GET /v1/timefilter?time_filter=&mode=. The
// time_filter parameter may repeat; values are joined with commas.
func (h *CatalogHandler) HandleTimeFilter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tq := timeFilterQuery{Mode: q.Get("mode")}
	if err := h.validator.ValidateStruct(tq); err != nil {
		core.Error(w, r, err)
		return
	}
	mode, _ := timefilter.ParseMode(tq.Mode)

	raw := dataset.Variables(q).Joined("time_filter", timefilter.None)
	core.Data(w, r, http.StatusOK, TimeFilterResponse{
		Raw:        raw,
		Mode:       mode,
		Normalized: timefilter.Normalize(raw, mode),
		Humanized:  timefilter.Humanize(raw),
	})
}

// HandleMetric handles GET /v1/metrics/{metric}?product=.
func (h *CatalogHandler) HandleMetric(w http.ResponseWriter, r *http.Request) {
	metric := chi.URLParam(r, "metric")
	info, ok := scores.Lookup(metric)
	if !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundMetric,
			"unknown metric",
			nil,
			map[string]any{"metric": metric},
		))
		return
	}

	product := r.URL.Query().Get("product")
	core.Data(w, r, http.StatusOK, MetricResponse{
		Metric:          metric,
		Name:            info.Name,
		Description:     info.Description,
		Direction:       info.Direction,
		Product:         product,
		Units:           scores.Units(metric, product),
		Unitless:        scores.IsUnitless(metric),
		Maximized:       scores.Maximized(metric),
		DescriptionHTML: scores.DescriptionHTML(metric),
	})
}

// HandleBasemapStyle handles GET /v1/basemap/style?flavor=. The prepared
// style is returned bare, without the data envelope, so map clients can load
// the URL directly.
func (h *CatalogHandler) HandleBasemapStyle(w http.ResponseWriter, r *http.Request) {
	flavor := r.URL.Query().Get("flavor")
	if flavor == "" {
		flavor = h.defaultFlavor
	}

	style, err := h.styles.FetchStyle(r.Context(), flavor)
	if err != nil {
		h.logger.WarnContext(r.Context(), "basemap style unavailable", "flavor", flavor, "error", err)
		core.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	core.JSON(w, r, http.StatusOK, style)
}

func colormapError(name string, err error) error {
	if errors.Is(err, colormap.ErrUnknownColormap) {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationUnknownColormap, "unknown colormap", err, map[string]any{"colormap": name})
	}
	return err
}
