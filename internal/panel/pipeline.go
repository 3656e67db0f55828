package panel

import (
	"context"
	"errors"
	"log/slog"

	"evalmap/internal/colormap"
	"evalmap/internal/dataset"
	"evalmap/internal/external"
	"evalmap/internal/scores"
	"evalmap/internal/stretch"
	"evalmap/internal/timefilter"

	"golang.org/x/sync/errgroup"
)

// Status describes the outcome of the last applied refresh.
type Status string

const (
	StatusPending     Status = "pending"
	StatusReady       Status = "ready"
	StatusNoData      Status = "no_data"
	StatusFetchFailed Status = "fetch_failed"
)

// DefaultMaxLead is the number of lead weeks a multi-map panel shows when
// the max_lead variable is unset.
const DefaultMaxLead = 6

// DefaultFetchConcurrency bounds concurrent metadata fetches of one
// multi-map refresh.
const DefaultFetchConcurrency = 4

// Product is one row of a multi-map panel.
type Product struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Product string `json:"product"`
}

// DefaultProducts are the multi-map rows used when a panel names none.
var DefaultProducts = []Product{
	{Key: "rain", Label: "Precipitation", Product: "era5_precip"},
	{Key: "temp", Label: "Temperature", Product: "era5_tmp2m"},
}

// Layer is the derived map layer of a single-map panel.
type Layer struct {
	DatasetID string           `json:"dataset_id"`
	Params    dataset.Params   `json:"params"`
	Stretch   *stretch.Stretch `json:"stretch,omitempty"`
	Token     string           `json:"stretch_token"`
	TileURL   string           `json:"tile_url"`
	Legend    string           `json:"legend_html"`
	Status    Status           `json:"status"`
}

// Row is one product of a multi-map panel. A row is visible iff it has a
// shared stretch.
type Row struct {
	Product
	Visible bool             `json:"visible"`
	Stretch *stretch.Stretch `json:"stretch,omitempty"`
	Token   string           `json:"stretch_token"`
	Legend  string           `json:"legend_html"`
}

// Cell is one product and lead week of a multi-map panel.
type Cell struct {
	Key         string `json:"key"`
	ProductKey  string `json:"product_key"`
	Week        int    `json:"week"`
	DatasetID   string `json:"dataset_id"`
	Token       string `json:"stretch_token"`
	TileURL     string `json:"tile_url"`
	HasMetadata bool   `json:"has_metadata"`
}

// Grid is the derived state of a multi-map panel.
type Grid struct {
	Rows   []Row  `json:"rows"`
	Cells  []Cell `json:"cells"`
	Status Status `json:"status"`
}

// MetricInfo describes the selected metric for the panel's info card.
type MetricInfo struct {
	Metric          string           `json:"metric"`
	Name            string           `json:"name,omitempty"`
	Description     string           `json:"description,omitempty"`
	Direction       scores.Direction `json:"direction,omitempty"`
	Units           string           `json:"units,omitempty"`
	DescriptionHTML string           `json:"description_html,omitempty"`
}

// DescribeMetric gathers catalog information about metric over product.
func DescribeMetric(metric, product string) MetricInfo {
	info, _ := scores.Lookup(metric)
	return MetricInfo{
		Metric:          metric,
		Name:            info.Name,
		Description:     info.Description,
		Direction:       info.Direction,
		Units:           scores.Units(metric, product),
		DescriptionHTML: scores.DescriptionHTML(metric),
	}
}

// Pipeline turns panel variables into layers: dataset id, metadata, stretch,
// overrides, tile URL, legend.
type Pipeline struct {
	fetcher     external.MetadataFetcher
	concurrency int
	logger      *slog.Logger
}

// NewPipeline creates a Pipeline reading metadata through fetcher.
func NewPipeline(fetcher external.MetadataFetcher, concurrency int, logger *slog.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{fetcher: fetcher, concurrency: concurrency, logger: logger}
}

// SingleParams builds the params of a single-map panel from its variables.
func SingleParams(vars dataset.Variables, family string) dataset.Params {
	p := dataset.FromVariables(vars, family)
	if mode, ok := timefilter.ParseMode(vars.Get("time_filter_output_mode", "")); ok {
		p.TimeFilterOutputMode = mode
	}
	return p
}

// BuildLayer derives the layer for p with the vmin/vmax overrides applied.
// Missing data and upstream failures are reported through Layer.Status; the
// only error returned is the context's, when ctx ends first.
func (p *Pipeline) BuildLayer(ctx context.Context, params dataset.Params, vmin, vmax string) (Layer, error) {
	id := dataset.BuildID(params)
	units := scores.Units(params.Metric, params.Product)
	layer := Layer{
		DatasetID: id,
		Params:    params,
		Status:    StatusNoData,
		Legend:    colormap.LegendHTML("", 0, 0, false, units),
	}

	md, err := p.fetcher.FetchMetadata(ctx, id)
	if err != nil {
		if ctxErr := canceled(ctx, err); ctxErr != nil {
			return Layer{}, ctxErr
		}
		if external.IsNotFound(err) {
			return layer, nil
		}
		p.logger.ErrorContext(ctx, "failed to fetch metadata", "dataset_id", id, "error", err)
		layer.Status = StatusFetchFailed
		return layer, nil
	}

	base, hasBase := stretch.FromMetadata(md.Percentiles, params.Metric, params.Product)
	s, ok := stretch.ApplyOverrides(base, hasBase, vmin, vmax, params.Metric, params.Product)
	if !ok {
		return layer, nil
	}

	layer.Stretch = &s
	layer.Token = s.Encode()
	layer.TileURL = p.fetcher.TileURL(id, layer.Token)
	layer.Legend = colormap.LegendHTML(s.Colormap, s.Min, s.Max, true, units)
	layer.Status = StatusReady
	return layer, nil
}

type cellResult struct {
	id        string
	bounds    stretch.Bounds
	hasBounds bool
	hasMeta   bool
	failed    bool
}

// BuildGrid derives a multi-map grid: every product at every lead week, one
// shared stretch per product over the cells whose metadata exists.
func (p *Pipeline) BuildGrid(ctx context.Context, vars dataset.Variables, products []Product, weeks []int) (Grid, error) {
	if len(products) == 0 {
		products = DefaultProducts
	}
	metric := vars.Get("metric", "")

	results := make([][]cellResult, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, prod := range products {
		results[i] = make([]cellResult, len(weeks))
		for j, week := range weeks {
			params := dataset.CellParams(vars, prod.Product, week)
			res := &results[i][j]
			res.id = dataset.BuildID(params)
			g.Go(func() error {
				md, err := p.fetcher.FetchMetadata(gctx, res.id)
				if err != nil {
					if ctxErr := canceled(gctx, err); ctxErr != nil {
						return ctxErr
					}
					if !external.IsNotFound(err) {
						p.logger.ErrorContext(gctx, "failed to fetch metadata", "dataset_id", res.id, "error", err)
						res.failed = true
					}
					return nil
				}
				res.hasMeta = true
				res.bounds, res.hasBounds = stretch.ExtractBounds(md.Percentiles)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Grid{}, err
	}
	if err := ctx.Err(); err != nil {
		return Grid{}, err
	}

	grid := Grid{Status: StatusNoData}
	anyFailed := false
	for i, prod := range products {
		var bounds []stretch.Bounds
		for _, res := range results[i] {
			if res.hasBounds {
				bounds = append(bounds, res.bounds)
			}
			anyFailed = anyFailed || res.failed
		}
		shared, ok := stretch.BuildShared(bounds, metric, prod.Product)

		row := Row{
			Product: prod,
			Visible: ok,
			Legend:  colormap.LegendHTML("", 0, 0, false, scores.Units(metric, prod.Product)),
		}
		if ok {
			row.Stretch = &shared
			row.Token = shared.Encode()
			row.Legend = colormap.LegendHTML(shared.Colormap, shared.Min, shared.Max, true, scores.Units(metric, prod.Product))
			grid.Status = StatusReady
		}
		grid.Rows = append(grid.Rows, row)

		for j, week := range weeks {
			res := results[i][j]
			cell := Cell{
				Key:         prod.Key + "-" + dataset.WeekLead(week),
				ProductKey:  prod.Key,
				Week:        week,
				DatasetID:   res.id,
				Token:       row.Token,
				HasMetadata: res.hasMeta,
			}
			if ok && res.hasMeta {
				cell.TileURL = p.fetcher.TileURL(res.id, row.Token)
			}
			grid.Cells = append(grid.Cells, cell)
		}
	}
	if grid.Status != StatusReady && anyFailed {
		grid.Status = StatusFetchFailed
	}
	return grid, nil
}

// SharedStretch fetches params at every lead and builds the stretch shared
// across those that have usable percentiles. Fetch failures count as
// missing leads.
func (p *Pipeline) SharedStretch(ctx context.Context, params dataset.Params, leads []string) (stretch.Stretch, bool, error) {
	bounds := make([]*stretch.Bounds, len(leads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, lead := range leads {
		id := dataset.BuildID(params.With(params.Product, lead))
		g.Go(func() error {
			md, err := p.fetcher.FetchMetadata(gctx, id)
			if err != nil {
				if ctxErr := canceled(gctx, err); ctxErr != nil {
					return ctxErr
				}
				if !external.IsNotFound(err) {
					p.logger.WarnContext(gctx, "failed to fetch metadata", "dataset_id", id, "error", err)
				}
				return nil
			}
			if b, ok := stretch.ExtractBounds(md.Percentiles); ok {
				bounds[i] = &b
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stretch.Stretch{}, false, err
	}

	var present []stretch.Bounds
	for _, b := range bounds {
		if b != nil {
			present = append(present, *b)
		}
	}
	s, ok := stretch.BuildShared(present, params.Metric, params.Product)
	return s, ok, nil
}

// canceled returns the context error when err stems from ctx ending.
func canceled(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
