// Package dataset builds the dataset identifiers the tile server keys its
// rasters and percentile metadata by. Identifiers are cache and lookup keys
// against an external service, so the layouts here are bit-exact.
package dataset

import (
	"math"
	"strconv"
	"strings"

	"evalmap/internal/timefilter"
)

// Dataset families. Unknown families are treated as FamilyGroupedMetric.
const (
	FamilyMetric        = "metric"
	FamilyGroupedMetric = "grouped_metric"
)

// Params is the explicit parameter set a dataset id is derived from. It is a
// value type: refresh cycles build a new Params rather than editing one.
type Params struct {
	Forecast      string `json:"forecast"`
	Grid          string `json:"grid"`
	Metric        string `json:"metric"`
	Product       string `json:"product"`
	Lead          string `json:"lead"`
	TimeGrouping  string `json:"time_grouping"`
	TimeFilter    string `json:"time_filter"`
	AggDays       string `json:"agg_days"`
	DatasetFamily string `json:"dataset_family"`
	Region        string `json:"region"`

	// TimeFilterOutputMode selects how month tokens are written into the id.
	// Empty means timefilter.ModeMXX.
	TimeFilterOutputMode timefilter.OutputMode `json:"time_filter_output_mode,omitempty"`
}

// Family returns the dataset family, defaulting to FamilyGroupedMetric.
func (p Params) Family() string {
	if p.DatasetFamily == "" {
		return FamilyGroupedMetric
	}
	return p.DatasetFamily
}

// With returns a copy of p with the product and lead replaced.
func (p Params) With(product, lead string) Params {
	p.Product = product
	p.Lead = lead
	return p
}

// Variables is the current value of each dashboard variable. Multi-select
// variables carry more than one element; scalars carry exactly one.
type Variables map[string][]string

// Get returns the first value of the named variable, or fallback when the
// variable is absent or empty.
func (v Variables) Get(name, fallback string) string {
	values, ok := v[name]
	if !ok || len(values) == 0 || values[0] == "" {
		return fallback
	}
	return values[0]
}

// Joined returns all values of the named variable joined by commas, or
// fallback when none are set.
func (v Variables) Joined(name, fallback string) string {
	values := v[name]
	nonEmpty := make([]string, 0, len(values))
	for _, value := range values {
		if value != "" {
			nonEmpty = append(nonEmpty, value)
		}
	}
	if len(nonEmpty) == 0 {
		return fallback
	}
	return strings.Join(nonEmpty, ",")
}

// ResolveRegion maps a forecast to the region its grouped metrics are
// computed over.
func ResolveRegion(forecast string) string {
	if forecast == "salient" {
		return "africa"
	}
	return "global"
}

// ResolveMetricProduct joins a bare product with its truth source. Products
// already carrying an underscore (e.g. "era5_precip") pass through.
func ResolveMetricProduct(product, truth string) string {
	if strings.Contains(product, "_") {
		return product
	}
	p := strings.TrimSpace(product)
	if p == "" {
		p = "precip"
	}
	t := strings.TrimSpace(truth)
	if t == "" {
		t = "era5"
	}
	return t + "_" + p
}

// Defaults of the metric family, whose panels evaluate a reanalysis against
// station truth.
const (
	DefaultReanalysis  = "era5"
	DefaultMetricTruth = "ghcn"
)

// FromVariables builds Params for a single-map panel from dashboard
// variables. The family decides which id layout the result is used with and
// which defaults apply: metric panels read the forecast from "reanalysis"
// (then "forecast") and default the truth to DefaultMetricTruth, so an empty
// variable set still yields a complete id.
func FromVariables(vars Variables, family string) Params {
	forecast := vars.Get("forecast", vars.Get("reanalysis", ""))
	truth := vars.Get("truth", "")
	region := ResolveRegion(forecast)
	if family == FamilyMetric {
		forecast = vars.Get("reanalysis", vars.Get("forecast", DefaultReanalysis))
		truth = vars.Get("truth", DefaultMetricTruth)
		region = "global"
	}
	return Params{
		Forecast:      forecast,
		Grid:          vars.Get("grid", ""),
		Metric:        vars.Get("metric", "mae"),
		Product:       ResolveMetricProduct(vars.Get("product", ""), truth),
		Lead:          vars.Get("lead", "week1"),
		TimeGrouping:  vars.Get("time_grouping", ""),
		TimeFilter:    vars.Joined("time_filter", timefilter.None),
		AggDays:       vars.Get("agg_days", "7"),
		DatasetFamily: family,
		Region:        region,
	}
}

// LeadWeeks returns the week numbers 1..maxLead, with at least one week.
func LeadWeeks(maxLead float64) []int {
	n := 1
	if !math.IsNaN(maxLead) && maxLead >= 1 {
		n = int(math.Floor(maxLead))
	}
	weeks := make([]int, n)
	for i := range weeks {
		weeks[i] = i + 1
	}
	return weeks
}

// ParseMaxLead reads a max_lead variable, falling back to def for missing or
// non-numeric values.
func ParseMaxLead(raw string, def int) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || n == 0 || math.IsNaN(n) {
		return float64(def)
	}
	return n
}

// WeekLead renders a week number as a lead label ("week3").
func WeekLead(week int) string {
	return "week" + strconv.Itoa(week)
}

// CellParams builds the params of one multi-map cell: the shared variables
// with the cell's product and lead week substituted. Unlike a single map, a
// grid has no default metric; an unset metric stays empty.
func CellParams(vars Variables, product string, week int) Params {
	p := FromVariables(vars, FamilyGroupedMetric).With(product, WeekLead(week))
	p.Metric = vars.Get("metric", "")
	return p
}
