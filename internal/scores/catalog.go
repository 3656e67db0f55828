// Package scores holds the metric catalog: display names, descriptions,
// which direction is better, units, and the skill score used by the results
// tables.
package scores

import (
	"html"
	"strings"
)

// Direction says which values of a metric are better.
type Direction string

const (
	DirectionLower  Direction = "lower"
	DirectionHigher Direction = "higher"
	DirectionZero   Direction = "zero"
	DirectionNone   Direction = ""
)

// Info describes one metric or metric family.
type Info struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Direction   Direction `json:"direction,omitempty"`
}

var exact = map[string]Info{
	"mae": {
		Name:        "Mean Absolute Error (MAE)",
		Description: "Mean absolute error measures the average magnitude of the errors in a set of predictions, without considering their direction.",
		Direction:   DirectionLower,
	},
	"rmse": {
		Name:        "Root Mean Square Error (RMSE)",
		Description: "Root mean squared error gives higher weight to large errors.",
		Direction:   DirectionLower,
	},
	"crps": {
		Name:        "Continuous Ranked Probability Score (CRPS)",
		Description: "Continuous ranked probability score assesses probabilistic forecast accuracy.",
		Direction:   DirectionLower,
	},
	"bias": {
		Name:        "Bias",
		Description: "Bias measures signed error magnitude.",
		Direction:   DirectionZero,
	},
	"smape": {
		Name:        "SMAPE",
		Description: "SMAPE expresses error as a percent of total value (precip only). Range [0, 1].",
		Direction:   DirectionLower,
	},
	"seeps": {
		Name:        "Stable Equitable Error in Probability Space (SEEPS)",
		Description: "SEEPS evaluates rainfall forecasts accounting for climatology.",
		Direction:   DirectionLower,
	},
	"acc": {
		Name:        "Anomaly Correlation Coefficient (ACC)",
		Description: "Anomaly correlation coefficient compares forecast and observed anomalies relative to climatology. Range [−1, 1].",
		Direction:   DirectionHigher,
	},
	"pearson": {
		Name:        "Pearson Correlation",
		Description: "Pearson correlation measures linear association between predictions and observations. Range [−1, 1].",
		Direction:   DirectionHigher,
	},
	"spread": {
		Name:        "Spread",
		Description: "The ensemble spread (standard deviation) of forecasts. Useful for assessing whether forecast uncertainty is well calibrated.",
		Direction:   DirectionNone,
	},
	"bss": {
		Name:        "Brier Skill Score (BSS)",
		Description: "Measures the improvement of a probabilistic forecast over a reference (climatology). Positive values indicate skill above the reference.",
		Direction:   DirectionHigher,
	},
}

// Threshold metrics are named "<family>-<threshold>", e.g. "pod-10".
var prefixed = []struct {
	prefix string
	info   Info
}{
	{"heidke-", Info{
		Name:        "Heidke Skill Score (HSS)",
		Description: "Heidke skill score compares forecast accuracy against random chance for one or more event thresholds. Range [−∞, 1].",
		Direction:   DirectionHigher,
	}},
	{"pod-", Info{
		Name:        "Probability of Detection (POD)",
		Description: "Probability of detection = fraction of observed events correctly forecast. Range [0, 1].",
		Direction:   DirectionHigher,
	}},
	{"csi-", Info{
		Name:        "Critical Success Index (CSI)",
		Description: "Critical success index measures the fraction of observed and/or forecast events that were correctly predicted (hits ÷ hits + misses + false alarms). Range [0, 1].",
		Direction:   DirectionHigher,
	}},
	{"far-", Info{
		Name:        "False Alarm Rate (FAR)",
		Description: "False alarm rate = fraction of predicted events not observed. Range [0, 1].",
		Direction:   DirectionLower,
	}},
	{"ets-", Info{
		Name:        "Equitable Threat Score (ETS)",
		Description: "Equitable threat score measures threshold-event skill adjusted for chance. Range [−⅓, 1].",
		Direction:   DirectionHigher,
	}},
}

// Lookup finds the catalog entry for metric, trying an exact match before the
// threshold-family prefixes.
func Lookup(metric string) (Info, bool) {
	m := strings.ToLower(metric)
	if info, ok := exact[m]; ok {
		return info, true
	}
	for _, entry := range prefixed {
		if strings.HasPrefix(m, entry.prefix) {
			return entry.info, true
		}
	}
	return Info{}, false
}

// DirectionOf returns the better-direction of metric, DirectionNone when the
// metric is unknown or has none.
func DirectionOf(metric string) Direction {
	info, _ := Lookup(metric)
	return info.Direction
}

var unitless = map[string]bool{
	"acc":          true,
	"pearson":      true,
	"smape":        true,
	"seeps":        true,
	"bss":          true,
	"spread_skill": true,
}

var unitlessPrefixes = []string{"heidke-", "pod-", "far-", "ets-", "csi-"}

// IsUnitless reports whether metric values carry no physical unit
// (correlations, skill scores, ratios).
func IsUnitless(metric string) bool {
	m := strings.ToLower(metric)
	if unitless[m] {
		return true
	}
	for _, prefix := range unitlessPrefixes {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// productUnits is matched by substring, in order.
var productUnits = []struct {
	needles []string
	units   string
}{
	{[]string{"precip", "rain", "tp"}, "mm/day"},
	{[]string{"tmp2m", "t2m", "temp", "sst"}, "°C"},
	{[]string{"wind", "u10", "v10"}, "m/s"},
	{[]string{"slp", "mslp", "pressure"}, "hPa"},
	{[]string{"z500", "geopotential"}, "m²/s²"},
}

// ProductUnits returns the physical units of a product's values, or "" when
// the product is not recognized.
func ProductUnits(product string) string {
	p := strings.ToLower(product)
	for _, entry := range productUnits {
		for _, needle := range entry.needles {
			if strings.Contains(p, needle) {
				return entry.units
			}
		}
	}
	return ""
}

// IsTemperature reports whether product values are temperatures.
func IsTemperature(product string) bool {
	return ProductUnits(product) == "°C"
}

// Units returns the display units for metric computed over product.
func Units(metric, product string) string {
	if IsUnitless(metric) {
		return ""
	}
	return ProductUnits(product)
}

// DescriptionHTML renders the metric description card, or "" for unknown
// metrics.
func DescriptionHTML(metric string) string {
	info, ok := Lookup(metric)
	if !ok {
		return ""
	}
	var direction string
	switch info.Direction {
	case DirectionLower:
		direction = `<span style="color:#d32f2f; font-weight:600;">Smaller is better.</span>`
	case DirectionHigher:
		direction = `<span style="color:#2e7d32; font-weight:600;">Larger is better.</span>`
	case DirectionZero:
		direction = `<span style="color:#757575; font-weight:600;">Ideal = 0.</span>`
	}

	var b strings.Builder
	b.WriteString(`<div class="metric-description">`)
	b.WriteString(`<strong style="font-size:14px;">` + html.EscapeString(info.Name) + `</strong><br/>`)
	b.WriteString(`<span style="opacity:0.82;">` + html.EscapeString(info.Description) + `</span>`)
	if direction != "" {
		b.WriteString("<br/>" + direction)
	}
	b.WriteString(`</div>`)
	return b.String()
}
