package table

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"evalmap/internal/colormap"
	"evalmap/internal/scores"
	"evalmap/internal/types"
)

const (
	transparent  = "rgba(0,0,0,0)"
	dividerColor = "grey"

	// DefaultLinkPath is the maps dashboard cells link to.
	DefaultLinkPath = "d/ae39q2k3jv668d/plotly-maps"
)

// Series is a metric evaluated for each forecast at each lead. Leads[i][j]
// is the value of lead i+1 for Forecasts[j]; nil marks a missing value.
type Series struct {
	Forecasts []string     `json:"forecasts"`
	Leads     [][]*float64 `json:"leads"`
}

// Selection carries the dashboard variables the table depends on.
type Selection struct {
	Metric       string `json:"metric" validate:"required"`
	Baseline     string `json:"baseline"`
	Grid         string `json:"grid"`
	Region       string `json:"region"`
	TimeGrouping string `json:"time_grouping"`
	TimeFilter   string `json:"time_filter"`
	LinkPath     string `json:"link_path"`
}

// Table is the rendered results table. Columns and Fill are column-major and
// include the divider column.
type Table struct {
	Title       string     `json:"title"`
	Header      []string   `json:"header"`
	Columns     [][]string `json:"columns"`
	Fill        [][]string `json:"fill"`
	ColumnWidth []float64  `json:"columnwidth"`
}

// tableColormaps maps the table panel colormap names onto palettes.
var tableColormaps = map[string]string{
	"brbg":    "brbg",
	"balance": "balance",
	"rdbu":    "rdwhbu",
	"burd":    "rdwhbu_r",
}

func resolvePalette(name string) (string, error) {
	p, ok := tableColormaps[strings.ToLower(name)]
	if !ok {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownColormap,
			fmt.Sprintf("unknown table colormap %q", name),
			colormap.ErrUnknownColormap,
			map[string]any{"colormap": name},
		)
	}
	return p, nil
}

type colorRule struct {
	palette    string
	cmin, cmax float64
	// byValue colors cells by their displayed value instead of their skill.
	byValue bool
}

func ruleFor(metric string, p Params, valueMin, valueMax float64) (colorRule, error) {
	m := strings.ToLower(metric)
	switch {
	case m == "bias":
		palette, err := resolvePalette(p.BiasColormap)
		if err != nil {
			return colorRule{}, err
		}
		return colorRule{palette: palette, cmin: valueMin, cmax: valueMax, byValue: true}, nil
	case m == "acc":
		return colorRule{palette: "rdwhbu", cmin: -1, cmax: 1, byValue: true}, nil
	case strings.HasPrefix(m, "heidke-"), strings.HasPrefix(m, "pod-"),
		strings.HasPrefix(m, "ets-"), strings.HasPrefix(m, "far-"):
		return colorRule{palette: "rdwhbu", cmin: p.SkillScoreRange[0], cmax: p.SkillScoreRange[1]}, nil
	default:
		return colorRule{palette: "rdwhbu", cmin: -1, cmax: 1}, nil
	}
}

// Build renders series into the results table for the selected metric, with
// skill computed against the Baseline forecast. An empty series yields the
// zero Table.
func Build(p Params, sel Selection, series Series) (Table, error) {
	if len(series.Forecasts) == 0 || len(series.Leads) == 0 {
		return Table{}, nil
	}

	maximize := p.EnableMaximize && scores.Maximized(sel.Metric)

	baselineIdx := -1
	for j, f := range series.Forecasts {
		if f == sel.Baseline {
			baselineIdx = j
		}
	}

	valueMin, valueMax := math.Inf(1), math.Inf(-1)
	formatted := make([][]string, len(series.Leads))
	skills := make([][]float64, len(series.Leads))
	skillOK := make([][]bool, len(series.Leads))
	for i, lead := range series.Leads {
		var baseline *float64
		if baselineIdx >= 0 && baselineIdx < len(lead) {
			baseline = lead[baselineIdx]
		}
		formatted[i] = make([]string, len(series.Forecasts))
		skills[i] = make([]float64, len(series.Forecasts))
		skillOK[i] = make([]bool, len(series.Forecasts))
		for j := range series.Forecasts {
			var v *float64
			if j < len(lead) {
				v = lead[j]
			}
			formatted[i][j] = formatValue(v)
			if v == nil {
				continue
			}
			valueMin = math.Min(valueMin, *v)
			valueMax = math.Max(valueMax, *v)
			if baseline != nil {
				skills[i][j], skillOK[i][j] = scores.SkillScore(*v, *baseline, maximize)
			}
		}
	}

	rule, err := ruleFor(sel.Metric, p, valueMin, valueMax)
	if err != nil {
		return Table{}, err
	}

	fill := make([][]string, len(series.Leads))
	for i := range series.Leads {
		fill[i] = make([]string, len(series.Forecasts))
		for j := range series.Forecasts {
			fill[i][j] = cellColor(rule, formatted[i][j], skills[i][j], skillOK[i][j])
		}
	}

	names := make([]string, len(series.Forecasts))
	for j, f := range series.Forecasts {
		names[j] = DisplayName(f)
	}

	header := []string{"Forecast"}
	leadKeys := make([]string, len(series.Leads))
	for i := range series.Leads {
		header = append(header, p.TimeGrouping+" "+strconv.Itoa(i+1))
		leadKeys[i] = strings.ToLower(p.TimeGrouping) + strconv.Itoa(i+1)
	}

	cells := make([][]string, 0, len(series.Leads)+1)
	cells = append(cells, names)
	for i := range series.Leads {
		col := formatted[i]
		if p.EnableLinks {
			col = linkColumn(col, series.Forecasts, leadKeys[i], sel)
		}
		cells = append(cells, col)
	}

	forecastFill := make([]string, len(series.Forecasts))
	for j := range forecastFill {
		forecastFill[j] = transparent
	}
	divider := clamp(p.DividerColumn, 1, len(cells))

	return Table{
		Title:       p.Title + titleUnits(sel.Metric, p.Units),
		Header:      insertAt(header, divider, ""),
		Columns:     insertColumn(cells, divider, repeat("", len(series.Forecasts))),
		Fill:        insertColumn(append([][]string{forecastFill}, fill...), divider, repeat(dividerColor, len(series.Forecasts))),
		ColumnWidth: p.ColumnWidth,
	}, nil
}

func cellColor(rule colorRule, formatted string, skill float64, ok bool) string {
	if rule.byValue {
		v, err := strconv.ParseFloat(formatted, 64)
		if err != nil {
			v = math.NaN()
		}
		c, _ := colormap.ResolveSigned(v, rule.cmin, rule.cmax, rule.palette)
		return c
	}
	if !ok {
		return colormap.Neutral
	}
	c, _ := colormap.ResolveSigned(skill, rule.cmin, rule.cmax, rule.palette)
	return c
}

func titleUnits(metric, units string) string {
	switch strings.ToLower(metric) {
	case "mae", "bias", "crps", "rmse":
		return " (" + units + ")"
	}
	return ""
}

func linkColumn(values, forecasts []string, lead string, sel Selection) []string {
	path := sel.LinkPath
	if path == "" {
		path = DefaultLinkPath
	}
	out := make([]string, len(values))
	for j, v := range values {
		q := url.Values{}
		q.Set("orgId", "1")
		q.Set("var-forecast", forecasts[j])
		q.Set("var-metric", sel.Metric)
		q.Set("var-lead", lead)
		q.Set("var-truth", "era5")
		q.Set("var-grid", sel.Grid)
		q.Set("var-region", sel.Region)
		q.Set("var-time_grouping", sel.TimeGrouping)
		q.Set("var-time_filter", sel.TimeFilter)
		out[j] = `<a href="` + path + "?" + q.Encode() + `">` + v + "</a>"
	}
	return out
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func insertAt(s []string, i int, v string) []string {
	out := make([]string, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	return append(out, s[i:]...)
}

func insertColumn(cols [][]string, i int, col []string) [][]string {
	out := make([][]string, 0, len(cols)+1)
	out = append(out, cols[:i]...)
	out = append(out, col)
	return append(out, cols[i:]...)
}
