package dataset

import (
	"strings"

	"evalmap/internal/timefilter"
)

// DateRange is the start/end pair baked into a dataset id.
type DateRange struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

// ResolveDates returns the fixed evaluation period of a dataset family.
func ResolveDates(family string) DateRange {
	if family == FamilyMetric {
		return DateRange{Start: "1998-01-01", End: "2024-12-31"}
	}
	return DateRange{Start: "2016-01-01", End: "2022-12-31"}
}

// SplitProduct splits a product into its truth source and variable category
// at the first underscore. Products without a usable underscore default the
// truth to era5, and an empty product defaults the category to precip.
func SplitProduct(product string) (truth, category string) {
	idx := strings.IndexByte(product, '_')
	if idx > 0 && idx < len(product)-1 {
		return product[:idx], product[idx+1:]
	}
	if product == "" {
		return "era5", "precip"
	}
	return "era5", product
}

// BuildID serializes p into the tile server's dataset identifier.
func BuildID(p Params) string {
	family := p.Family()
	dates := ResolveDates(family)

	mode := p.TimeFilterOutputMode
	if mode == "" {
		mode = timefilter.ModeMXX
	}
	filter := timefilter.Normalize(p.TimeFilter, mode)
	suffix := ""
	if filter != "" && filter != timefilter.None {
		suffix = "_" + filter
	}

	if family == FamilyMetric {
		aggDays := p.AggDays
		if aggDays == "" {
			aggDays = "7"
		}
		truth, category := SplitProduct(p.Product)
		return strings.Join([]string{
			"metric",
			aggDays,
			dates.End,
			p.Forecast,
			p.Grid,
			"lsm",
			p.Metric,
			"global",
			"None",
			"True",
			dates.Start,
			p.TimeGrouping,
			truth,
			category,
		}, "_") + suffix
	}

	return strings.Join([]string{
		"grouped_metric",
		dates.End,
		p.Forecast,
		p.Grid,
		p.Lead,
		"lsm",
		p.Metric,
		p.Region,
		"True",
		dates.Start,
		p.TimeGrouping,
		p.Product,
	}, "_") + suffix
}
