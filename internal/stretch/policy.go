package stretch

import (
	"math"
	"strings"

	"evalmap/internal/scores"
)

// Bounds are the 5th and 95th percentiles of a metric raster. P95 >= P5 is
// not guaranteed.
type Bounds struct {
	P5  float64 `json:"p5"`
	P95 float64 `json:"p95"`
}

// minPercentiles is how many percentile entries metadata needs to carry
// both the 5th and the 95th.
const minPercentiles = 95

// ExtractBounds reads the 5th and 95th percentiles, reporting false when the
// list is too short to hold them.
func ExtractBounds(percentiles []float64) (Bounds, bool) {
	if len(percentiles) < minPercentiles {
		return Bounds{}, false
	}
	return Bounds{P5: percentiles[4], P95: percentiles[94]}, true
}

// Build chooses the colormap and range for metric given data-driven bounds.
// Fixed-range metrics ignore the bounds they do not need.
func Build(p5, p95 float64, metric, product string) Stretch {
	m := strings.ToLower(metric)
	switch {
	case m == "bias":
		absMax := math.Max(math.Abs(p5), math.Abs(p95))
		colormap := "brbg"
		if scores.IsTemperature(product) {
			colormap = "rdbu_r"
		}
		return Stretch{Colormap: colormap, Min: -absMax, Max: absMax}
	case m == "acc" || m == "pearson":
		return Stretch{Colormap: "rdbu", Min: -1, Max: 1}
	case m == "seeps":
		return Stretch{Colormap: "reds", Min: 0, Max: 2}
	case m == "smape":
		return Stretch{Colormap: "reds", Min: 0, Max: 1}
	case strings.HasPrefix(m, "heidke-"):
		return Stretch{Colormap: "rdbu", Min: p5, Max: 1}
	case strings.HasPrefix(m, "pod-"):
		return Stretch{Colormap: "rdbu", Min: 0, Max: 1}
	case strings.HasPrefix(m, "csi-"):
		return Stretch{Colormap: "rdylgn", Min: 0, Max: 1}
	case strings.HasPrefix(m, "far-"):
		return Stretch{Colormap: "reds", Min: 0, Max: 1}
	case strings.HasPrefix(m, "ets-"):
		return Stretch{Colormap: "rdylgn", Min: -1.0 / 3, Max: 1}
	default:
		return Stretch{Colormap: "reds", Min: p5, Max: p95}
	}
}

// FromMetadata builds the stretch for one raster's percentiles. ok is false
// when the percentiles are insufficient, meaning no stretch is available.
func FromMetadata(percentiles []float64, metric, product string) (Stretch, bool) {
	b, ok := ExtractBounds(percentiles)
	if !ok {
		return Stretch{}, false
	}
	return Build(b.P5, b.P95, metric, product), true
}

// BuildShared builds one stretch spanning every bounds pair: the smallest P5
// and the largest P95. ok is false for an empty list.
func BuildShared(bounds []Bounds, metric, product string) (Stretch, bool) {
	if len(bounds) == 0 {
		return Stretch{}, false
	}
	lo, hi := bounds[0].P5, bounds[0].P95
	for _, b := range bounds[1:] {
		lo = math.Min(lo, b.P5)
		hi = math.Max(hi, b.P95)
	}
	return Build(lo, hi, metric, product), true
}
