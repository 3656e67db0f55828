package scores

import (
	"math"
	"strings"
)

var maximizedPrefixes = []string{"heidke", "pod", "ets"}

// Maximized reports whether a skill score over metric is computed against
// the metric's perfect value of 1 rather than 0.
func Maximized(metric string) bool {
	m := strings.ToLower(metric)
	for _, prefix := range maximizedPrefixes {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// SkillScore compares value to baseline: 1 - value/baseline, or
// 1 - (1-value)/(1-baseline) when maximize is set. ok is false when the
// result is not finite, which happens for a baseline of 0 (or 1 when
// maximizing). The raw result is returned either way.
func SkillScore(value, baseline float64, maximize bool) (float64, bool) {
	var skill float64
	if maximize {
		skill = 1 - (1-value)/(1-baseline)
	} else {
		skill = 1 - value/baseline
	}
	return skill, !math.IsNaN(skill) && !math.IsInf(skill, 0)
}
