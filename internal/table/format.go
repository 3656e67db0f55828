package table

import (
	"math"
	"math/big"
	"strings"
)

// formatValue renders a cell value with two decimals. Zero and missing
// values render as "-".
func formatValue(v *float64) string {
	if v == nil || *v == 0 || math.IsNaN(*v) {
		return "-"
	}
	return toFixed2(*v)
}

// toFixed2 rounds to two decimals with ties away from zero on the exact
// binary value, matching how the dashboard prints numbers.
func toFixed2(v float64) string {
	if math.IsInf(v, 0) {
		if v > 0 {
			return "Infinity"
		}
		return "-Infinity"
	}
	r := new(big.Rat).SetFloat64(math.Abs(v))
	r.Mul(r, big.NewRat(100, 1))
	r.Add(r, big.NewRat(1, 2))
	n := new(big.Int).Quo(r.Num(), r.Denom())

	digits := n.String()
	for len(digits) < 3 {
		digits = "0" + digits
	}
	out := digits[:len(digits)-2] + "." + digits[len(digits)-2:]
	if v < 0 {
		out = "-" + out
	}
	return out
}

var displayNames = map[string]string{
	"Ecmwf Ifs Er":           "ECMWF IFS ER",
	"Ecmwf Ifs Er Debiased":  "ECMWF IFS ER Debiased",
	"Salient":                "AI-Enhanced NWP",
	"Fuxi":                   "FuXi S2S",
	"Climatology 2015":       "Climatology 1985-2014",
	"Climatology Trend 2015": "Climatology 1985-2014 w/Trend",
}

// DisplayName turns a forecast key like "ecmwf_ifs_er" into its table label.
func DisplayName(forecast string) string {
	words := strings.Split(strings.ReplaceAll(forecast, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	title := strings.Join(words, " ")
	if renamed, ok := displayNames[title]; ok {
		return renamed
	}
	return title
}
