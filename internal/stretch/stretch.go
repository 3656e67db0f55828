// Package stretch derives the color stretch applied to a metric raster: the
// colormap and value range the tile server renders with. A stretch travels
// as a token of the form "colormap=<name>&stretch_range=[<min>,<max>]".
package stretch

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DefaultColormap is assumed when a token names no colormap.
const DefaultColormap = "reds"

// Stretch is a colormap plus the value range it spans. Whether a stretch is
// present at all is reported separately by the functions returning one.
type Stretch struct {
	Colormap string  `json:"colormap"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// Encode renders s as a stretch token. Numbers use the shortest decimal form
// that round-trips, and negative zero prints as "0".
func (s Stretch) Encode() string {
	return "colormap=" + s.Colormap + "&stretch_range=[" + FormatNumber(s.Min) + "," + FormatNumber(s.Max) + "]"
}

// Range returns the "[min,max]" part of the token.
func (s Stretch) Range() string {
	return "[" + FormatNumber(s.Min) + "," + FormatNumber(s.Max) + "]"
}

var (
	colormapPattern = regexp.MustCompile(`colormap=([^&]+)`)
	rangePattern    = regexp.MustCompile(`stretch_range=\[([^\]]+)\]`)
)

// Decode parses a stretch token, percent-encoded or not. Missing pieces take
// DefaultColormap and the range [0,1]. ok is false for the empty token.
func Decode(token string) (Stretch, bool) {
	if token == "" {
		return Stretch{}, false
	}
	decoded := token
	if unescaped, err := url.PathUnescape(token); err == nil {
		decoded = unescaped
	}

	s := Stretch{Colormap: DefaultColormap, Min: 0, Max: 1}
	if m := colormapPattern.FindStringSubmatch(decoded); m != nil {
		s.Colormap = m[1]
	}
	if m := rangePattern.FindStringSubmatch(decoded); m != nil {
		parts := strings.Split(m[1], ",")
		if len(parts) >= 2 {
			s.Min = parseTokenNumber(parts[0])
			s.Max = parseTokenNumber(parts[1])
		}
	}
	return s, true
}

// parseTokenNumber reads one range bound. Blank reads as 0 and garbage as NaN.
func parseTokenNumber(raw string) float64 {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return n
}

// FormatNumber renders v the way the tile server's clients expect range
// bounds: shortest round-trip decimal, exponent form outside [1e-6, 1e21).
func FormatNumber(v float64) string {
	switch {
	case v == 0:
		return "0"
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	abs := math.Abs(v)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
