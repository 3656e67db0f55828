package stretch

import (
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ParseBound reads a user-supplied vmin/vmax with the dashboard's numeric
// conversion rules: surrounding whitespace is ignored, a blank value reads as
// 0, and 0x/0o/0b integer literals are accepted. Only the empty string is
// "not provided"; non-numeric and non-finite inputs are rejected.
func ParseBound(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v := strings.TrimFunc(raw, isNumberSpace)
	if v == "" {
		return 0, true
	}
	if n, ok := parseRadixLiteral(v); ok {
		return n, !math.IsInf(n, 0)
	}
	if !decimalLiteral.MatchString(v) {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

var decimalLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

var radixes = map[string]int{"0x": 16, "0X": 16, "0o": 8, "0O": 8, "0b": 2, "0B": 2}

// parseRadixLiteral reads an unsigned 0x/0o/0b integer of any length.
func parseRadixLiteral(v string) (float64, bool) {
	if len(v) < 3 {
		return 0, false
	}
	base, ok := radixes[v[:2]]
	if !ok {
		return 0, false
	}
	i, ok := new(big.Int).SetString(v[2:], base)
	if !ok || i.Sign() < 0 || strings.ContainsAny(v[2:], "+-_") {
		return 0, false
	}
	f, _ := new(big.Float).SetInt(i).Float64()
	return f, true
}

// isNumberSpace matches the whitespace and line terminators stripped around
// a numeric string. U+0085 is not one of them; U+FEFF is.
func isNumberSpace(r rune) bool {
	if r == '\uFEFF' {
		return true
	}
	return r != '\u0085' && unicode.IsSpace(r)
}

// ApplyOverrides replaces the bounds of base with the supplied vmin and vmax.
// With no base, a stretch is built from the overrides alone, an absent bound
// reading as 0, so the metric still gets its colormap. The colormap of an
// existing base is never changed.
func ApplyOverrides(base Stretch, hasBase bool, vmin, vmax, metric, product string) (Stretch, bool) {
	lo, hasMin := ParseBound(vmin)
	hi, hasMax := ParseBound(vmax)
	if !hasMin && !hasMax {
		return base, hasBase
	}
	if !hasBase {
		return Build(lo, hi, metric, product), true
	}
	if hasMin {
		base.Min = lo
	}
	if hasMax {
		base.Max = hi
	}
	return base, true
}

// ApplyOverridesToken is ApplyOverrides over an encoded token. The empty
// token is the absent stretch; a token without overrides is returned as is.
func ApplyOverridesToken(token, vmin, vmax, metric, product string) string {
	_, hasMin := ParseBound(vmin)
	_, hasMax := ParseBound(vmax)
	if !hasMin && !hasMax {
		return token
	}
	base, hasBase := Decode(token)
	s, _ := ApplyOverrides(base, hasBase, vmin, vmax, metric, product)
	return s.Encode()
}
