// Package timefilter parses the month filters that dashboard variables carry
// (e.g. "M01,March,3") and renders them back either in the canonical form the
// tile server keys datasets by or as month names for display.
package timefilter

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OutputMode selects how Normalize re-encodes recognized month tokens.
type OutputMode string

const (
	// ModeMXX renders months as M01..M12.
	ModeMXX OutputMode = "MXX"
	// ModeNumber renders months as bare numerals 1..12.
	ModeNumber OutputMode = "NUMBER"
)

// None is the sentinel the dashboard uses for "no time filter".
const None = "None"

var (
	monthCodePattern   = regexp.MustCompile(`(?i)^M(0?[1-9]|1[0-2])$`)
	monthNumberPattern = regexp.MustCompile(`^(0?[1-9]|1[0-2])$`)
	monthNames         = buildMonthNames()
)

func buildMonthNames() map[string]int {
	names := make(map[string]int, 12)
	for m := time.January; m <= time.December; m++ {
		names[strings.ToLower(m.String())] = int(m)
	}
	return names
}

// ParseMonth parses a single token in M##, numeric, or English month-name form.
func ParseMonth(token string) (int, bool) {
	value := strings.TrimSpace(token)
	if value == "" {
		return 0, false
	}
	if m := monthCodePattern.FindStringSubmatch(value); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	if m := monthNumberPattern.FindStringSubmatch(value); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	n, ok := monthNames[strings.ToLower(value)]
	return n, ok
}

// FormatMonth renders a month number in the requested mode. Out-of-range
// numbers render as the empty string.
func FormatMonth(month int, mode OutputMode) string {
	if month < 1 || month > 12 {
		return ""
	}
	if mode == ModeNumber {
		return strconv.Itoa(month)
	}
	return "M" + leftPad(month)
}

func leftPad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// ParseMode maps a user-supplied mode string to an OutputMode. The empty
// string selects ModeMXX.
func ParseMode(raw string) (OutputMode, bool) {
	switch OutputMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", ModeMXX:
		return ModeMXX, true
	case ModeNumber:
		return ModeNumber, true
	}
	return "", false
}

// Normalize rewrites every recognized month token in a comma-separated filter
// to the given mode. Unrecognized tokens pass through trimmed; the empty
// filter and None are returned unchanged.
func Normalize(raw string, mode OutputMode) string {
	if raw == "" || raw == None {
		return raw
	}
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if month, ok := ParseMonth(trimmed); ok {
			parts[i] = FormatMonth(month, mode)
			continue
		}
		parts[i] = trimmed
	}
	return strings.Join(parts, ",")
}

// Humanize renders recognized month tokens as English month names joined with
// ", ". It is for display only; never feed its output back into a dataset id.
func Humanize(raw string) string {
	if raw == "" || raw == None {
		return raw
	}
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		if month, ok := ParseMonth(part); ok {
			parts[i] = time.Month(month).String()
			continue
		}
		parts[i] = strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
