package colormap

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

const noStretchHTML = "<span style='font-size:14px;'>No stretch</span>"

// LegendHTML renders the colorbar fragment for a stretch over name. When ok
// is false there is no stretch to show. Bounds print with one decimal and
// units, when non-empty, are appended to both ends.
func LegendHTML(name string, min, max float64, ok bool, units string) string {
	if !ok {
		return noStretchHTML
	}
	suffix := ""
	if units != "" {
		suffix = " " + html.EscapeString(units)
	}
	gradient := "linear-gradient(90deg, " + strings.Join(Stops(name), ", ") + ")"

	var b strings.Builder
	b.WriteString(`<div style="display:flex; align-items:center; height:100%; gap:8px; font-variant-numeric:tabular-nums; font-size:14px;">`)
	fmt.Fprintf(&b, `<span>%s%s</span>`, strconv.FormatFloat(min, 'f', 1, 64), suffix)
	fmt.Fprintf(&b, `<div style="width:120px; height:12px; border-radius:999px; background:%s;"></div>`, gradient)
	fmt.Fprintf(&b, `<span>%s%s</span>`, strconv.FormatFloat(max, 'f', 1, 64), suffix)
	b.WriteString(`</div>`)
	return b.String()
}
