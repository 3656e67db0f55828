// Package colormap resolves scalar values to display colors over the named
// palettes shared by the map tiles, legends, and results tables.
package colormap

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

// Neutral is returned for values that cannot be placed on a palette.
const Neutral = "rgba(255, 255, 255, 0.5)"

// FallbackName is the palette legends use when the requested one is unknown.
const FallbackName = "reds"

const reversedSuffix = "_r"

// ErrUnknownColormap is returned for names outside the supported set.
var ErrUnknownColormap = errors.New("colormap: unknown colormap")

//go:embed palettes.yaml
var palettesYAML []byte

type rgb struct {
	r, g, b uint8
}

type palette struct {
	hex    []string
	colors []rgb
}

var (
	palettes map[string]palette
	loadOnce sync.Once
	loadErr  error
)

type palettesFile struct {
	Palettes map[string][]string `yaml:"palettes"`
}

func load() error {
	loadOnce.Do(func() {
		var file palettesFile
		if err := yaml.Unmarshal(palettesYAML, &file); err != nil {
			loadErr = fmt.Errorf("colormap: parse palettes: %w", err)
			return
		}
		parsed := make(map[string]palette, len(file.Palettes))
		for name, anchors := range file.Palettes {
			if len(anchors) < 2 {
				loadErr = fmt.Errorf("colormap: palette %q needs at least two anchors", name)
				return
			}
			p := palette{hex: anchors, colors: make([]rgb, len(anchors))}
			for i, h := range anchors {
				c, err := colorful.Hex(h)
				if err != nil {
					loadErr = fmt.Errorf("colormap: palette %q anchor %d: %w", name, i, err)
					return
				}
				r, g, b := c.RGB255()
				p.colors[i] = rgb{r, g, b}
			}
			parsed[strings.ToLower(name)] = p
		}
		palettes = parsed
	})
	return loadErr
}

// lookup returns the palette for name, reversed when name ends in "_r".
func lookup(name string) (palette, error) {
	if err := load(); err != nil {
		return palette{}, err
	}
	key := strings.ToLower(strings.TrimSpace(name))
	reversed := strings.HasSuffix(key, reversedSuffix)
	key = strings.TrimSuffix(key, reversedSuffix)

	p, ok := palettes[key]
	if !ok {
		return palette{}, fmt.Errorf("%w: %q", ErrUnknownColormap, name)
	}
	if !reversed {
		return p, nil
	}
	out := palette{hex: make([]string, len(p.hex)), colors: make([]rgb, len(p.colors))}
	for i := range p.hex {
		out.hex[len(p.hex)-1-i] = p.hex[i]
		out.colors[len(p.colors)-1-i] = p.colors[i]
	}
	return out, nil
}

// Names returns the supported base palette names, sorted. Each also resolves
// with a "_r" suffix.
func Names() []string {
	if err := load(); err != nil {
		return nil
	}
	names := make([]string, 0, len(palettes))
	for name := range palettes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether name (with or without "_r") resolves.
func Known(name string) bool {
	_, err := lookup(name)
	return err == nil
}

// Stops returns the hex anchors of name for legend gradients. Unknown names
// fall back to FallbackName.
func Stops(name string) []string {
	p, err := lookup(name)
	if err != nil {
		p, err = lookup(FallbackName)
		if err != nil {
			return nil
		}
	}
	out := make([]string, len(p.hex))
	copy(out, p.hex)
	return out
}

// Resolve maps value on the linear span [min, max] to a color of name. A
// degenerate span yields Neutral.
func Resolve(value, min, max float64, name string) (string, error) {
	p, err := lookup(name)
	if err != nil {
		return "", err
	}
	fraction := (value - min) / (max - min)
	if math.IsInf(fraction, 0) {
		return Neutral, nil
	}
	return p.at(fraction), nil
}

// ResolveSigned maps value to a color of name with zero pinned to the
// palette midpoint: positive values scale against max, negative values
// against -min.
func ResolveSigned(value, min, max float64, name string) (string, error) {
	p, err := lookup(name)
	if err != nil {
		return "", err
	}
	var x float64
	switch {
	case value > 0:
		x = 0.5 + value/max*0.5
	case value < 0:
		x = 0.5 + value/(-min)*0.5
	default:
		x = 0.5
	}
	return p.at(x), nil
}

// at interpolates the palette at fraction x in [0, 1].
func (p palette) at(x float64) string {
	if math.IsNaN(x) {
		return Neutral
	}
	x = math.Min(1, math.Max(0, x))

	scaled := x * float64(len(p.colors)-1)
	lo := int(math.Floor(scaled))
	hi := int(math.Ceil(scaled))
	if lo == hi {
		return p.colors[lo].rgba()
	}

	t := scaled - float64(lo)
	a, b := p.colors[lo], p.colors[hi]
	return rgb{
		r: mix(a.r, b.r, t),
		g: mix(a.g, b.g, t),
		b: mix(a.b, b.b, t),
	}.rgba()
}

func mix(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}

func (c rgb) rgba() string {
	return fmt.Sprintf("rgba(%d, %d, %d, 0.5)", c.r, c.g, c.b)
}
