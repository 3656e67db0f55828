package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"evalmap/internal/types"
)

// Basemap defaults for the protomaps hosted styles.
const (
	DefaultStyleURLTemplate = "https://api.protomaps.com/styles/v5/{flavor}/{lang}.json?key={key}"
	DefaultFlavor           = "black"
	DefaultLang             = "en"
	DefaultSpriteBase       = "https://protomaps.github.io/basemaps-assets/sprites/v4"

	waterFillOpacity = 0.8
	maxStyleBytes    = 8 << 20
)

// DefaultSourceLayers are the vector source layers kept in a prepared style.
var DefaultSourceLayers = []string{"boundaries", "earth", "landcover", "places", "water"}

// BasemapConfig holds the settings for a BasemapClient.
type BasemapConfig struct {
	StyleURLTemplate string
	Key              types.SecretString
	Lang             string
	SpriteBase       string
	// SourceLayers restricts which source layers survive PrepareStyle. An
	// empty list keeps all of them.
	SourceLayers []string
	Logger       *slog.Logger
}

// BasemapClient fetches and prepares basemap style documents.
type BasemapClient struct {
	base    *BaseClient
	cfg     BasemapConfig
	allowed map[string]bool
	logger  *slog.Logger
}

// NewBasemapClient creates a BasemapClient on top of base.
func NewBasemapClient(base *BaseClient, cfg BasemapConfig) *BasemapClient {
	if cfg.StyleURLTemplate == "" {
		cfg.StyleURLTemplate = DefaultStyleURLTemplate
	}
	if cfg.Lang == "" {
		cfg.Lang = DefaultLang
	}
	if cfg.SpriteBase == "" {
		cfg.SpriteBase = DefaultSpriteBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(cfg.SourceLayers))
	for _, l := range cfg.SourceLayers {
		allowed[l] = true
	}
	return &BasemapClient{base: base, cfg: cfg, allowed: allowed, logger: logger}
}

// BuildStyleURL fills the style URL template for flavor.
func (c *BasemapClient) BuildStyleURL(flavor string) string {
	r := strings.NewReplacer(
		"{flavor}", flavor,
		"{lang}", c.cfg.Lang,
		"{key}", c.cfg.Key.Unmask(),
	)
	return r.Replace(c.cfg.StyleURLTemplate)
}

// FetchStyle downloads the style for flavor and returns it prepared.
func (c *BasemapClient) FetchStyle(ctx context.Context, flavor string) (map[string]any, error) {
	if flavor == "" {
		flavor = DefaultFlavor
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildStyleURL(flavor), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create style request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.ErrorContext(ctx, "basemap style request failed",
			"flavor", flavor,
			"status_code", resp.StatusCode,
		)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamBasemap,
			fmt.Sprintf("style request failed (%d)", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode, "flavor": flavor},
		)
	}

	var style map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStyleBytes)).Decode(&style); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamBasemap, "style response is not a JSON object", err)
	}
	return c.PrepareStyle(style, flavor), nil
}

// PrepareStyle drops layers whose source layer is not allowed, makes water
// fills translucent, and points the sprite at flavor. The input is not
// modified.
func (c *BasemapClient) PrepareStyle(style map[string]any, flavor string) map[string]any {
	out := make(map[string]any, len(style)+1)
	for k, v := range style {
		out[k] = v
	}

	rawLayers, _ := style["layers"].([]any)
	layers := make([]any, 0, len(rawLayers))
	for _, raw := range rawLayers {
		layer, ok := raw.(map[string]any)
		if !ok {
			layers = append(layers, raw)
			continue
		}
		sourceLayer, _ := layer["source-layer"].(string)
		if sourceLayer != "" && len(c.allowed) > 0 && !c.allowed[sourceLayer] {
			continue
		}
		if layer["type"] == "fill" && sourceLayer == "water" {
			layer = withFillOpacity(layer, waterFillOpacity)
		}
		layers = append(layers, layer)
	}

	out["layers"] = layers
	out["sprite"] = strings.TrimSuffix(c.cfg.SpriteBase, "/") + "/" + flavor
	return out
}

func withFillOpacity(layer map[string]any, opacity float64) map[string]any {
	copied := make(map[string]any, len(layer))
	for k, v := range layer {
		copied[k] = v
	}
	paint := map[string]any{}
	if existing, ok := layer["paint"].(map[string]any); ok {
		for k, v := range existing {
			paint[k] = v
		}
	}
	paint["fill-opacity"] = opacity
	copied["paint"] = paint
	return copied
}

var _ StyleFetcher = (*BasemapClient)(nil)
