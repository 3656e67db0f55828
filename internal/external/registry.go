package external

import (
	"log/slog"
	"net/http"
	"time"

	"evalmap/internal/config"
)

// basemapTimeout bounds a style download. Styles are larger than metadata
// but fetched once per flavor.
const basemapTimeout = 15 * time.Second

// ClientRegistry holds the outbound clients the rest of the application uses.
type ClientRegistry struct {
	Tiles   *TileClient
	Basemap *BasemapClient
}

// RegistryOption is a functional option for NewClientRegistry, for
// dependencies that are not available from config alone.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	cache      MetadataCache
	observer   FetchObserver
	baseOpts   []BaseClientOption
	httpClient *http.Client
}

// WithMetadataCache sets the cache consulted before every metadata request.
func WithMetadataCache(cache MetadataCache) RegistryOption {
	return func(rc *registryConfig) { rc.cache = cache }
}

// WithFetchObserver sets the sink for metadata fetch metrics.
func WithFetchObserver(observer FetchObserver) RegistryOption {
	return func(rc *registryConfig) { rc.observer = observer }
}

// WithBaseClientOptions forwards options to every BaseClient built.
func WithBaseClientOptions(opts ...BaseClientOption) RegistryOption {
	return func(rc *registryConfig) { rc.baseOpts = append(rc.baseOpts, opts...) }
}

// WithHTTPClient replaces the per-provider HTTP clients, e.g. with an
// httptest server's client.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(rc *registryConfig) { rc.httpClient = c }
}

// NewClientRegistry builds the tile server and basemap clients. Each gets its
// own HTTP client timeout and circuit breaker.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	httpClient := func(timeout time.Duration) *http.Client {
		if rc.httpClient != nil {
			return rc.httpClient
		}
		return &http.Client{Timeout: timeout}
	}

	tilesLogger := logger.With("client", "terracotta")
	tilesBase := NewBaseClient(
		httpClient(cfg.TileServer.Timeout),
		"terracotta",
		DefaultRetryPolicy(),
		cfg.TileServer.UserAgent,
		append([]BaseClientOption{WithLogger(tilesLogger)}, rc.baseOpts...)...,
	)

	basemapLogger := logger.With("client", "protomaps")
	basemapBase := NewBaseClient(
		httpClient(basemapTimeout),
		"protomaps",
		DefaultRetryPolicy(),
		cfg.TileServer.UserAgent,
		append([]BaseClientOption{WithLogger(basemapLogger)}, rc.baseOpts...)...,
	)

	if !cfg.Basemap.Key.IsSet() {
		logger.Warn("PROTOMAPS_KEY is not set; basemap style requests will be rejected upstream")
	}

	return &ClientRegistry{
		Tiles: NewTileClient(tilesBase, TileClientConfig{
			BaseURL:  cfg.TileServer.BaseURL,
			Cache:    rc.cache,
			Observer: rc.observer,
			Logger:   tilesLogger,
		}),
		Basemap: NewBasemapClient(basemapBase, BasemapConfig{
			StyleURLTemplate: cfg.Basemap.StyleURLTemplate,
			Key:              cfg.Basemap.Key,
			Lang:             cfg.Basemap.Lang,
			SpriteBase:       cfg.Basemap.SpriteBase,
			SourceLayers:     cfg.Basemap.SourceLayers,
			Logger:           basemapLogger,
		}),
	}
}
