// Package config defines the configuration of the evalmap service. It is
// loaded once at startup from the environment (with an optional .env file)
// and is immutable afterwards. A missing or malformed value fails startup.
package config

import (
	"time"

	"evalmap/internal/types"
)

// SecretString is an alias for types.SecretString so secrets stay redacted in
// logs and config dumps.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server     ServerConfig
	TileServer TileServerConfig
	Basemap    BasemapConfig
	Panel      PanelConfig
	Cache      CacheConfig

	// Injected via ldflags, not the environment.
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	// Lambda switches the entrypoint to the API Gateway adapter. It is also
	// forced on when the Lambda runtime is detected.
	Lambda bool `envconfig:"LAMBDA_MODE" default:"false"`
}

// TileServerConfig points at the terracotta tile server.
type TileServerConfig struct {
	BaseURL   string        `envconfig:"TILE_SERVER_BASE_URL" default:"https://terracotta.shared.rhizaresearch.org" validate:"required,url"`
	Timeout   time.Duration `envconfig:"TILE_SERVER_TIMEOUT" default:"10s" validate:"gt=0"`
	UserAgent string        `envconfig:"HTTP_USER_AGENT" default:"evalmap/1.0"`
}

// BasemapConfig configures the basemap style provider.
type BasemapConfig struct {
	Key              SecretString `envconfig:"PROTOMAPS_KEY"`
	StyleURLTemplate string       `envconfig:"BASE_STYLE_URL_TEMPLATE" default:"https://api.protomaps.com/styles/v5/{flavor}/{lang}.json?key={key}" validate:"required"`
	Flavor           string       `envconfig:"BASEMAP_FLAVOR" default:"black" validate:"required"`
	Lang             string       `envconfig:"BASEMAP_LANG" default:"en" validate:"required"`
	SpriteBase       string       `envconfig:"BASEMAP_SPRITE_BASE" default:"https://protomaps.github.io/basemaps-assets/sprites/v4" validate:"required,url"`
	SourceLayers     []string     `envconfig:"BASEMAP_SOURCE_LAYERS" default:"boundaries,earth,landcover,places,water"`
}

// PanelConfig tunes the panel runtimes.
type PanelConfig struct {
	PollInterval     time.Duration `envconfig:"PANEL_POLL_INTERVAL" default:"300ms" validate:"gt=0"`
	SettleWindow     time.Duration `envconfig:"PANEL_SETTLE_WINDOW" default:"700ms" validate:"gte=0"`
	MaxPanels        int           `envconfig:"PANEL_MAX" default:"200" validate:"gt=0"`
	FetchConcurrency int           `envconfig:"PANEL_FETCH_CONCURRENCY" default:"4" validate:"gt=0,lte=64"`
}

// CacheConfig configures the metadata cache. An empty RedisURL selects the
// in-process cache.
type CacheConfig struct {
	RedisURL    SecretString  `envconfig:"REDIS_URL"`
	MetadataTTL time.Duration `envconfig:"METADATA_CACHE_TTL" default:"1h" validate:"gt=0"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a *_FILE secret pointer could not be read.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed into its
	// field type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
