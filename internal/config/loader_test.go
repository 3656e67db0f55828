package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDeps uses the real environment but never reads a .env file.
func testDeps() loaderDeps {
	deps := defaultDeps()
	deps.loadDot = func() error { return nil }
	return deps
}

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("LOG_LEVEL", "debug")
	for _, key := range []string{
		"PORT", "REQUEST_TIMEOUT", "CORS_ALLOWED_ORIGINS", "LAMBDA_MODE",
		"TILE_SERVER_BASE_URL", "TILE_SERVER_TIMEOUT", "HTTP_USER_AGENT",
		"PROTOMAPS_KEY", "PROTOMAPS_KEY_FILE", "BASE_STYLE_URL_TEMPLATE",
		"BASEMAP_FLAVOR", "BASEMAP_LANG", "BASEMAP_SPRITE_BASE", "BASEMAP_SOURCE_LAYERS",
		"PANEL_POLL_INTERVAL", "PANEL_SETTLE_WINDOW", "PANEL_MAX", "PANEL_FETCH_CONCURRENCY",
		"REDIS_URL", "REDIS_URL_FILE", "METADATA_CACHE_TTL",
	} {
		unsetEnv(t, key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := loadConfigWithDeps(nil, testDeps())
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "https://terracotta.shared.rhizaresearch.org", cfg.TileServer.BaseURL)
	assert.Equal(t, 300*time.Millisecond, cfg.Panel.PollInterval)
	assert.Equal(t, 700*time.Millisecond, cfg.Panel.SettleWindow)
	assert.Equal(t, 4, cfg.Panel.FetchConcurrency)
	assert.Equal(t, []string{"boundaries", "earth", "landcover", "places", "water"}, cfg.Basemap.SourceLayers)
	assert.Equal(t, "black", cfg.Basemap.Flavor)
	assert.False(t, cfg.Cache.RedisURL.IsSet())
	assert.Equal(t, time.Hour, cfg.Cache.MetadataTTL)
	assert.Equal(t, "dev", cfg.Build.Version)
	assert.Equal(t, time.UTC, time.Local)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("PANEL_POLL_INTERVAL", "1s")
	t.Setenv("PROTOMAPS_KEY", "pk-123")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := loadConfigWithDeps(nil, testDeps())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Panel.PollInterval)
	assert.Equal(t, "pk-123", cfg.Basemap.Key.Unmask())
	assert.Equal(t, "***REDACTED***", cfg.Basemap.Key.String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
}

func TestLoadConfig_ValidationError(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "moon")

	_, err := loadConfigWithDeps(nil, testDeps())
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrValidation, cfgErr.Type)
}

func TestLoadConfig_ParsingError(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PANEL_POLL_INTERVAL", "soon")

	_, err := loadConfigWithDeps(nil, testDeps())
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrParsing, cfgErr.Type)
}

func TestLoadConfig_SecretFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "protomaps_key")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	t.Setenv("PROTOMAPS_KEY_FILE", path)

	cfg, err := loadConfigWithDeps(nil, testDeps())
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Basemap.Key.Unmask())
}

func TestLoadConfig_DirectValueBeatsSecretFile(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PROTOMAPS_KEY", "direct")
	t.Setenv("PROTOMAPS_KEY_FILE", filepath.Join(t.TempDir(), "absent"))

	cfg, err := loadConfigWithDeps(nil, testDeps())
	require.NoError(t, err)
	assert.Equal(t, "direct", cfg.Basemap.Key.Unmask())
}

func TestLoadConfig_MissingSecretFile(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("REDIS_URL_FILE", filepath.Join(t.TempDir(), "absent"))

	_, err := loadConfigWithDeps(nil, testDeps())
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrMissingEnv, cfgErr.Type)
	assert.Contains(t, cfgErr.Message, "REDIS_URL")
}

type failingProvider struct{}

func (failingProvider) GetParametersBatch(context.Context, []string) (map[string]string, error) {
	return nil, errors.New("vault sealed")
}

func TestLoadConfig_ProviderError(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PROTOMAPS_KEY_FILE", "/run/secrets/protomaps_key")

	_, err := loadConfigWithDeps(failingProvider{}, testDeps())
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrSecretResolution, cfgErr.Type)
	assert.ErrorContains(t, err, "vault sealed")
}

func TestFileSecretProvider(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(present, []byte("value\r\n"), 0o600))

	got, err := NewFileSecretProvider().GetParametersBatch(context.Background(), []string{present, filepath.Join(dir, "missing")})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{present: "value"}, got)
}

func TestConfigError(t *testing.T) {
	inner := errors.New("boom")
	err := &ConfigError{Type: ErrParsing, Message: "bad", Err: inner}

	assert.Equal(t, "[PARSING_FAILED] bad: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "[VALIDATION_FAILED] bad", (&ConfigError{Type: ErrValidation, Message: "bad"}).Error())
}
