package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"evalmap/internal/types"
)

// DefaultTileServerURL is the shared terracotta deployment.
const DefaultTileServerURL = "https://terracotta.shared.rhizaresearch.org"

// maxMetadataBytes bounds a metadata body. Percentile metadata is a few KB.
const maxMetadataBytes = 4 << 20

// Metadata is the tile server's description of one dataset raster.
type Metadata struct {
	Keys            map[string]string `json:"keys,omitempty"`
	Bounds          []float64         `json:"bounds,omitempty"`
	Range           []float64         `json:"range,omitempty"`
	Mean            *float64          `json:"mean,omitempty"`
	Stdev           *float64          `json:"stdev,omitempty"`
	ValidPercentage *float64          `json:"valid_percentage,omitempty"`
	Percentiles     []float64         `json:"percentiles"`
}

// FetchError reports a metadata request the tile server answered with a
// non-2xx status, or that failed after retries (Status is then the last
// upstream status, or 0 when none was received).
type FetchError struct {
	DatasetID string
	Status    int
	Err       error
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("metadata request failed for %s: %v", e.DatasetID, e.Err)
	}
	return fmt.Sprintf("metadata request failed (%d)", e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a FetchError for a missing dataset.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status == http.StatusNotFound
}

// TileClientConfig holds the settings for a TileClient.
type TileClientConfig struct {
	BaseURL  string // defaults to DefaultTileServerURL
	Cache    MetadataCache
	Observer FetchObserver
	Logger   *slog.Logger
}

// TileClient reads dataset metadata from the tile server and builds tile URLs.
type TileClient struct {
	base     *BaseClient
	baseURL  string
	cache    MetadataCache
	observer FetchObserver
	logger   *slog.Logger
}

// NewTileClient creates a TileClient on top of base.
func NewTileClient(base *BaseClient, cfg TileClientConfig) *TileClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultTileServerURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &TileClient{
		base:     base,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		cache:    cfg.Cache,
		observer: observer,
		logger:   logger,
	}
}

// MetadataURL returns the metadata endpoint for datasetID.
func (c *TileClient) MetadataURL(datasetID string) string {
	return c.baseURL + "/metadata/" + EncodeURIComponent(datasetID)
}

// TileURL returns the XYZ tile template for datasetID. A non-empty stretch
// token is appended as the query with its separators left literal, so a
// query decoder reads back exactly the token.
func (c *TileClient) TileURL(datasetID string, token string) string {
	u := c.baseURL + "/singleband/" + EncodeURIComponent(datasetID) + "/{z}/{x}/{y}.png"
	if token == "" {
		return u
	}
	query := EncodeURIComponent(token)
	query = strings.ReplaceAll(query, "%26", "&")
	query = strings.ReplaceAll(query, "%3D", "=")
	return u + "?" + query
}

// FetchMetadata returns the metadata of datasetID, from the cache when it
// holds the id. A tile server 404 yields a FetchError with IsNotFound true.
func (c *TileClient) FetchMetadata(ctx context.Context, datasetID string) (*Metadata, error) {
	logger := c.logger.With("dataset_id", datasetID)

	if c.cache != nil {
		body, hit, err := c.cache.Get(ctx, datasetID)
		if err != nil {
			logger.WarnContext(ctx, "metadata cache read failed", "error", err)
		}
		c.observer.ObserveCacheLookup(hit)
		if hit {
			var md Metadata
			if err := json.Unmarshal(body, &md); err == nil {
				c.observer.ObserveMetadataFetch(OutcomeCached, 0)
				return &md, nil
			}
			logger.WarnContext(ctx, "discarding undecodable cached metadata")
		}
	}

	start := time.Now()
	body, err := c.get(ctx, datasetID)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			c.observer.ObserveMetadataFetch(OutcomeCanceled, elapsed)
		case IsNotFound(err):
			c.observer.ObserveMetadataFetch(OutcomeNotFound, elapsed)
		default:
			c.observer.ObserveMetadataFetch(OutcomeError, elapsed)
		}
		return nil, err
	}

	var md Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		c.observer.ObserveMetadataFetch(OutcomeError, elapsed)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeInternalMetadata,
			"tile server returned undecodable metadata",
			err,
			map[string]any{"dataset_id": datasetID},
		)
	}
	c.observer.ObserveMetadataFetch(OutcomeOK, elapsed)

	if c.cache != nil {
		if err := c.cache.Set(ctx, datasetID, body); err != nil {
			logger.WarnContext(ctx, "metadata cache write failed", "error", err)
		}
	}
	return &md, nil
}

func (c *TileClient) get(ctx context.Context, datasetID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.MetadataURL(datasetID), nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create metadata request",
			err,
		)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &FetchError{DatasetID: datasetID, Status: statusOf(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			DatasetID: datasetID,
			Status:    resp.StatusCode,
			Err:       fmt.Errorf("tile server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, &FetchError{DatasetID: datasetID, Err: err}
	}
	return body, nil
}

// Ping checks the tile server answers its key listing.
func (c *TileClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/keys", nil)
	if err != nil {
		return err
	}
	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tile server returned %d", resp.StatusCode)
	}
	return nil
}

// EncodeURIComponent percent-encodes every byte outside A-Z a-z 0-9 and
// -_.!~*'(), using uppercase hex. This is the escaping the tile server's
// dataset routes are written against; net/url escapes a different set.
func EncodeURIComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	const hex = "0123456789ABCDEF"
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if isUnreserved(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[ch>>4])
		b.WriteByte(hex[ch&0x0f])
	}
	return b.String()
}

func isUnreserved(ch byte) bool {
	switch {
	case 'A' <= ch && ch <= 'Z', 'a' <= ch && ch <= 'z', '0' <= ch && ch <= '9':
		return true
	}
	switch ch {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

var _ MetadataFetcher = (*TileClient)(nil)
