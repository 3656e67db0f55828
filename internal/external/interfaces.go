package external

import (
	"context"
	"time"
)

// MetadataCache stores raw metadata bodies keyed by dataset id. A miss is
// (nil, false, nil); errors are reported but never fail a fetch.
type MetadataCache interface {
	Get(ctx context.Context, datasetID string) ([]byte, bool, error)
	Set(ctx context.Context, datasetID string, body []byte) error
}

// FetchObserver receives metadata fetch outcomes for metrics.
type FetchObserver interface {
	ObserveMetadataFetch(outcome string, elapsed time.Duration)
	ObserveCacheLookup(hit bool)
}

// Metadata fetch outcomes reported to FetchObserver.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
	OutcomeCached   = "cached"
)

// MetadataFetcher is the part of TileClient the panel runtime depends on.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, datasetID string) (*Metadata, error)
	TileURL(datasetID string, token string) string
}

// StyleFetcher is the part of BasemapClient the handlers depend on.
type StyleFetcher interface {
	FetchStyle(ctx context.Context, flavor string) (map[string]any, error)
}

type noopObserver struct{}

func (noopObserver) ObserveMetadataFetch(string, time.Duration) {}
func (noopObserver) ObserveCacheLookup(bool)                     {}
