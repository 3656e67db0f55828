// Package cache keeps tile server metadata bodies keyed by dataset id, so a
// panel flipping between two variable sets does not refetch percentiles it
// has already seen.
package cache

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// codec compresses cached bodies. Percentile metadata is mostly digits and
// compresses several times over.
type codec struct {
	encoder     *zstd.Encoder
	decoderPool sync.Pool
}

func newCodec() *codec {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		// NewWriter only fails on invalid options.
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	return &codec{
		encoder: enc,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

func (c *codec) compress(body []byte) []byte {
	return c.encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
}

func (c *codec) decompress(data []byte) ([]byte, error) {
	d := c.decoderPool.Get().(*zstd.Decoder)
	defer c.decoderPool.Put(d)

	out, err := d.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}
