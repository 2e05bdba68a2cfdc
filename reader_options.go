package zseek

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// DefaultCacheSize is the decompressed-granule cache capacity of a reader.
const DefaultCacheSize = 1

type ROption func(*readerOptions) error

type readerOptions struct {
	logger *zap.Logger

	cacheSize       int
	verifyChecksums bool

	zstdDOpts []zstd.DOption
}

func (o *readerOptions) setDefault() {
	*o = readerOptions{
		logger:    zap.NewNop(),
		cacheSize: DefaultCacheSize,
	}
}

func WithRLogger(l *zap.Logger) ROption {
	return func(o *readerOptions) error { o.logger = l; return nil }
}

// WithCacheSize sets how many decompressed granules the reader keeps. A size
// of 0 disables the cache: reads then stream-decompress from the granule
// start on every call.
func WithCacheSize(n int) ROption {
	return func(o *readerOptions) error {
		if n < 0 {
			return fmt.Errorf("negative cache size (%d)", n)
		}
		o.cacheSize = n
		return nil
	}
}

// WithVerifyChecksums verifies the seek table checksum of every granule the
// reader decompresses whole. It has no effect on streams written without
// checksums.
func WithVerifyChecksums(enabled bool) ROption {
	return func(o *readerOptions) error { o.verifyChecksums = enabled; return nil }
}

// WithZSTDDOptions passes additional options through to the zstd decoders.
func WithZSTDDOptions(opts ...zstd.DOption) ROption {
	return func(o *readerOptions) error { o.zstdDOpts = opts; return nil }
}
