package zseek

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"github.com/zseek/zseek-go/env"
)

const (
	// DefaultMinFrameSize is the uncompressed size threshold at which the
	// writer closes the current frame.
	DefaultMinFrameSize = 512 << 10
	// DefaultFramesPerEntry is how many frames share one seek table entry.
	DefaultFramesPerEntry = 10

	zstdDefaultLevel = 3
	lz4DefaultLevel  = 0

	levelUnset = -1
)

type WOption func(*writerOptions) error

type writerOptions struct {
	logger *zap.Logger
	env    env.WriteFile

	codec          Codec
	level          int
	zstdWorkers    int
	minFrameSize   int
	framesPerEntry int
	checksums      bool

	zstdEOpts []zstd.EOption
	lz4Opts   []lz4.Option
}

func (o *writerOptions) setDefault() {
	*o = writerOptions{
		logger:         zap.NewNop(),
		codec:          Zstd,
		level:          levelUnset,
		minFrameSize:   DefaultMinFrameSize,
		framesPerEntry: DefaultFramesPerEntry,
	}
}

// levelOr resolves the configured compression level against the codec's
// default.
func (o *writerOptions) levelOr(def int) int {
	if o.level == levelUnset {
		return def
	}
	return o.level
}

// WithCodec selects the back-end compression format. The default is Zstd.
func WithCodec(c Codec) WOption {
	return func(o *writerOptions) error {
		if c != Zstd && c != LZ4 {
			return fmt.Errorf("unknown codec (%d)", c)
		}
		o.codec = c
		return nil
	}
}

// WithCompressionLevel sets the codec compression level. Zstandard levels
// follow the zstd CLI scale (default 3); LZ4 levels range 0 (fast) to 9.
func WithCompressionLevel(level int) WOption {
	return func(o *writerOptions) error { o.level = level; return nil }
}

// WithZSTDWorkers enables multi-threaded Zstandard compression with n worker
// threads. Values below 2 keep compression on the calling thread.
func WithZSTDWorkers(n int) WOption {
	return func(o *writerOptions) error {
		if n < 0 {
			return fmt.Errorf("negative worker count (%d)", n)
		}
		o.zstdWorkers = n
		return nil
	}
}

// WithMinFrameSize sets the minimum uncompressed frame size. A frame is
// closed once it has accumulated at least this many bytes.
func WithMinFrameSize(n int) WOption {
	return func(o *writerOptions) error {
		if n < 1 {
			return fmt.Errorf("min frame size must be positive (%d)", n)
		}
		o.minFrameSize = n
		return nil
	}
}

// WithFramesPerEntry sets how many frames are grouped under one seek table
// entry. The entry is the smallest unit of random access on the read side:
// larger groups shrink the seek table at the cost of read amplification.
func WithFramesPerEntry(n int) WOption {
	return func(o *writerOptions) error {
		if n < 1 {
			return fmt.Errorf("frames per entry must be positive (%d)", n)
		}
		o.framesPerEntry = n
		return nil
	}
}

// WithChecksums stores the lower 32 bits of the XXH64 digest of each entry's
// uncompressed data in the seek table.
func WithChecksums(enabled bool) WOption {
	return func(o *writerOptions) error { o.checksums = enabled; return nil }
}

func WithWLogger(l *zap.Logger) WOption {
	return func(o *writerOptions) error { o.logger = l; return nil }
}

// WithZSTDEOptions passes additional options through to the zstd encoder.
func WithZSTDEOptions(opts ...zstd.EOption) WOption {
	return func(o *writerOptions) error { o.zstdEOpts = opts; return nil }
}

// WithLZ4Options passes additional options through to the lz4 frame writer.
func WithLZ4Options(opts ...lz4.Option) WOption {
	return func(o *writerOptions) error { o.lz4Opts = opts; return nil }
}

// WithWEnvironment writes through a custom file implementation instead of the
// io.Writer given to NewWriter.
func WithWEnvironment(e env.WriteFile) WOption {
	return func(o *writerOptions) error { o.env = e; return nil }
}
