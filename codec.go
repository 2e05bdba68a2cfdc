package zseek

import (
	"context"

	"github.com/pierrec/lz4/v4"
)

// Codec identifies the back-end compression format of a stream.
type Codec int

const (
	// Zstd is the Zstandard frame format.
	Zstd Codec = iota
	// LZ4 is the LZ4 frame format.
	LZ4
)

func (c Codec) String() string {
	switch c {
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// codecBackend drives the back-end compressor for the writer. write stages or
// dispatches uncompressed bytes belonging to the current frame; endFrame
// completes the frame, flushing all of its compressed output downstream
// before returning.
type codecBackend interface {
	write(ctx context.Context, p []byte) error
	endFrame(ctx context.Context) error
	bufferSize() int
	close() error
}

// codecDecoder decompresses granules for the reader. Implementations are not
// safe for concurrent use; the reader serialises access through its lock.
type codecDecoder interface {
	// decodeFrame decompresses src, a whole granule of one or more codec
	// frames, into a freshly allocated buffer of dSize bytes.
	decodeFrame(src []byte, dSize int) ([]byte, error)
	// decodeInto streams src, filling discard (the unwanted granule prefix)
	// and then dst. Used on the no-cache path to start mid-granule.
	decodeInto(src, discard, dst []byte) error
	close() error
}

var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// lz4LevelFromInt maps a numeric compression level onto the lz4 package's
// level constants, clamping out-of-range values.
func lz4LevelFromInt(level int) lz4.CompressionLevel {
	if level <= 0 {
		return lz4.Fast
	}
	if level >= len(lz4Levels) {
		level = len(lz4Levels) - 1
	}
	return lz4Levels[level]
}
