package zseek

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zseek/zseek-go/env"
)

// seekTableWriteBufSize is the slice size used when flushing the seek table
// through the resumable serialiser on close.
const seekTableWriteBufSize = 4096

// WriterStats is a point-in-time snapshot of a writer.
type WriterStats struct {
	// SeekTableSize is the on-disk size of the seek table, counting the
	// entry a partially accumulated group would produce.
	SeekTableSize int
	// SeekTableMemory is the size of the in-memory frame log (see
	// FrameLog.MemoryUsage).
	SeekTableMemory int
	// Frames is the number of frames emitted, including the open one.
	Frames int
	// CompressedSize estimates the total file size so far. It is an estimate
	// because the codec may still hold dispatched data in internal buffers.
	CompressedSize int
	// BufferSize is the staging buffer footprint.
	BufferSize int
}

// Writer compresses a sequential stream into the seekable container format.
// It accumulates input into frames of at least the configured minimum
// uncompressed size, groups frames into seek table entries, and appends the
// seek table on Close.
//
// The writer is not safe for concurrent use. With WithZSTDWorkers the codec
// parallelises internally; Write still may not be called concurrently.
type Writer interface {
	// Write implements io.Writer. Equivalent to WriteContext with a
	// background context.
	Write(p []byte) (int, error)

	// WriteContext appends p to the logical stream. The context is forwarded
	// to the underlying file on every resulting I/O call.
	WriteContext(ctx context.Context, p []byte) (int, error)

	// Close ends the open frame, writes the seek table and releases codec
	// resources. The writer is unusable afterwards; Close is idempotent.
	Close() error

	// CloseContext is Close with a caller context.
	CloseContext(ctx context.Context) error

	// Stats reports the writer's current counters.
	Stats() WriterStats
}

type writerImpl struct {
	out     env.WriteFile
	backend codecBackend
	fl      *FrameLog

	o writerOptions

	frameUC int // current frame bytes (uncompressed)
	frameCM int // current frame bytes (compressed)

	// Accumulators for the seek table entry being grouped.
	steFrames int
	steUC     int
	steCM     int

	totalCM int // compressed bytes emitted, excluding frameCM
	frames  int // frames emitted

	digest *xxhash.Digest

	closed   atomic.Bool
	once     *sync.Once
	closeErr error
}

var (
	_ io.WriteCloser = (*writerImpl)(nil)
	_ Writer         = (*writerImpl)(nil)
)

// NewWriter returns a seekable stream writer on top of w. The sink may
// instead be injected with WithWEnvironment, in which case w may be nil.
func NewWriter(w io.Writer, opts ...WOption) (Writer, error) {
	sw := writerImpl{
		once: &sync.Once{},
	}

	sw.o.setDefault()
	for _, o := range opts {
		if err := o(&sw.o); err != nil {
			return nil, err
		}
	}

	switch {
	case sw.o.env != nil:
		sw.out = sw.o.env
	case w != nil:
		sw.out = env.WriterFile(w)
	default:
		return nil, fmt.Errorf("no output: nil writer and no environment")
	}

	sw.fl = NewFrameLog(sw.o.checksums)
	if sw.o.checksums {
		sw.digest = xxhash.New()
	}

	var err error
	switch sw.o.codec {
	case Zstd:
		if sw.o.zstdWorkers > 1 {
			sw.backend, err = newZstdMTWriter(&sw)
		} else {
			sw.backend, err = newZstdWriter(&sw)
		}
	case LZ4:
		sw.backend, err = newLZ4Writer(&sw)
	default:
		err = fmt.Errorf("unknown codec (%d)", sw.o.codec)
	}
	if err != nil {
		return nil, err
	}

	return &sw, nil
}

// emit appends compressed bytes of the current frame to the output file and
// accounts for them.
func (s *writerImpl) emit(ctx context.Context, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := s.out.Append(ctx, p); err != nil {
		return fmt.Errorf("write to file: %w", err)
	}
	s.frameCM += len(p)
	return nil
}

// emitWriter adapts emit to io.Writer for codec libraries that stream their
// output. ctx is refreshed by the backend on every library call.
type emitWriter struct {
	s   *writerImpl
	ctx context.Context
}

func (w *emitWriter) Write(p []byte) (int, error) {
	if err := w.s.emit(w.ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *writerImpl) Write(p []byte) (int, error) {
	return s.WriteContext(context.Background(), p)
}

func (s *writerImpl) WriteContext(ctx context.Context, p []byte) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("write: %w", ErrClosed)
	}

	if len(p) > math.MaxUint32 {
		return 0, fmt.Errorf("chunk size too big for seekable format: %d > %d",
			len(p), math.MaxUint32)
	}

	// A previous frame end may have failed mid-flush; retry before taking
	// more input so the frame boundary invariant holds.
	if s.frameUC >= s.o.minFrameSize {
		if err := s.endFrame(ctx); err != nil {
			return 0, err
		}
	}

	if s.digest != nil {
		_, _ = s.digest.Write(p)
	}

	if err := s.backend.write(ctx, p); err != nil {
		return 0, err
	}
	s.frameUC += len(p)

	if s.frameUC >= s.o.minFrameSize {
		if err := s.endFrame(ctx); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

// endFrame completes the current frame and rolls it into the entry being
// grouped, appending the entry to the frame log when the group is full.
func (s *writerImpl) endFrame(ctx context.Context) error {
	if err := s.backend.endFrame(ctx); err != nil {
		return err
	}

	s.o.logger.Debug("frame ended",
		zap.Int("uncompressed", s.frameUC),
		zap.Int("compressed", s.frameCM))

	s.frames++
	s.steFrames++
	s.steUC += s.frameUC
	s.steCM += s.frameCM
	s.totalCM += s.frameCM
	s.frameUC = 0
	s.frameCM = 0

	if s.steFrames >= s.o.framesPerEntry {
		return s.logEntry()
	}
	return nil
}

// logEntry appends the accumulated group to the frame log and resets the
// group counters.
func (s *writerImpl) logEntry() error {
	if s.steUC > math.MaxUint32 || s.steCM > math.MaxUint32 {
		return fmt.Errorf("entry size too big for seekable format: %d/%d uncompressed/compressed",
			s.steUC, s.steCM)
	}

	var sum uint32
	if s.digest != nil {
		sum = uint32(s.digest.Sum64())
		s.digest.Reset()
	}

	if err := s.fl.LogFrame(uint32(s.steCM), uint32(s.steUC), sum); err != nil {
		return err
	}

	s.o.logger.Debug("appending entry",
		zap.Int("frames", s.steFrames),
		zap.Int("uncompressed", s.steUC),
		zap.Int("compressed", s.steCM))

	s.steFrames = 0
	s.steUC = 0
	s.steCM = 0
	return nil
}

func (s *writerImpl) Close() error {
	return s.CloseContext(context.Background())
}

func (s *writerImpl) CloseContext(ctx context.Context) error {
	s.once.Do(func() {
		s.closeErr = s.doClose(ctx)
	})
	return s.closeErr
}

// doClose runs the whole shutdown sequence even when a step fails, so that
// resources are always released; the combined error is reported.
func (s *writerImpl) doClose(ctx context.Context) (err error) {
	s.closed.Store(true)

	if s.frameUC > 0 {
		err = multierr.Append(err, s.endFrame(ctx))
	}
	if s.steFrames > 0 {
		err = multierr.Append(err, s.logEntry())
	}

	buf := make([]byte, seekTableWriteBufSize)
	for {
		n, remaining := s.fl.WriteSeekTable(buf)
		if n > 0 {
			if werr := s.out.Append(ctx, buf[:n]); werr != nil {
				err = multierr.Append(err, fmt.Errorf("write seek table: %w", werr))
				break
			}
		}
		if remaining == 0 {
			break
		}
	}

	err = multierr.Append(err, s.backend.close())
	return err
}

func (s *writerImpl) Stats() WriterStats {
	frames := s.frames
	if s.frameUC > 0 {
		frames++
	}

	seekTableSize := s.fl.SeekTableSize()
	if s.steFrames > 0 || s.frameUC > 0 {
		seekTableSize += seekTableEntrySize(s.o.checksums)
	}

	return WriterStats{
		SeekTableSize:   seekTableSize,
		SeekTableMemory: s.fl.MemoryUsage(),
		Frames:          frames,
		CompressedSize:  s.totalCM + s.frameCM + seekTableSize,
		BufferSize:      s.backend.bufferSize(),
	}
}
