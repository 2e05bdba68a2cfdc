package zseek

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zseek/zseek-go/env"
)

// readerPoolSize bounds how many staging buffers a reader keeps between
// reads (one compressed, one discard).
const readerPoolSize = 2

// ReaderStats is a point-in-time snapshot of a reader.
type ReaderStats struct {
	// SeekTableMemory is the heap footprint of the parsed seek table.
	SeekTableMemory int
	// Frames is the number of seek table entries (random-access granules).
	Frames int64
	// DecompressedSize is the total size of the logical stream.
	DecompressedSize int64
	// CacheMemory is the byte total of cached decompressed granules.
	CacheMemory int
	// CachedFrames is the number of cached granules.
	CachedFrames int
	// BufferSize estimates the staging buffer footprint. The codec library
	// may buffer more in its contexts.
	BufferSize int
}

// Reader serves random-access reads of the logical stream of a seekable
// compressed file.
type Reader interface {
	// Seek implements io.Seeker over the logical stream. It only moves the
	// shared sequential cursor used by Read.
	Seek(offset int64, whence int) (int64, error)

	// Read implements io.Reader at the shared cursor. Concurrent callers
	// observe an unspecified interleaving of cursor advances; callers that
	// need deterministic sequential reads must serialise externally.
	Read(p []byte) (n int, err error)

	// ReadContext is Read with a caller context.
	ReadContext(ctx context.Context, p []byte) (n int, err error)

	// ReadAt implements io.ReaderAt. It loops over granules until p is
	// filled or the stream ends, and is safe for concurrent use.
	ReadAt(p []byte, off int64) (n int, err error)

	// Pread reads at most one granule's worth of bytes at offset off into p.
	// It returns (0, io.EOF) at or past the end of the stream. Callers
	// wanting more than one granule per call use ReadAt.
	Pread(ctx context.Context, p []byte, off int64) (n int, err error)

	// Close releases the codec contexts. The frame cache is not cleared.
	// Safe to call twice.
	Close() error

	// Size returns the size of the logical (uncompressed) stream.
	Size() int64

	// NumFrames returns the number of random-access granules.
	NumFrames() int64

	// Stats reports the reader's current counters.
	Stats() ReaderStats
}

type readerImpl struct {
	// mu guards the codec contexts and the staging pool. Cache hits copy out
	// under the read lock (the cache is internally locked, since even a
	// lookup promotes the entry); misses upgrade to the write lock and
	// re-check, since another reader may have filled the entry in between.
	mu sync.RWMutex

	dec   codecDecoder
	st    *seekTable
	cache *frameCache
	pool  *bufferPool
	file  env.ReadFile

	o readerOptions

	pos    atomic.Int64
	closed atomic.Bool
}

var (
	_ io.Seeker   = (*readerImpl)(nil)
	_ io.Reader   = (*readerImpl)(nil)
	_ io.ReaderAt = (*readerImpl)(nil)
	_ io.Closer   = (*readerImpl)(nil)
	_ Reader      = (*readerImpl)(nil)
)

// NewReader opens a seekable compressed file for random-access reads. The
// codec is detected from the first frame's magic number; the seek table is
// parsed from the end of the file. The context is used for the open-time
// reads only.
func NewReader(ctx context.Context, f env.ReadFile, opts ...ROption) (Reader, error) {
	sr := readerImpl{
		file: f,
	}

	sr.o.setDefault()
	for _, o := range opts {
		if err := o(&sr.o); err != nil {
			return nil, err
		}
	}

	var magicBuf [4]byte
	if err := readFull(ctx, f, magicBuf[:], 0); err != nil {
		return nil, fmt.Errorf("probe format: %w", err)
	}

	switch binary.LittleEndian.Uint32(magicBuf[:]) {
	case zstdFrameMagic:
		dec, err := newZstdDecoder(&sr.o)
		if err != nil {
			return nil, err
		}
		sr.dec = dec
	case lz4FrameMagic:
		sr.dec = newLZ4Decoder()
	default:
		return nil, ErrUnrecognizedFormat
	}

	st, err := readSeekTable(ctx, f)
	if err != nil {
		_ = sr.dec.close()
		return nil, err
	}
	sr.st = st

	if sr.o.cacheSize > 0 {
		sr.cache, err = newFrameCache(sr.o.cacheSize)
		if err != nil {
			_ = sr.dec.close()
			return nil, err
		}
	}

	sr.pool = newBufferPool(readerPoolSize)

	sr.o.logger.Debug("opened",
		zap.Int64("frames", st.numFrames),
		zap.Int64("decompressedSize", st.decompressedSize),
		zap.Bool("checksums", st.checksums))

	return &sr, nil
}

func (r *readerImpl) Size() int64 {
	return r.st.decompressedSize
}

func (r *readerImpl) NumFrames() int64 {
	return r.st.numFrames
}

func (r *readerImpl) Pread(ctx context.Context, p []byte, off int64) (int, error) {
	if r.closed.Load() {
		return 0, fmt.Errorf("read: %w", ErrClosed)
	}
	if off < 0 {
		return 0, fmt.Errorf("offset before the start of the file: %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	entry := r.st.entryByOffset(uint64(off))
	if entry == nil {
		return 0, io.EOF
	}

	if r.cache == nil {
		return r.preadStreaming(ctx, p, off, entry)
	}
	return r.preadCached(ctx, p, off, entry)
}

// preadCached serves a read from the cache, filling the entry on a miss.
func (r *readerImpl) preadCached(ctx context.Context, p []byte, off int64, entry *env.FrameOffsetEntry) (int, error) {
	r.mu.RLock()
	if data, ok := r.cache.find(entry.ID); ok {
		n := copyOut(p, data, off, entry)
		r.mu.RUnlock()
		return n, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another reader may have populated the entry during the lock upgrade.
	data, ok := r.cache.find(entry.ID)
	if !ok {
		var err error
		data, err = r.fetchFrame(ctx, entry)
		if err != nil {
			return 0, err
		}
		if !r.cache.insert(entry.ID, data) {
			return 0, fmt.Errorf("frame caching failed: %d", entry.ID)
		}
	}

	return copyOut(p, data, off, entry), nil
}

// fetchFrame reads and decompresses the whole granule. Caller holds the
// write lock.
func (r *readerImpl) fetchFrame(ctx context.Context, entry *env.FrameOffsetEntry) ([]byte, error) {
	cbuf := r.pool.get(int(entry.CompSize))
	defer r.pool.put(cbuf)
	cbuf.resize(int(entry.CompSize))

	if err := readFull(ctx, r.file, cbuf.bytes(), int64(entry.CompOffset)); err != nil {
		return nil, fmt.Errorf("read compressed data at %d: %w", entry.CompOffset, err)
	}

	data, err := r.dec.decodeFrame(cbuf.bytes(), int(entry.DecompSize))
	if err != nil {
		return nil, fmt.Errorf("frame at %d: %w", entry.CompOffset, err)
	}
	if len(data) != int(entry.DecompSize) {
		return nil, fmt.Errorf("index corruption: len: %d, expected: %d",
			len(data), entry.DecompSize)
	}

	if r.o.verifyChecksums && r.st.checksums {
		checksum := uint32(xxhash.Sum64(data))
		if entry.Checksum != checksum {
			return nil, fmt.Errorf("checksum verification failed at: %d: expected: %d, actual: %d",
				entry.CompOffset, entry.Checksum, checksum)
		}
	}

	r.o.logger.Debug("fetched frame", zap.Object("entry", entry))
	return data, nil
}

// preadStreaming is the no-cache path: decompress from the granule start,
// discarding the unwanted prefix, straight into the caller's buffer.
func (r *readerImpl) preadStreaming(ctx context.Context, p []byte, off int64, entry *env.FrameOffsetEntry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cbuf := r.pool.get(int(entry.CompSize))
	defer r.pool.put(cbuf)
	cbuf.resize(int(entry.CompSize))

	if err := readFull(ctx, r.file, cbuf.bytes(), int64(entry.CompOffset)); err != nil {
		return 0, fmt.Errorf("read compressed data at %d: %w", entry.CompOffset, err)
	}

	offsetInFrame := int(uint64(off) - entry.DecompOffset)

	var discard []byte
	if offsetInFrame > 0 {
		dbuf := r.pool.get(offsetInFrame)
		defer r.pool.put(dbuf)
		dbuf.resize(offsetInFrame)
		discard = dbuf.bytes()
	}

	toRead := int(entry.DecompSize) - offsetInFrame
	if toRead > len(p) {
		toRead = len(p)
	}

	if err := r.dec.decodeInto(cbuf.bytes(), discard, p[:toRead]); err != nil {
		return 0, fmt.Errorf("frame at %d: %w", entry.CompOffset, err)
	}

	return toRead, nil
}

// copyOut copies the requested slice of a decompressed granule into p.
func copyOut(p, data []byte, off int64, entry *env.FrameOffsetEntry) int {
	offsetInFrame := uint64(off) - entry.DecompOffset

	size := uint64(len(data)) - offsetInFrame
	if size > uint64(len(p)) {
		size = uint64(len(p))
	}

	copy(p, data[offsetInFrame:offsetInFrame+size])
	return int(size)
}

func (r *readerImpl) ReadAt(p []byte, off int64) (n int, err error) {
	for m := 0; n < len(p) && err == nil; n += m {
		m, err = r.Pread(context.Background(), p[n:], off+int64(n))
	}
	return
}

func (r *readerImpl) Read(p []byte) (n int, err error) {
	return r.ReadContext(context.Background(), p)
}

func (r *readerImpl) ReadContext(ctx context.Context, p []byte) (n int, err error) {
	off := r.pos.Load()
	n, err = r.Pread(ctx, p, off)
	if n > 0 {
		r.pos.Add(int64(n))
	}
	return
}

func (r *readerImpl) Seek(offset int64, whence int) (int64, error) {
	newOffset := r.pos.Load()
	switch whence {
	case io.SeekCurrent:
		newOffset += offset
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = r.st.decompressedSize + offset
	default:
		return 0, fmt.Errorf("unknown whence: %d", whence)
	}

	if newOffset < 0 {
		return 0, fmt.Errorf("offset before the start of the file: %d", newOffset)
	}

	r.pos.Store(newOffset)
	return newOffset, nil
}

func (r *readerImpl) Close() (err error) {
	if r.closed.CompareAndSwap(false, true) {
		r.mu.Lock()
		defer r.mu.Unlock()

		err = multierr.Append(err, r.dec.close())
	}
	return
}

func (r *readerImpl) Stats() ReaderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return ReaderStats{
		SeekTableMemory:  r.st.memoryUsage(),
		Frames:           r.st.numFrames,
		DecompressedSize: r.st.decompressedSize,
		CacheMemory:      r.cache.memoryUsage(),
		CachedFrames:     r.cache.entries(),
		BufferSize:       r.pool.memoryUsage(),
	}
}
