package zseek

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compress writes source through a writer in the given chunk sizes and
// returns the compressed stream.
func compress(t *testing.T, source []byte, chunkSize int, opts ...WOption) []byte {
	t.Helper()

	var b bytes.Buffer
	w, err := NewWriter(&b, opts...)
	require.NoError(t, err)

	for off := 0; off < len(source); off += chunkSize {
		end := off + chunkSize
		if end > len(source) {
			end = len(source)
		}
		n, err := w.Write(source[off:end])
		require.NoError(t, err)
		require.Equal(t, end-off, n)
	}
	require.NoError(t, w.Close())

	return b.Bytes()
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	source := make([]byte, 1<<20)
	for i := range source {
		source[i] = byte(i % 251)
	}

	for _, codec := range []Codec{Zstd, LZ4} {
		for _, chunkSize := range []int{1 << 10, 64 << 10, len(source)} {
			codec, chunkSize := codec, chunkSize
			t.Run(codec.String()+"/"+strconv.Itoa(chunkSize), func(t *testing.T) {
				t.Parallel()

				compressed := compress(t, source, chunkSize,
					WithCodec(codec),
					WithMinFrameSize(64<<10),
					WithFramesPerEntry(4),
					WithChecksums(true))

				r := newTestReader(t, compressed, WithVerifyChecksums(true))
				assert.Equal(t, int64(len(source)), r.Size())

				got := make([]byte, len(source))
				n, err := r.ReadAt(got, 0)
				require.NoError(t, err)
				assert.Equal(t, len(source), n)
				assert.True(t, bytes.Equal(source, got))
			})
		}
	}
}

func TestRandomAccess(t *testing.T) {
	t.Parallel()

	source := make([]byte, 512<<10)
	rng := rand.New(rand.NewSource(7))
	rng.Read(source)

	for _, codec := range []Codec{Zstd, LZ4} {
		for _, cacheSize := range []int{0, 2} {
			codec, cacheSize := codec, cacheSize
			t.Run(codec.String()+"/cache"+strconv.Itoa(cacheSize), func(t *testing.T) {
				t.Parallel()

				compressed := compress(t, source, 8<<10,
					WithCodec(codec),
					WithMinFrameSize(32<<10),
					WithFramesPerEntry(3))

				r := newTestReader(t, compressed, WithCacheSize(cacheSize))

				rng := rand.New(rand.NewSource(11))
				for i := 0; i < 256; i++ {
					count := 1 + rng.Intn(1024)
					off := rng.Intn(len(source) - count)

					got := make([]byte, count)
					n, err := r.ReadAt(got, int64(off))
					require.NoError(t, err)
					require.Equal(t, count, n)
					require.True(t, bytes.Equal(source[off:off+count], got),
						"mismatch at offset %d count %d", off, count)
				}
			})
		}
	}
}

func TestMultiThreadedWriter(t *testing.T) {
	t.Parallel()

	source := make([]byte, 4<<20)
	for i := range source {
		source[i] = byte(i >> 8)
	}

	compressed := compress(t, source, 128<<10,
		WithZSTDWorkers(4),
		WithMinFrameSize(256<<10))

	r := newTestReader(t, compressed)
	require.Equal(t, int64(len(source)), r.Size())

	got := make([]byte, len(source))
	n, err := r.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, len(source), n)
	assert.True(t, bytes.Equal(source, got))
}

func TestScenarioHelloWorld(t *testing.T) {
	t.Parallel()

	compressed := compress(t, []byte("Hello, world!\n"), 1, WithMinFrameSize(4))

	r := newTestReader(t, compressed)

	buf := make([]byte, 5)
	n, err := r.Pread(context.Background(), buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("world"), buf)
}

func TestScenarioConstantFill(t *testing.T) {
	t.Parallel()

	source := bytes.Repeat([]byte{0xAA}, 1<<20)

	var b bytes.Buffer
	w, err := NewWriter(&b, WithMinFrameSize(64<<10))
	require.NoError(t, err)
	for off := 0; off < len(source); off += 8 << 10 {
		_, err := w.Write(source[off : off+(8<<10)])
		require.NoError(t, err)
	}

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Frames, 16)
	require.NoError(t, w.Close())

	r := newTestReader(t, b.Bytes())

	buf := make([]byte, 1)
	n, err := r.Pread(context.Background(), buf, 999_999)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(0xAA), buf[0])
}

func TestScenarioModuloPattern(t *testing.T) {
	t.Parallel()

	source := make([]byte, 10<<20)
	for i := range source {
		source[i] = byte(i % 251)
	}

	compressed := compress(t, source, 1<<20, WithMinFrameSize(1<<20))

	r := newTestReader(t, compressed, WithCacheSize(3))

	rng := rand.New(rand.NewSource(42))
	buf := make([]byte, 256)
	for i := 0; i < 1024; i++ {
		off := rng.Intn(len(source) - len(buf))

		n, err := r.ReadAt(buf, int64(off))
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		for j, got := range buf {
			require.Equal(t, byte((off+j)%251), got, "offset %d", off+j)
		}
	}

	assert.LessOrEqual(t, r.Stats().CachedFrames, 3)
}

func TestScenarioGrouping(t *testing.T) {
	t.Parallel()

	const chunk = 100 << 10
	source := append(append(
		bytes.Repeat([]byte{'A'}, chunk),
		bytes.Repeat([]byte{'B'}, chunk)...),
		bytes.Repeat([]byte{'C'}, chunk)...)

	compressed := compress(t, source, chunk, WithMinFrameSize(50<<10))

	r := newTestReader(t, compressed)

	// Three frames grouped under a single seek table entry.
	assert.Equal(t, int64(1), r.NumFrames())
	assert.Equal(t, int64(1), r.Stats().Frames)

	buf := make([]byte, chunk)
	n, err := r.ReadAt(buf, chunk)
	require.NoError(t, err)
	require.Equal(t, chunk, n)
	assert.True(t, bytes.Equal(bytes.Repeat([]byte{'B'}, chunk), buf))
}

func TestScenarioNoCacheMidFrame(t *testing.T) {
	t.Parallel()

	// Sixteen 4 KiB frames, one per entry.
	source := make([]byte, 64<<10)
	rng := rand.New(rand.NewSource(3))
	rng.Read(source)

	for _, codec := range []Codec{Zstd, LZ4} {
		codec := codec
		t.Run(codec.String(), func(t *testing.T) {
			t.Parallel()

			compressed := compress(t, source, 4<<10,
				WithCodec(codec),
				WithMinFrameSize(4<<10),
				WithFramesPerEntry(1))

			r := newTestReader(t, compressed, WithCacheSize(0))
			require.Equal(t, int64(16), r.NumFrames())

			// Mid frame 3: discard path decodes the prefix into scratch.
			off := 3*(4<<10) + 1234
			buf := make([]byte, 16)
			n, err := r.Pread(context.Background(), buf, int64(off))
			require.NoError(t, err)
			require.Equal(t, 16, n)
			assert.True(t, bytes.Equal(source[off:off+16], buf))

			assert.Equal(t, 0, r.Stats().CachedFrames)
		})
	}
}

func TestSequentialReadAcrossCodecs(t *testing.T) {
	t.Parallel()

	source := make([]byte, 300<<10)
	for i := range source {
		source[i] = byte(i * 31 / 7)
	}

	for _, codec := range []Codec{Zstd, LZ4} {
		codec := codec
		t.Run(codec.String(), func(t *testing.T) {
			t.Parallel()

			compressed := compress(t, source, 10<<10,
				WithCodec(codec), WithMinFrameSize(64<<10), WithFramesPerEntry(2))

			r := newTestReader(t, compressed)

			got, err := io.ReadAll(io.Reader(r))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(source, got))
		})
	}
}

func BenchmarkReaderPread(b *testing.B) {
	source := make([]byte, 8<<20)
	rng := rand.New(rand.NewSource(1))
	rng.Read(source)

	for _, codec := range []Codec{Zstd, LZ4} {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, WithCodec(codec), WithMinFrameSize(512<<10))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := w.Write(source); err != nil {
			b.Fatal(err)
		}
		if err := w.Close(); err != nil {
			b.Fatal(err)
		}

		b.Run(codec.String(), func(b *testing.B) {
			r, err := NewReader(context.Background(),
				fileOf(buf.Bytes()), WithCacheSize(4))
			if err != nil {
				b.Fatal(err)
			}
			defer r.Close()

			rng := rand.New(rand.NewSource(2))
			p := make([]byte, 4<<10)
			b.SetBytes(int64(len(p)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				off := rng.Intn(len(source) - len(p))
				if _, err := r.ReadAt(p, int64(off)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
