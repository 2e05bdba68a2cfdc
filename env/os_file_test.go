package env

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFiles(t *testing.T) {
	t.Parallel()

	f, err := os.CreateTemp(t.TempDir(), "env")
	require.NoError(t, err)
	defer f.Close()

	ctx := context.Background()

	w := OSWriteFile(f)
	require.NoError(t, w.Append(ctx, []byte("hello ")))
	require.NoError(t, w.Append(ctx, []byte("world")))

	r := OSReadFile(f)

	size, err := r.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	buf := make([]byte, 5)
	n, err := r.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("world"), buf)

	// A read at EOF is short, not an error.
	n, err = r.ReadAt(ctx, buf, 9)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("ld"), buf[:n])
}

func TestReaderAtFile(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789")
	r := ReaderAtFile(bytes.NewReader(data), int64(len(data)))
	ctx := context.Background()

	size, err := r.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	buf := make([]byte, 4)
	n, err := r.ReadAt(ctx, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("3456"), buf)
}

func TestWriterFile(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	w := WriterFile(&b)
	require.NoError(t, w.Append(context.Background(), []byte("abc")))
	assert.Equal(t, "abc", b.String())
}
