//go:build go1.18
// +build go1.18

package zseek

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func FuzzReader(f *testing.F) {
	f.Add(noChecksumFixture, int64(0), uint8(1), io.SeekStart)
	f.Add(checksumFixture, int64(-1), uint8(2), io.SeekEnd)
	f.Add(checksumFixture, int64(1), uint8(0), io.SeekCurrent)

	f.Fuzz(func(t *testing.T, in []byte, off int64, l uint8, whence int) {
		r, err := NewReader(context.Background(), fileOf(in))
		if err != nil {
			return
		}
		defer r.Close()

		i, err := r.Seek(off, whence)
		if err != nil {
			return
		}

		buf1 := make([]byte, l)
		n, err := r.Read(buf1)
		if err != nil && err != io.EOF {
			return
		}

		buf2 := make([]byte, n)
		m, err := r.ReadAt(buf2, i)

		if err != io.EOF {
			assert.NoError(t, err)
		}

		assert.Equal(t, m, n)
		assert.Equal(t, buf1[:n], buf2)
	})
}

func FuzzReaderConst(f *testing.F) {
	f.Add(int64(0), uint8(1), int8(io.SeekStart))

	r, err := NewReader(context.Background(), fileOf(checksumFixture))
	assert.NoError(f, err)

	f.Fuzz(func(t *testing.T, off int64, l uint8, whence int8) {
		i, err := r.Seek(off, int(whence))
		if err != nil {
			return
		}

		buf1 := make([]byte, l)
		n, err := r.Read(buf1)
		if err != nil && err != io.EOF {
			return
		}

		buf2 := make([]byte, n)
		m, err := r.ReadAt(buf2, i)

		if err != io.EOF {
			assert.NoError(t, err)
		}

		assert.Equal(t, m, n)
		assert.Equal(t, buf1[:n], buf2)

		if n > 0 {
			assert.Equal(t, string(buf2), sourceString[i:i+int64(n)])
		}
	})
}
