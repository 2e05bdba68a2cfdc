package env

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

type osReadFile struct {
	f *os.File
}

// OSReadFile wraps an os.File opened for reading.
func OSReadFile(f *os.File) ReadFile {
	return &osReadFile{f: f}
}

func (r *osReadFile) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	n, err := r.f.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (r *osReadFile) Size(_ context.Context) (int64, error) {
	fi, err := r.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}
	return fi.Size(), nil
}

type osWriteFile struct {
	f *os.File
}

// OSWriteFile wraps an os.File opened for appending.
func OSWriteFile(f *os.File) WriteFile {
	return &osWriteFile{f: f}
}

func (w *osWriteFile) Append(_ context.Context, p []byte) error {
	_, err := w.f.Write(p)
	return err
}

type readerAtFile struct {
	ra   io.ReaderAt
	size int64
}

// ReaderAtFile adapts an io.ReaderAt of a known size.
func ReaderAtFile(ra io.ReaderAt, size int64) ReadFile {
	return &readerAtFile{ra: ra, size: size}
}

func (r *readerAtFile) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	n, err := r.ra.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (r *readerAtFile) Size(_ context.Context) (int64, error) {
	return r.size, nil
}

type writerFile struct {
	w io.Writer
}

// WriterFile adapts an io.Writer.
func WriterFile(w io.Writer) WriteFile {
	return &writerFile{w: w}
}

func (w *writerFile) Append(_ context.Context, p []byte) error {
	n, err := w.w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}
