package zseek

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// zstdWriter is the single-threaded Zstandard backend: it stages a frame's
// worth of input and compresses it in one shot, or compresses an incoming
// chunk directly when it alone makes up the whole frame.
type zstdWriter struct {
	w   *writerImpl
	enc *zstd.Encoder

	ubuf *buffer // staged uncompressed input for the current frame
	cbuf *buffer // compressed output scratch
}

func newZstdWriter(w *writerImpl) (*zstdWriter, error) {
	o := &w.o
	eopts := append([]zstd.EOption{
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(o.levelOr(zstdDefaultLevel))),
		zstd.WithEncoderConcurrency(1),
	}, o.zstdEOpts...)

	enc, err := zstd.NewWriter(nil, eopts...)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &zstdWriter{
		w:    w,
		enc:  enc,
		ubuf: newBuffer(o.minFrameSize),
		cbuf: newBuffer(0),
	}, nil
}

func (b *zstdWriter) write(ctx context.Context, p []byte) error {
	// Whole-frame fast path: nothing staged, nothing emitted, and the chunk
	// alone reaches the frame threshold.
	if b.ubuf.size() == 0 && b.w.frameCM == 0 && len(p) >= b.w.o.minFrameSize {
		b.cbuf.data = b.enc.EncodeAll(p, b.cbuf.data[:0])
		return b.w.emit(ctx, b.cbuf.bytes())
	}

	b.ubuf.push(p)
	return nil
}

func (b *zstdWriter) endFrame(ctx context.Context) error {
	if b.ubuf.size() == 0 {
		// The frame was already compressed by the fast path.
		return nil
	}

	b.cbuf.data = b.enc.EncodeAll(b.ubuf.bytes(), b.cbuf.data[:0])
	b.ubuf.reset()
	return b.w.emit(ctx, b.cbuf.bytes())
}

func (b *zstdWriter) bufferSize() int {
	return b.ubuf.capacity() + b.cbuf.capacity()
}

func (b *zstdWriter) close() error {
	return b.enc.Close()
}

// zstdMTWriter is the multi-threaded Zstandard backend: input chunks are
// forwarded to a streaming encoder whose worker pool compresses them
// asynchronously. endFrame blocks until everything dispatched for the frame
// has been flushed downstream.
type zstdMTWriter struct {
	w    *writerImpl
	enc  *zstd.Encoder
	sink *emitWriter

	dirty bool // input dispatched since the last frame end
}

func newZstdMTWriter(w *writerImpl) (*zstdMTWriter, error) {
	o := &w.o
	sink := &emitWriter{s: w, ctx: context.Background()}

	eopts := append([]zstd.EOption{
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(o.levelOr(zstdDefaultLevel))),
		zstd.WithEncoderConcurrency(o.zstdWorkers),
	}, o.zstdEOpts...)

	enc, err := zstd.NewWriter(sink, eopts...)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &zstdMTWriter{w: w, enc: enc, sink: sink}, nil
}

func (b *zstdMTWriter) write(ctx context.Context, p []byte) error {
	b.sink.ctx = ctx
	if _, err := b.enc.Write(p); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	b.dirty = true
	return nil
}

func (b *zstdMTWriter) endFrame(ctx context.Context) error {
	b.sink.ctx = ctx
	if err := b.enc.Close(); err != nil {
		return fmt.Errorf("end frame: %w", err)
	}
	b.dirty = false
	b.enc.Reset(b.sink)
	return nil
}

func (b *zstdMTWriter) bufferSize() int {
	return 0
}

func (b *zstdMTWriter) close() error {
	if !b.dirty {
		// Closing a pristine encoder would emit a stray empty frame.
		return nil
	}
	return b.enc.Close()
}

// zstdDecoder decompresses Zstandard granules. One decoder serves whole-frame
// decodes, a second one the streaming mid-frame path, mirroring the split
// decompression contexts of the format's reference tooling.
type zstdDecoder struct {
	dec     *zstd.Decoder
	dstream *zstd.Decoder
}

func newZstdDecoder(o *readerOptions) (*zstdDecoder, error) {
	dopts := append([]zstd.DOption{
		zstd.WithDecoderConcurrency(1),
	}, o.zstdDOpts...)

	dec, err := zstd.NewReader(nil, dopts...)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	dstream, err := zstd.NewReader(nil, dopts...)
	if err != nil {
		dec.Close()
		return nil, fmt.Errorf("create zstd stream decoder: %w", err)
	}

	return &zstdDecoder{dec: dec, dstream: dstream}, nil
}

func (d *zstdDecoder) decodeFrame(src []byte, dSize int) ([]byte, error) {
	out, err := d.dec.DecodeAll(src, make([]byte, 0, dSize))
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	return out, nil
}

func (d *zstdDecoder) decodeInto(src, discard, dst []byte) error {
	if err := d.dstream.Reset(bytes.NewReader(src)); err != nil {
		return fmt.Errorf("initialize stream decoder: %w", err)
	}

	if len(discard) > 0 {
		if _, err := io.ReadFull(d.dstream, discard); err != nil {
			return fmt.Errorf("decompress discard data: %w", err)
		}
	}
	if _, err := io.ReadFull(d.dstream, dst); err != nil {
		return fmt.Errorf("decompress user data: %w", err)
	}
	return nil
}

func (d *zstdDecoder) close() error {
	d.dec.Close()
	d.dstream.Close()
	return nil
}
