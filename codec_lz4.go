package zseek

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// lz4Writer compresses each frame in one shot with the LZ4 frame format.
// Small block size keeps mid-frame reads from over-buffering on the reader
// side.
type lz4Writer struct {
	w     *writerImpl
	level lz4.CompressionLevel

	zw   *lz4.Writer
	ubuf *buffer
	cbuf *buffer
}

func newLZ4Writer(w *writerImpl) (*lz4Writer, error) {
	o := &w.o
	return &lz4Writer{
		w:     w,
		level: lz4LevelFromInt(o.levelOr(lz4DefaultLevel)),
		zw:    lz4.NewWriter(io.Discard),
		ubuf:  newBuffer(o.minFrameSize),
		cbuf:  newBuffer(0),
	}, nil
}

// compressFrame compresses src as one self-contained LZ4 frame and emits it.
func (b *lz4Writer) compressFrame(ctx context.Context, src []byte) error {
	b.cbuf.reset()
	b.zw.Reset(b.cbuf)

	opts := append([]lz4.Option{
		lz4.CompressionLevelOption(b.level),
		lz4.BlockSizeOption(lz4.Block64Kb),
		lz4.SizeOption(uint64(len(src))),
	}, b.w.o.lz4Opts...)
	if err := b.zw.Apply(opts...); err != nil {
		return fmt.Errorf("apply lz4 options: %w", err)
	}

	if _, err := b.zw.Write(src); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if err := b.zw.Close(); err != nil {
		return fmt.Errorf("end frame: %w", err)
	}

	return b.w.emit(ctx, b.cbuf.bytes())
}

func (b *lz4Writer) write(ctx context.Context, p []byte) error {
	if b.ubuf.size() == 0 && b.w.frameCM == 0 && len(p) >= b.w.o.minFrameSize {
		return b.compressFrame(ctx, p)
	}

	b.ubuf.push(p)
	return nil
}

func (b *lz4Writer) endFrame(ctx context.Context) error {
	if b.ubuf.size() == 0 {
		return nil
	}

	err := b.compressFrame(ctx, b.ubuf.bytes())
	b.ubuf.reset()
	return err
}

func (b *lz4Writer) bufferSize() int {
	return b.ubuf.capacity() + b.cbuf.capacity()
}

func (b *lz4Writer) close() error {
	return nil
}

// lz4Decoder decompresses LZ4 granules. A granule may hold several
// concatenated LZ4 frames; the decoder restarts its streaming reader at each
// frame boundary.
type lz4Decoder struct {
	zr *lz4.Reader
}

func newLZ4Decoder() *lz4Decoder {
	return &lz4Decoder{zr: lz4.NewReader(bytes.NewReader(nil))}
}

// fill decompresses exactly len(p) bytes from the granule being read through
// br, restarting the frame reader on concatenated frame boundaries.
func (d *lz4Decoder) fill(br *bytes.Reader, p []byte) error {
	filled := 0
	for filled < len(p) {
		n, err := d.zr.Read(p[filled:])
		filled += n
		switch {
		case err == nil:
		case err == io.EOF:
			if br.Len() == 0 {
				if filled < len(p) {
					return io.ErrUnexpectedEOF
				}
				return nil
			}
			d.zr.Reset(br)
		default:
			return err
		}
	}
	return nil
}

func (d *lz4Decoder) decodeFrame(src []byte, dSize int) ([]byte, error) {
	br := bytes.NewReader(src)
	d.zr.Reset(br)

	out := make([]byte, dSize)
	if err := d.fill(br, out); err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	return out, nil
}

func (d *lz4Decoder) decodeInto(src, discard, dst []byte) error {
	br := bytes.NewReader(src)
	d.zr.Reset(br)

	if len(discard) > 0 {
		if err := d.fill(br, discard); err != nil {
			return fmt.Errorf("decompress discard data: %w", err)
		}
	}
	if err := d.fill(br, dst); err != nil {
		return fmt.Errorf("decompress user data: %w", err)
	}

	if br.Len() > 0 {
		// The granule was not fully consumed: drop the half-decoded frame
		// state before the next read reuses this context.
		d.zr.Reset(bytes.NewReader(nil))
	}
	return nil
}

func (d *lz4Decoder) close() error {
	return nil
}
