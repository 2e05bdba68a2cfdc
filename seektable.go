package zseek

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/btree"

	"github.com/zseek/zseek-go/env"
)

// seekTable is the parsed, reader-side view of the trailing seek table:
// entries translated into absolute offsets, indexed for lookup by
// decompressed offset, plus the stream totals.
type seekTable struct {
	index *btree.BTreeG[*env.FrameOffsetEntry]

	numFrames        int64
	decompressedSize int64
	compressedSize   int64

	checksums bool
}

// btreeDegree is the fan-out of the offset index.
const btreeDegree = 8

// frameOffsetEntryBytes approximates the heap footprint of one indexed entry.
const frameOffsetEntryBytes = 48

// readFull reads exactly len(p) bytes at off. The env contract permits short
// reads only at EOF, so anything short here means a truncated file.
func readFull(ctx context.Context, f env.ReadFile, p []byte, off int64) error {
	n, err := f.ReadAt(ctx, p, off)
	if err != nil {
		return fmt.Errorf("read at %d: %w", off, err)
	}
	if n != len(p) {
		return fmt.Errorf("read at %d: %w", off, io.ErrUnexpectedEOF)
	}
	return nil
}

// readSeekTable locates, validates and parses the seek table at the tail of
// the file. It issues positional reads only and never moves a file cursor.
func readSeekTable(ctx context.Context, f env.ReadFile) (*seekTable, error) {
	size, err := f.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("file size: %w", err)
	}
	if size < skippableHeaderSize+seekTableFooterSize {
		return nil, fmt.Errorf("file too small for a seek table: %d bytes: %w",
			size, io.ErrUnexpectedEOF)
	}

	footerBuf := make([]byte, seekTableFooterSize)
	if err := readFull(ctx, f, footerBuf, size-seekTableFooterSize); err != nil {
		return nil, fmt.Errorf("read footer: %w", err)
	}

	footer := SeekTableFooter{}
	if err := footer.UnmarshalBinary(footerBuf); err != nil {
		return nil, fmt.Errorf("parse footer: %w", err)
	}

	if footer.NumberOfFrames > seekTableMaxEntries {
		return nil, fmt.Errorf("%w: %d", ErrTooManyEntries, footer.NumberOfFrames)
	}

	entrySize := seekTableEntrySize(footer.SeekTableDescriptor.ChecksumFlag)
	frameSize := int64(skippableHeaderSize) +
		int64(entrySize)*int64(footer.NumberOfFrames) + seekTableFooterSize
	if frameSize > size {
		return nil, fmt.Errorf("seek table of %d bytes in a %d byte file: %w",
			frameSize, size, io.ErrUnexpectedEOF)
	}

	buf := make([]byte, frameSize)
	if err := readFull(ctx, f, buf, size-frameSize); err != nil {
		return nil, fmt.Errorf("read seek table frame: %w", err)
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != skippableFrameMagic|seekableTag {
		return nil, fmt.Errorf("%w: skippable frame magic %#08x vs %#08x",
			ErrBadMagic, magic, uint32(skippableFrameMagic|seekableTag))
	}

	payloadSize := int64(binary.LittleEndian.Uint32(buf[4:8]))
	if payloadSize != frameSize-skippableHeaderSize {
		return nil, fmt.Errorf("%w: Frame_Size %d vs %d",
			ErrLengthMismatch, payloadSize, frameSize-skippableHeaderSize)
	}

	st := &seekTable{
		index:     btree.NewG(btreeDegree, env.Less),
		checksums: footer.SeekTableDescriptor.ChecksumFlag,
	}

	var compOffset, decompOffset uint64
	entry := SeekTableEntry{}
	entriesBuf := buf[skippableHeaderSize : frameSize-seekTableFooterSize]
	for i := int64(0); i < int64(footer.NumberOfFrames); i++ {
		raw := entriesBuf[i*int64(entrySize) : (i+1)*int64(entrySize)]
		if err := entry.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("parse entry %d: %w", i, err)
		}

		st.index.ReplaceOrInsert(&env.FrameOffsetEntry{
			ID:           i,
			CompOffset:   compOffset,
			DecompOffset: decompOffset,
			CompSize:     entry.CompressedSize,
			DecompSize:   entry.DecompressedSize,
			Checksum:     entry.Checksum,
		})
		compOffset += uint64(entry.CompressedSize)
		decompOffset += uint64(entry.DecompressedSize)
	}

	st.numFrames = int64(footer.NumberOfFrames)
	st.compressedSize = int64(compOffset)
	st.decompressedSize = int64(decompOffset)

	return st, nil
}

// entryByOffset returns the entry containing decompressed offset off, or nil
// when off is at or past the end of the stream.
func (st *seekTable) entryByOffset(off uint64) (found *env.FrameOffsetEntry) {
	if off >= uint64(st.decompressedSize) {
		return nil
	}

	st.index.DescendLessOrEqual(&env.FrameOffsetEntry{DecompOffset: off}, func(e *env.FrameOffsetEntry) bool {
		found = e
		return false
	})
	return
}

// entryByID returns the entry with the given sequence number, or nil.
func (st *seekTable) entryByID(id int64) (found *env.FrameOffsetEntry) {
	if id < 0 || id >= st.numFrames {
		return nil
	}

	st.index.Descend(func(e *env.FrameOffsetEntry) bool {
		if e.ID == id {
			found = e
			return false
		}
		return true
	})
	return
}

func (st *seekTable) memoryUsage() int {
	return st.index.Len() * frameOffsetEntryBytes
}
