package zseek

import (
	"encoding/binary"
	"fmt"
)

const frameLogInitialCapacity = 16

// FrameLog is the writer-side accumulation of seek table entries. Entries are
// appended as granules are finished and serialised on close.
//
// Serialisation through WriteSeekTable is resumable: the encoder fills the
// caller's buffer and can be re-invoked with fresh buffer space to continue
// exactly where it stopped, so arbitrarily small output buffers still produce
// the byte-exact on-disk layout.
type FrameLog struct {
	entries  []SeekTableEntry
	checksum bool

	// Resumption cursors for WriteSeekTable.
	seekTablePos   uint32
	seekTableIndex int
}

// NewFrameLog creates an empty frame log. When checksum is set, serialised
// entries carry the 4-byte checksum field.
func NewFrameLog(checksum bool) *FrameLog {
	return &FrameLog{
		entries:  make([]SeekTableEntry, 0, frameLogInitialCapacity),
		checksum: checksum,
	}
}

// LogFrame appends one granule to the log.
func (fl *FrameLog) LogFrame(compressedSize, decompressedSize, checksum uint32) error {
	if len(fl.entries) >= seekTableMaxEntries {
		return fmt.Errorf("%w: %d", ErrTooManyEntries, len(fl.entries))
	}

	fl.entries = append(fl.entries, SeekTableEntry{
		CompressedSize:   compressedSize,
		DecompressedSize: decompressedSize,
		Checksum:         checksum,
	})
	return nil
}

// Entries returns the number of granules logged so far.
func (fl *FrameLog) Entries() int {
	return len(fl.entries)
}

// SeekTableSize returns the on-disk size of the serialised seek table,
// including the skippable frame header and the footer.
func (fl *FrameLog) SeekTableSize() int {
	return skippableHeaderSize + seekTableEntrySize(fl.checksum)*len(fl.entries) + seekTableFooterSize
}

// MemoryUsage returns the size of the in-memory log, counted as its entry
// capacity times the on-disk entry size.
func (fl *FrameLog) MemoryUsage() int {
	return cap(fl.entries) * seekTableEntrySize(fl.checksum)
}

// stWrite32 writes the 32-bit word that belongs at table offset off, resuming
// mid-word if a previous call ran out of buffer. It reports whether the whole
// word has been written.
func (fl *FrameLog) stWrite32(dst []byte, n *int, value, off uint32) bool {
	if fl.seekTablePos < off+4 {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], value)
		w := copy(dst[*n:], tmp[fl.seekTablePos-off:])
		*n += w
		fl.seekTablePos += uint32(w)
		if fl.seekTablePos < off+4 {
			return false
		}
	}
	return true
}

// WriteSeekTable serialises the seek table into dst, resuming from the point
// a previous call stopped at. It returns the number of bytes written to dst
// and the number of bytes still to be produced; the table is complete when
// remaining is 0.
func (fl *FrameLog) WriteSeekTable(dst []byte) (n, remaining int) {
	entrySize := uint32(seekTableEntrySize(fl.checksum))
	tableLen := uint32(fl.SeekTableSize())

	left := func() int { return int(tableLen - fl.seekTablePos) }

	if !fl.stWrite32(dst, &n, skippableFrameMagic|seekableTag, 0) {
		return n, left()
	}
	if !fl.stWrite32(dst, &n, tableLen-skippableHeaderSize, 4) {
		return n, left()
	}

	for fl.seekTableIndex < len(fl.entries) {
		start := uint32(skippableHeaderSize) + entrySize*uint32(fl.seekTableIndex)
		e := &fl.entries[fl.seekTableIndex]

		if !fl.stWrite32(dst, &n, e.CompressedSize, start) {
			return n, left()
		}
		if !fl.stWrite32(dst, &n, e.DecompressedSize, start+4) {
			return n, left()
		}
		if fl.checksum {
			if !fl.stWrite32(dst, &n, e.Checksum, start+8) {
				return n, left()
			}
		}

		fl.seekTableIndex++
	}

	if !fl.stWrite32(dst, &n, uint32(len(fl.entries)), tableLen-seekTableFooterSize) {
		return n, left()
	}

	if fl.seekTablePos < tableLen-4 {
		if n == len(dst) {
			return n, left()
		}
		var sfd byte
		if fl.checksum {
			sfd |= 1 << 7
		}
		dst[n] = sfd
		n++
		fl.seekTablePos++
	}

	if !fl.stWrite32(dst, &n, seekableMagicNumber, tableLen-4) {
		return n, left()
	}

	return n, 0
}
