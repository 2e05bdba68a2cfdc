package zseek

/*
## Format

The compressed file is a sequence of independent codec frames (Zstandard or
LZ4 frame format) followed by one final skippable frame holding the seek
table:

|`Skippable_Magic_Number`|`Frame_Size`|`[Seek_Table_Entries]`|`Seek_Table_Footer`|
|------------------------|------------|----------------------|-------------------|
| 4 bytes                | 4 bytes    | 8-12 bytes each      | 9 bytes           |

__`Skippable_Magic_Number`__

Value : 0x184D2A5E. This is for compatibility with [Zstandard skippable
frames]: a plain zstd decoder skips over the seek table without knowing
about it.

__`Frame_Size`__

The total size of the skippable frame, not including the
`Skippable_Magic_Number` or `Frame_Size` fields themselves.

Each seek table entry describes one random-access granule: a group of one or
more consecutive codec frames written as a unit. All integers are
little-endian.

[Zstandard skippable frames]: https://github.com/facebook/zstd/blob/release/doc/zstd_compression_format.md#skippable-frames

https://github.com/facebook/zstd/blob/dev/contrib/seekable_format/zstd_seekable_compression_format.md
*/

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap/zapcore"
)

const (
	skippableFrameMagic = 0x184D2A50
	seekableMagicNumber = 0x8F92EAB1

	seekableTag = 0xE

	skippableMagicNumberFieldSize = 4
	frameSizeFieldSize            = 4
	skippableHeaderSize           = skippableMagicNumberFieldSize + frameSizeFieldSize

	seekTableFooterSize = 9

	// seekTableMaxEntries bounds the entry count of a well-formed seek table.
	seekTableMaxEntries = 0x8000000

	// Magic numbers of the two supported codec frame formats, used to probe
	// the file on reader open.
	zstdFrameMagic = 0xFD2FB528
	lz4FrameMagic  = 0x184D2204
)

var (
	// ErrBadMagic reports a magic number mismatch in the seek table.
	ErrBadMagic = errors.New("seek table magic mismatch")
	// ErrReservedBits reports that reserved descriptor bits are set.
	ErrReservedBits = errors.New("seek table descriptor reserved bits set")
	// ErrLengthMismatch reports a Frame_Size field disagreeing with the footer.
	ErrLengthMismatch = errors.New("seek table length mismatch")
	// ErrTooManyEntries reports a seek table exceeding the format's entry bound.
	ErrTooManyEntries = errors.New("too many seek table entries")
	// ErrUnrecognizedFormat reports a file that starts with neither a
	// Zstandard nor an LZ4 frame.
	ErrUnrecognizedFormat = errors.New("unrecognized file format")
	// ErrClosed reports an operation on a closed writer or reader.
	ErrClosed = errors.New("handle is closed")
)

/*
SeekTableDescriptor is a Go representation of a bitfield.

| Bit number | Field name      |
| ---------- | ----------      |
| 7          | `Checksum_Flag` |
| 6-2        | `Reserved_Bits` |
| 1-0        | `Unused_Bits`   |

The reserved bits must be zero; a parser rejects tables that set them so the
format can evolve without silent misreads.
*/
type SeekTableDescriptor struct {
	// If the checksum flag is set, each of the seek table entries contains a
	// 4 byte checksum of the uncompressed data contained in its granule.
	ChecksumFlag bool
}

/*
SeekTableFooter is the footer of a seekable stream.

|`Number_Of_Frames`|`Seek_Table_Descriptor`|`Seekable_Magic_Number`|
|------------------|-----------------------|-----------------------|
| 4 bytes          | 1 byte                | 4 bytes               |
*/
type SeekTableFooter struct {
	// The number of seek table entries, not counting the seek table frame
	// itself.
	NumberOfFrames uint32
	// A bitfield describing the format of the seek table.
	SeekTableDescriptor SeekTableDescriptor
	// Value : 0x8F92EAB1.
	SeekableMagicNumber uint32
}

func (f *SeekTableFooter) marshalBinaryInline(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], f.NumberOfFrames)
	dst[4] = 0
	if f.SeekTableDescriptor.ChecksumFlag {
		dst[4] |= 1 << 7
	}
	binary.LittleEndian.PutUint32(dst[5:], seekableMagicNumber)
}

func (f *SeekTableFooter) MarshalBinary() ([]byte, error) {
	dst := make([]byte, seekTableFooterSize)
	f.marshalBinaryInline(dst)
	return dst, nil
}

func (f *SeekTableFooter) UnmarshalBinary(p []byte) error {
	if len(p) != seekTableFooterSize {
		return fmt.Errorf("footer length mismatch %d vs %d", len(p), seekTableFooterSize)
	}
	f.NumberOfFrames = binary.LittleEndian.Uint32(p[0:])
	if p[4]&0x7c != 0 {
		return fmt.Errorf("%w: descriptor %#02x", ErrReservedBits, p[4])
	}
	f.SeekTableDescriptor.ChecksumFlag = (p[4] & (1 << 7)) > 0
	f.SeekableMagicNumber = binary.LittleEndian.Uint32(p[5:])
	if f.SeekableMagicNumber != seekableMagicNumber {
		return fmt.Errorf("%w: footer magic %#08x vs %#08x",
			ErrBadMagic, f.SeekableMagicNumber, uint32(seekableMagicNumber))
	}
	return nil
}

func (f *SeekTableFooter) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("NumberOfFrames", f.NumberOfFrames)
	enc.AddBool("ChecksumFlag", f.SeekTableDescriptor.ChecksumFlag)
	return nil
}

/*
SeekTableEntry is an element of the seek table describing one random-access
granule of the stream.

|`Compressed_Size`|`Decompressed_Size`|`[Checksum]`|
|-----------------|-------------------|------------|
| 4 bytes         | 4 bytes           | 4 bytes    |

The checksum field is present only when `Checksum_Flag` is set in the
`Seek_Table_Descriptor`.
*/
type SeekTableEntry struct {
	// The compressed size of the granule. The cumulative sum of the
	// `Compressed_Size` fields of entries `0` to `i` gives the offset in the
	// compressed file of entry `i+1`.
	CompressedSize uint32
	// The size of the decompressed data contained in the granule.
	DecompressedSize uint32
	// The least significant 32 bits of the XXH64 digest of the uncompressed
	// data, stored little-endian. Zero when checksums are disabled.
	Checksum uint32
}

func (e *SeekTableEntry) marshalBinaryInline(dst []byte, checksum bool) {
	binary.LittleEndian.PutUint32(dst[0:], e.CompressedSize)
	binary.LittleEndian.PutUint32(dst[4:], e.DecompressedSize)
	if checksum {
		binary.LittleEndian.PutUint32(dst[8:], e.Checksum)
	}
}

func (e *SeekTableEntry) MarshalBinary() ([]byte, error) {
	dst := make([]byte, seekTableEntrySize(true))
	e.marshalBinaryInline(dst, true)
	return dst, nil
}

func (e *SeekTableEntry) UnmarshalBinary(p []byte) error {
	if len(p) < seekTableEntrySize(false) {
		return fmt.Errorf("entry length mismatch %d vs %d", len(p), seekTableEntrySize(false))
	}
	e.CompressedSize = binary.LittleEndian.Uint32(p[0:])
	e.DecompressedSize = binary.LittleEndian.Uint32(p[4:])
	if len(p) >= seekTableEntrySize(true) {
		e.Checksum = binary.LittleEndian.Uint32(p[8:])
	}
	return nil
}

func (e *SeekTableEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("CompressedSize", e.CompressedSize)
	enc.AddUint32("DecompressedSize", e.DecompressedSize)
	enc.AddUint32("Checksum", e.Checksum)
	return nil
}

// seekTableEntrySize is the on-disk size of one entry.
func seekTableEntrySize(checksum bool) int {
	if checksum {
		return 12
	}
	return 8
}

/*
CreateSkippableFrame returns a payload wrapped as a skippable frame.

| `Magic_Number` | `Frame_Size` | `User_Data` |
|:--------------:|:------------:|:-----------:|
|   4 bytes      |  4 bytes     |   n bytes   |

Skippable frames allow the insertion of user-defined metadata into a flow of
concatenated frames. Any magic from 0x184D2A50 to 0x184D2A5F identifies a
skippable frame; the low nibble is the caller's tag.
*/
func CreateSkippableFrame(tag uint32, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	if tag > 0xf {
		return nil, fmt.Errorf("requested tag (%d) > 0xf", tag)
	}

	if len(payload) > math.MaxUint32 {
		return nil, fmt.Errorf("requested skippable frame size (%d) > max uint32", len(payload))
	}

	dst := make([]byte, skippableHeaderSize, len(payload)+skippableHeaderSize)
	binary.LittleEndian.PutUint32(dst[0:], skippableFrameMagic+tag)
	binary.LittleEndian.PutUint32(dst[4:], uint32(len(payload)))
	return append(dst, payload...), nil
}
