// Package header parses the VGM file header into the fields the dispatch
// and psg packages need (PSGSetting plus loop/offset bookkeeping), and
// parses the trailing GD3 metadata tag block. It does not interpret the
// command stream itself — see the dispatch package for that.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/retrotone/vgmcore/psg"
)

// gd3Decoder converts a GD3 block's raw UTF-16LE bytes to a UTF-8 Go string
// in one pass, embedded NUL field separators included.
var gd3Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// ErrBadMagic is returned when the data does not begin with the 4-byte
// "Vgm " magic.
var ErrBadMagic = errors.New("header: missing \"Vgm \" magic")

// ErrTruncated is returned when the data is shorter than the fixed header
// region, or when a GD3 block cannot be read or decoded in full. Parse does
// not check the computed data offset against the data's length.
var ErrTruncated = errors.New("header: truncated VGM header")

// ErrBadGD3Magic is returned when a GD3 block does not begin with "Gd3 ".
var ErrBadGD3Magic = errors.New("header: missing \"Gd3 \" magic")

const minHeaderLen = 0x40

// Header holds the subset of VGM header fields the rest of this module
// consumes.
type Header struct {
	Version      uint32
	TotalSamples uint32
	LoopOffset   uint32 // absolute file offset, 0 if the file does not loop
	LoopSamples  uint32
	DataOffset   uint32 // absolute file offset of the first command byte
	GD3Offset    uint32 // absolute file offset of the GD3 block, 0 if absent
	PSG          psg.Setting
}

// Parse reads a VGM header from r, which must have at least the fixed 0x40
// byte header region available starting at offset 0.
func Parse(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, minHeaderLen)
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, minHeaderLen), buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if string(buf[0:4]) != "Vgm " {
		return nil, ErrBadMagic
	}

	h := &Header{
		Version:      binary.LittleEndian.Uint32(buf[0x08:0x0C]),
		TotalSamples: binary.LittleEndian.Uint32(buf[0x18:0x1C]),
		LoopSamples:  binary.LittleEndian.Uint32(buf[0x20:0x24]),
	}

	loopOffsetField := binary.LittleEndian.Uint32(buf[0x1C:0x20])
	if loopOffsetField != 0 {
		h.LoopOffset = 0x1C + loopOffsetField
	}

	dataOffsetField := binary.LittleEndian.Uint32(buf[0x34:0x38])
	if dataOffsetField != 0 {
		h.DataOffset = 0x34 + dataOffsetField
	} else {
		h.DataOffset = minHeaderLen
	}

	gd3OffsetField := binary.LittleEndian.Uint32(buf[0x14:0x18])
	if gd3OffsetField != 0 {
		h.GD3Offset = 0x14 + gd3OffsetField
	}

	clock := binary.LittleEndian.Uint32(buf[0x0C:0x10])
	var baseFlags uint32
	if clock&(1<<31) != 0 {
		baseFlags |= psg.FlagXNOR
	}
	h.PSG = psg.Setting{
		Clock:    clock &^ (1 << 31) &^ (1 << 30),
		SRWidth:  16,
		Feedback: 0x0009,
		Flags:    baseFlags,
		DualChip: clock&(1<<30) != 0,
	}
	if h.Version >= 0x110 && len(buf) >= 0x2C {
		if fb := binary.LittleEndian.Uint16(buf[0x28:0x2A]); fb != 0 {
			h.PSG.Feedback = fb
		}
		if w := buf[0x2A]; w != 0 {
			h.PSG.SRWidth = int(w)
		}
		flagsByte := buf[0x2B]
		if flagsByte&0x01 != 0 {
			h.PSG.Flags |= psg.FlagFreq0
		}
		if flagsByte&0x02 != 0 {
			h.PSG.Flags |= psg.FlagOutputNeg
		}
		if flagsByte&0x04 != 0 {
			h.PSG.Flags |= psg.FlagGGStereoOff
		}
		if flagsByte&0x08 != 0 {
			h.PSG.Flags |= psg.FlagCKDivOff
		}
	}
	// FlagXNOR (bit 31 of the SN76489 clock field in VGM 1.51+) is surfaced
	// above but never changes Chip's behavior: no corpus file exercises it
	// and the VGM spec documents no emulator that uses it (DESIGN.md open
	// question).

	return h, nil
}

// DataReader returns an io.ReadSeeker over the music-data region of src,
// positioned so that its own byte 0 is h.DataOffset of the file — exactly
// the coordinate system dispatch.New and Loop expect.
func (h *Header) DataReader(src io.ReaderAt, size int64) io.ReadSeeker {
	return io.NewSectionReader(src, int64(h.DataOffset), size-int64(h.DataOffset))
}

// LoopRelative returns the loop offset translated into the DataReader's
// coordinate system (loop_offset - data_offset), or 0 if the header does not
// loop.
func (h *Header) LoopRelative() uint32 {
	if h.LoopOffset == 0 || h.LoopSamples == 0 {
		return 0
	}
	return h.LoopOffset - h.DataOffset
}

// GD3 holds the decoded fields of a GD3 v1.00 metadata tag: each is a pair
// of NUL-terminated UTF-16LE strings (English name first, then the
// original-language name) except ReleaseDate, Converter and Notes.
type GD3 struct {
	TrackNameEN, TrackNameJP   string
	GameNameEN, GameNameJP     string
	SystemNameEN, SystemNameJP string
	AuthorEN, AuthorJP         string
	ReleaseDate                string
	Converter                  string
	Notes                      string
}

const gd3FieldCount = 11

// ParseGD3 reads the GD3 tag block at the given absolute file offset. A
// zero offset (no GD3 block present) is the caller's responsibility to
// avoid calling this with.
func ParseGD3(r io.ReaderAt, offset uint32) (*GD3, error) {
	magic := make([]byte, 12)
	if _, err := r.ReadAt(magic, int64(offset)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if string(magic[0:4]) != "Gd3 " {
		return nil, ErrBadGD3Magic
	}
	length := binary.LittleEndian.Uint32(magic[8:12])

	body := make([]byte, length)
	if _, err := r.ReadAt(body, int64(offset)+12); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	decoded, err := gd3Decoder.Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	// Each of the 11 fields is NUL-terminated, including the last; the
	// trailing empty element from that final terminator is never read (only
	// fields[0..10] are used), and a block with fewer fields is padded with
	// empty strings below.
	fields := strings.Split(string(decoded), "\x00")
	for len(fields) < gd3FieldCount {
		fields = append(fields, "")
	}

	return &GD3{
		TrackNameEN:  fields[0],
		TrackNameJP:  fields[1],
		GameNameEN:   fields[2],
		GameNameJP:   fields[3],
		SystemNameEN: fields[4],
		SystemNameJP: fields[5],
		AuthorEN:     fields[6],
		AuthorJP:     fields[7],
		ReleaseDate:  fields[8],
		Converter:    fields[9],
		Notes:        fields[10],
	}, nil
}
