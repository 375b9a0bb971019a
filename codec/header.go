// Package codec packs and unpacks the on-flash page header and payload
// formats defined by the storage format: a 256 B data page holds a 224 B
// payload at offset 0 and a 32 B header at offset 224, and a 256 B footer
// page closes out a finalized segment.
package codec

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/tinkerator/flashts/crc32c"
)

// Geometry constants, normative per the storage format.
const (
	PageSize     = 256
	PayloadSize  = 224
	HeaderSize   = 32
	PagesPerSeg  = 16
	DataPagesSeg = 15
	SeriesCount  = 256
	BitmapBytes  = SeriesCount / 8

	MagicBlock  uint32 = 0x424C4B31 // 'BLK1'
	MagicFooter uint32 = 0x53464731 // 'SFG1'

	// minScale is the floor scale clamps to when min==max within a block.
	minScale = 1e-9
)

// ErrInvalidHeader is returned when a header fails magic or CRC checks.
var ErrInvalidHeader = errors.New("codec: invalid header")

// ErrInvalidFooter is returned when a footer fails magic or CRC checks.
var ErrInvalidFooter = errors.New("codec: invalid footer")

// rawHeader is the exact 32 B on-flash layout, little-endian.
type rawHeader struct {
	Magic      uint32
	Series     uint16
	Count      uint16
	T0Ms       uint32
	DtBits     uint8
	Pad        [3]byte
	Bias       float32
	Scale      float32
	PayloadCRC uint32
	HeaderCRC  uint32
}

// Header is the decoded, caller-friendly form of a block header.
type Header struct {
	Series     uint16
	Count      uint16
	T0Ms       uint32
	DtBits     uint8
	Bias       float32
	Scale      float32
	PayloadCRC uint32
}

// Marshal packs h into the 32 B on-flash header layout, computing and
// embedding header_crc over bytes 0..27.
func (h Header) Marshal() [HeaderSize]byte {
	raw := rawHeader{
		Magic:      MagicBlock,
		Series:     h.Series,
		Count:      h.Count,
		T0Ms:       h.T0Ms,
		DtBits:     h.DtBits,
		Pad:        [3]byte{0xFF, 0xFF, 0xFF},
		Bias:       h.Bias,
		Scale:      clampScale(h.Scale),
		PayloadCRC: h.PayloadCRC,
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	binary.Write(&buf, binary.LittleEndian, raw.Magic)
	binary.Write(&buf, binary.LittleEndian, raw.Series)
	binary.Write(&buf, binary.LittleEndian, raw.Count)
	binary.Write(&buf, binary.LittleEndian, raw.T0Ms)
	buf.WriteByte(raw.DtBits)
	buf.Write(raw.Pad[:])
	binary.Write(&buf, binary.LittleEndian, raw.Bias)
	binary.Write(&buf, binary.LittleEndian, raw.Scale)
	binary.Write(&buf, binary.LittleEndian, raw.PayloadCRC)

	var out [HeaderSize]byte
	copy(out[:28], buf.Bytes())
	hcrc := crc32c.Checksum(out[:28])
	binary.LittleEndian.PutUint32(out[28:32], hcrc)
	return out
}

// UnmarshalHeader decodes and validates a 32 B header. It fails on magic
// mismatch or header-CRC mismatch without inspecting further fields, per
// the header-last commit protocol: a torn write to the header slot leaves
// this check failing and the page is simply not published.
func UnmarshalHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Wrap(ErrInvalidHeader, "short buffer")
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != MagicBlock {
		return Header{}, ErrInvalidHeader
	}
	wantCRC := binary.LittleEndian.Uint32(b[28:32])
	gotCRC := crc32c.Checksum(b[0:28])
	if wantCRC != gotCRC {
		return Header{}, ErrInvalidHeader
	}
	h := Header{
		Series:     binary.LittleEndian.Uint16(b[4:6]),
		Count:      binary.LittleEndian.Uint16(b[6:8]),
		T0Ms:       binary.LittleEndian.Uint32(b[8:12]),
		DtBits:     b[12],
		Bias:       math.Float32frombits(binary.LittleEndian.Uint32(b[16:20])),
		Scale:      math.Float32frombits(binary.LittleEndian.Uint32(b[20:24])),
		PayloadCRC: binary.LittleEndian.Uint32(b[24:28]),
	}
	return h, nil
}

func clampScale(s float32) float32 {
	if s < minScale && s > -minScale {
		return minScale
	}
	return s
}

// Footer is the decoded form of the 256 B record closing a finalized
// segment.
type Footer struct {
	SegSeqno    uint32
	TMin        uint32
	TMax        uint32
	BlockCount  uint16
	SeriesBits  [BitmapBytes]byte
}

// Marshal packs f into the 256 B footer page layout:
//
//	0   4  magic
//	4   4  seg_seqno
//	8   4  t_min
//	12  4  t_max
//	16  2  block_count
//	18  2  pad (0xFF)
//	20 32  series bitmap
//	52 200 reserved (0xFF)
//	252 4  crc (computed with this field zeroed)
func (f Footer) Marshal() [PageSize]byte {
	var out [PageSize]byte
	for i := range out {
		out[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(out[0:4], MagicFooter)
	binary.LittleEndian.PutUint32(out[4:8], f.SegSeqno)
	binary.LittleEndian.PutUint32(out[8:12], f.TMin)
	binary.LittleEndian.PutUint32(out[12:16], f.TMax)
	binary.LittleEndian.PutUint16(out[16:18], f.BlockCount)
	copy(out[20:20+BitmapBytes], f.SeriesBits[:])
	binary.LittleEndian.PutUint32(out[252:256], 0)
	crc := crc32c.Checksum(out[:])
	binary.LittleEndian.PutUint32(out[252:256], crc)
	return out
}

// UnmarshalFooter decodes and validates a 256 B footer page.
func UnmarshalFooter(b []byte) (Footer, error) {
	if len(b) < PageSize {
		return Footer{}, errors.Wrap(ErrInvalidFooter, "short buffer")
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != MagicFooter {
		return Footer{}, ErrInvalidFooter
	}
	wantCRC := binary.LittleEndian.Uint32(b[252:256])
	scratch := make([]byte, PageSize)
	copy(scratch, b[:PageSize])
	binary.LittleEndian.PutUint32(scratch[252:256], 0)
	gotCRC := crc32c.Checksum(scratch)
	if wantCRC != gotCRC {
		return Footer{}, ErrInvalidFooter
	}
	var f Footer
	f.SegSeqno = binary.LittleEndian.Uint32(b[4:8])
	f.TMin = binary.LittleEndian.Uint32(b[8:12])
	f.TMax = binary.LittleEndian.Uint32(b[12:16])
	f.BlockCount = binary.LittleEndian.Uint16(b[16:18])
	copy(f.SeriesBits[:], b[20:20+BitmapBytes])
	return f, nil
}
