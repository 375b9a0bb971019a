package ring

import "github.com/tinkerator/flashts/codec"

// Summary is the in-RAM zone-map entry for one physical segment slot,
// rebuilt at open from footers (or maintained live during writes) and
// consulted by GC and the range iterator to avoid reading flash.
type Summary struct {
	AddrFirst  uint32
	SegSeqno   uint32
	TMin       uint32
	TMax       uint32
	BlockCount uint16
	SeriesBits [codec.BitmapBytes]byte
	Valid      bool
}

// Blank returns an empty summary for addr, ready to accumulate writes
// into a freshly erased segment.
func Blank(addr uint32) Summary {
	return Summary{AddrFirst: addr, TMin: 0xFFFFFFFF, TMax: 0, Valid: false}
}

// SetSeriesBit marks series as present in this segment.
func (s *Summary) SetSeriesBit(series uint16) {
	s.SeriesBits[series/8] |= 1 << (series % 8)
}

// HasSeries reports whether series is marked present.
func (s *Summary) HasSeries(series uint16) bool {
	return s.SeriesBits[series/8]&(1<<(series%8)) != 0
}
