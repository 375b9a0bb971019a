// Package block implements the builder that accumulates
// (series, ts_ms, value) samples in insertion order into fixed-size,
// quantized blocks ready for the ring manager to publish (§4.2).
package block

import (
	"math"

	"github.com/tinkerator/flashts/codec"
	"github.com/tinkerator/flashts/crc32c"
)

// maxStagedSamples bounds the staging arrays: with 8-bit deltas a block
// holds at most 74 samples (74·1 + 74·2 = 222 B of the 224 B budget), and
// with 16-bit deltas at most 56, so the fit test closes a block before
// the staging arrays overflow; it is kept only as the worst-case
// allocation size.
const maxStagedSamples = 74

// Prepared is a closed block ready to hand to the ring manager.
type Prepared struct {
	Header  codec.Header
	Payload [codec.PayloadSize]byte
}

// Builder accumulates samples for a single open block at a time.
type Builder struct {
	open     bool
	series   uint16
	t0Ms     uint32
	lastTs   uint32
	dtBits   uint8
	count    int
	minVal   float64
	maxVal   float64
	deltas   [maxStagedSamples]uint32
	values   [maxStagedSamples]float64

	saturations uint64
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// QuantSaturations returns the number of quantized values this builder
// has saturated to [-32768, 32767] across its lifetime.
func (b *Builder) QuantSaturations() uint64 { return b.saturations }

// Append adds one sample in insertion order. If appending would violate
// the 224 B payload budget, overflow the 16-bit delta range, or change
// series, the currently open block is closed first and returned; the
// caller must publish it via the ring manager before the next Append.
// A nil result signals nothing was closed.
func (b *Builder) Append(series uint16, tsMs uint32, value float64) (closed *Prepared) {
	if b.open && (series != b.series || !b.fits(tsMs)) {
		closed = b.Close()
	}
	if !b.open {
		b.series = series
		b.t0Ms = tsMs
		b.lastTs = tsMs
		b.dtBits = 8
		b.count = 0
		b.minVal = value
		b.maxVal = value
		b.open = true
	}
	delta := tsMs - b.lastTs
	if b.count > 0 {
		if delta > 255 {
			b.dtBits = 16
		}
	} else {
		delta = 0
	}
	b.deltas[b.count] = delta
	b.values[b.count] = value
	if value < b.minVal {
		b.minVal = value
	}
	if value > b.maxVal {
		b.maxVal = value
	}
	b.lastTs = tsMs
	b.count++
	return closed
}

// fits reports whether one more sample at tsMs can still be appended to
// the currently open block without exceeding the payload budget or delta
// width.
func (b *Builder) fits(tsMs uint32) bool {
	delta := tsMs - b.lastTs
	dtBits := b.dtBits
	if delta > 255 {
		dtBits = 16
	}
	if delta > 65535 {
		return false
	}
	newCount := b.count + 1
	bytesNeeded := codec.PayloadBytes(dtBits, newCount)
	return bytesNeeded <= codec.PayloadSize
}

// IsOpen reports whether a block is currently accumulating samples.
func (b *Builder) IsOpen() bool { return b.open }

// Close force-closes the currently open block (if any) and returns it
// fully encoded, ready to publish. Returns nil if nothing is open.
func (b *Builder) Close() *Prepared {
	if !b.open || b.count == 0 {
		b.open = false
		return nil
	}

	bias := float32((b.minVal + b.maxVal) / 2)
	scaleF := (b.maxVal - b.minVal) / 65535
	scale := float32(scaleF)
	if scale > -1e-9 && scale < 1e-9 {
		scale = 1e-9
	}

	qvals := make([]int16, b.count)
	maxDelta := uint32(0)
	for i := 0; i < b.count; i++ {
		q := math.Round((b.values[i] - float64(bias)) / float64(scale))
		if q > 32767 {
			q = 32767
			b.saturations++
		} else if q < -32768 {
			q = -32768
			b.saturations++
		}
		qvals[i] = int16(q)
		if b.deltas[i] > maxDelta {
			maxDelta = b.deltas[i]
		}
	}
	dtBits := uint8(8)
	if maxDelta > 255 {
		dtBits = 16
	}

	var payload [codec.PayloadSize]byte
	codec.EncodePayload(payload[:], dtBits, b.deltas[:b.count], qvals)
	payloadCRC := crc32c.Checksum(payload[:])

	hdr := codec.Header{
		Series:     b.series,
		Count:      uint16(b.count),
		T0Ms:       b.t0Ms,
		DtBits:     dtBits,
		Bias:       bias,
		Scale:      scale,
		PayloadCRC: payloadCRC,
	}

	b.open = false
	b.count = 0
	return &Prepared{Header: hdr, Payload: payload}
}
