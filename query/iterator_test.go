package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinkerator/flashts/codec"
	"github.com/tinkerator/flashts/crc32c"
	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/ring"
)

const testMetaReserved = 3 * flashio.SectorSize

func newFilledDevice(t *testing.T, segCount uint32) (*flashio.MemDriver, []ring.Summary) {
	t.Helper()
	size := testMetaReserved + segCount*4096
	d, err := flashio.NewMemDriver(size)
	require.NoError(t, err)
	summaries := make([]ring.Summary, segCount)
	for i := uint32(0); i < segCount; i++ {
		addr := testMetaReserved + i*4096
		require.NoError(t, d.Erase4K(addr))
		summaries[i] = ring.Blank(addr)
	}
	return d, summaries
}

func putBlock(t *testing.T, d *flashio.MemDriver, summaries []ring.Summary, segIdx uint32, pageIdx int, segSeqno uint32, series uint16, t0 uint32, qvals []int16) {
	t.Helper()
	addr := summaries[segIdx].AddrFirst + uint32(pageIdx)*codec.PageSize
	// Samples 10 ms apart: each delta is relative to the previous sample.
	deltas := make([]uint32, len(qvals))
	for i := 1; i < len(deltas); i++ {
		deltas[i] = 10
	}
	var payload [codec.PayloadSize]byte
	codec.EncodePayload(payload[:], 8, deltas, qvals)
	hdr := codec.Header{
		Series:     series,
		Count:      uint16(len(qvals)),
		T0Ms:       t0,
		DtBits:     8,
		Bias:       0,
		Scale:      1,
		PayloadCRC: crc32c.Checksum(payload[:]),
	}
	page := make([]byte, codec.PageSize)
	copy(page, payload[:])
	for i := codec.PayloadSize; i < codec.PageSize; i++ {
		page[i] = 0xFF
	}
	require.NoError(t, d.Program256(addr, page))
	raw := hdr.Marshal()
	page2 := make([]byte, codec.PageSize)
	for i := range page2 {
		page2[i] = 0xFF
	}
	copy(page2[codec.PayloadSize:], raw[:])
	require.NoError(t, d.Program256(addr, page2))

	sum := &summaries[segIdx]
	sum.SegSeqno = segSeqno
	sum.Valid = true
	sum.SetSeriesBit(series)
	lastTs := t0 + uint32(len(deltas)-1)*10
	if sum.BlockCount == 0 {
		sum.TMin = t0
		sum.TMax = lastTs
	} else {
		if t0 < sum.TMin {
			sum.TMin = t0
		}
		if lastTs > sum.TMax {
			sum.TMax = lastTs
		}
	}
	sum.BlockCount++
}

func TestIteratorFindsRowsWithinRange(t *testing.T) {
	d, summaries := newFilledDevice(t, 2)
	putBlock(t, d, summaries, 0, 0, 1, 7, 100, []int16{1, 2, 3})
	putBlock(t, d, summaries, 0, 1, 1, 7, 200, []int16{4, 5})

	it := Begin(d, summaries, 7, 0, 1000, nil)
	var got []Row
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, r)
	}
	require.Len(t, got, 5)
	require.Equal(t, uint32(100), got[0].TsMs)
}

func TestIteratorSkipsOtherSeries(t *testing.T) {
	d, summaries := newFilledDevice(t, 2)
	putBlock(t, d, summaries, 0, 0, 1, 7, 100, []int16{1, 2})
	putBlock(t, d, summaries, 0, 1, 1, 9, 100, []int16{3, 4})

	it := Begin(d, summaries, 9, 0, 1000, nil)
	var got []Row
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, r)
	}
	require.Len(t, got, 2)
}

func TestIteratorPrunesSegmentsOutsideRange(t *testing.T) {
	d, summaries := newFilledDevice(t, 2)
	putBlock(t, d, summaries, 0, 0, 1, 7, 100, []int16{1})
	putBlock(t, d, summaries, 1, 0, 2, 7, 5000, []int16{2})

	it := Begin(d, summaries, 7, 0, 500, nil)
	r, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, uint32(100), r.TsMs)
	_, ok = it.Next()
	require.False(t, ok)
}

func TestIteratorAbandonsSegmentOnCRCErrorAndReportsIt(t *testing.T) {
	d, summaries := newFilledDevice(t, 1)
	putBlock(t, d, summaries, 0, 0, 1, 7, 100, []int16{1, 2})
	putBlock(t, d, summaries, 0, 1, 1, 7, 200, []int16{3})

	// Corrupt the payload of the first page so its CRC fails.
	addr := summaries[0].AddrFirst
	d.Bytes()[addr] ^= 0xFF

	var crcErrs int
	it := Begin(d, summaries, 7, 0, 1000, func() { crcErrs++ })
	_, ok := it.Next()
	require.False(t, ok)
	require.Equal(t, 1, crcErrs)
}

func TestLatestReturnsLastRowOfMostRecentSegment(t *testing.T) {
	d, summaries := newFilledDevice(t, 2)
	putBlock(t, d, summaries, 0, 0, 1, 7, 100, []int16{1, 2, 3})
	putBlock(t, d, summaries, 1, 0, 2, 7, 5000, []int16{9, 10})

	row, err := Latest(d, summaries, 7)
	require.NoError(t, err)
	require.Equal(t, uint32(5010), row.TsMs)
	require.InDelta(t, 10.0, row.Value, 1e-9)
}

func TestLatestReturnsErrNoDataForUnknownSeries(t *testing.T) {
	d, summaries := newFilledDevice(t, 1)
	putBlock(t, d, summaries, 0, 0, 1, 7, 100, []int16{1})

	_, err := Latest(d, summaries, 42)
	require.ErrorIs(t, err, ErrNoData)
}
