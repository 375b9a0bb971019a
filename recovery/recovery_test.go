package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinkerator/flashts/codec"
	"github.com/tinkerator/flashts/crc32c"
	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/metastore"
)

const testMetaReserved = 3 * flashio.SectorSize

func newDevice(t *testing.T, segCount uint32) (*flashio.MemDriver, *metastore.Store) {
	t.Helper()
	size := testMetaReserved + segCount*4096
	d, err := flashio.NewMemDriver(size)
	require.NoError(t, err)
	for i := uint32(0); i < segCount; i++ {
		require.NoError(t, d.Erase4K(testMetaReserved+i*4096))
	}
	store := metastore.New(d, metastore.DefaultLayout(0))
	return d, store
}

func writeBlock(t *testing.T, d *flashio.MemDriver, addr uint32, series uint16, t0 uint32, values []int16) {
	t.Helper()
	deltas := make([]uint32, len(values))
	qvals := values
	var payload [codec.PayloadSize]byte
	codec.EncodePayload(payload[:], 8, deltas, qvals)
	hdr := codec.Header{
		Series:     series,
		Count:      uint16(len(values)),
		T0Ms:       t0,
		DtBits:     8,
		Bias:       0,
		Scale:      1,
		PayloadCRC: crc32c.Checksum(payload[:]),
	}
	page1 := make([]byte, codec.PageSize)
	copy(page1, payload[:])
	for i := codec.PayloadSize; i < codec.PageSize; i++ {
		page1[i] = 0xFF
	}
	require.NoError(t, d.Program256(addr, page1))
	raw := hdr.Marshal()
	page2 := make([]byte, codec.PageSize)
	for i := range page2 {
		page2[i] = 0xFF
	}
	copy(page2[codec.PayloadSize:], raw[:])
	require.NoError(t, d.Program256(addr, page2))
}

func TestScanBlankDevice(t *testing.T) {
	d, store := newDevice(t, 4)
	seed, err := Scan(d, store, 4, testMetaReserved)
	require.NoError(t, err)
	require.Equal(t, uint32(1), seed.Head.SegSeqno)
	require.Equal(t, 0, seed.Head.PageIndex)
	require.Equal(t, uint64(0), seed.RecoveryTruncations)
}

func TestScanTailProbeFindsOpenBlocks(t *testing.T) {
	d, store := newDevice(t, 4)
	base := testMetaReserved
	writeBlock(t, d, base, 1, 0, []int16{1, 2, 3})
	writeBlock(t, d, base+codec.PageSize, 1, 30, []int16{4, 5})

	seed, err := Scan(d, store, 4, testMetaReserved)
	require.NoError(t, err)
	require.Equal(t, 2, seed.Head.PageIndex)
	// The erased third page fails verification after two valid pages,
	// which the probe counts as one truncation.
	require.Equal(t, uint64(1), seed.RecoveryTruncations)
	require.True(t, seed.Summaries[0].Valid)
	require.EqualValues(t, 2, seed.Summaries[0].BlockCount)
}

func TestScanTailProbeStopsAtTornHeader(t *testing.T) {
	d, store := newDevice(t, 4)
	base := testMetaReserved
	writeBlock(t, d, base, 2, 0, []int16{1, 2})
	writeBlock(t, d, base+codec.PageSize, 2, 10, []int16{3, 4})

	// Wipe the header of the second page to simulate a torn header write.
	buf := d.Bytes()
	off := base + codec.PageSize + codec.PayloadSize
	for i := uint32(0); i < codec.HeaderSize; i++ {
		buf[off+i] = 0xFF
	}

	seed, err := Scan(d, store, 4, testMetaReserved)
	require.NoError(t, err)
	require.Equal(t, 1, seed.Head.PageIndex)
	require.Equal(t, uint64(1), seed.RecoveryTruncations)
	require.EqualValues(t, 1, seed.Summaries[0].BlockCount)
}

func TestScanHonorsSnapshot(t *testing.T) {
	d, store := newDevice(t, 4)
	writeBlock(t, d, testMetaReserved, 3, 0, []int16{1})

	require.NoError(t, store.SaveSnapshot(metastore.Snapshot{
		EpochID:    0,
		SegSeqHead: 2,
		SegSeqTail: 1,
		HeadAddr:   testMetaReserved + 4096,
	}))

	seed, err := Scan(d, store, 4, testMetaReserved)
	require.NoError(t, err)
	require.Equal(t, testMetaReserved+uint32(4096), seed.Head.Addr)
	require.Equal(t, uint32(2), seed.Head.SegSeqno)
}
