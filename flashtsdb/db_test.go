package flashtsdb

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinkerator/flashts/codec"
	"github.com/tinkerator/flashts/flashio"
)

const testMetaReserved = 32768

func openDB(t *testing.T, segCount uint32) (*DB, *flashio.MemDriver) {
	t.Helper()
	size := testMetaReserved + segCount*4096
	d, err := flashio.NewMemDriver(size)
	require.NoError(t, err)
	db, err := Open(Options{Driver: d, MetaReserved: testMetaReserved, Clock: flashio.NewFakeClock(0)})
	require.NoError(t, err)
	return db, d
}

func TestBasicRoundTrip(t *testing.T) {
	db, _ := openDB(t, 8)
	for i := 0; i < 500; i++ {
		require.NoError(t, db.Write(1, uint32(i*10), math.Sin(0.01*float64(i))))
	}
	require.NoError(t, db.Flush())

	it := db.QueryBegin(1, 100, 2200)
	count := 0
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		require.True(t, r.TsMs >= 100 && r.TsMs <= 2200)
		count++
	}
	require.Greater(t, count, 0)

	latest, err := db.QueryLatest(1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, latest.TsMs, uint32(4990))
}

func TestTornHeaderRecovery(t *testing.T) {
	db, d := openDB(t, 8)
	for i := 0; i < 200; i++ {
		require.NoError(t, db.Write(2, uint32(i*5), float64(i)))
	}
	require.NoError(t, db.Flush())

	head := db.ringM.Head()
	headerOff := head.Addr - uint32(codec.PageSize) + uint32(codec.PayloadSize)
	buf := d.Bytes()
	for i := uint32(0); i < codec.HeaderSize; i++ {
		buf[headerOff+i] = 0xFF
	}

	reopened, err := Open(Options{Driver: d, MetaReserved: testMetaReserved, Clock: flashio.NewFakeClock(0)})
	require.NoError(t, err)

	it := reopened.QueryBegin(2, 0, 2000)
	count := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	require.Greater(t, count, 0)
	require.GreaterOrEqual(t, reopened.Info().RecoveryTruncations, uint64(1))
}

func TestTornPayloadCRCIsolation(t *testing.T) {
	db, d := openDB(t, 8)
	for i := 0; i < 300; i++ {
		require.NoError(t, db.Write(3, uint32(i*10), float64(i)))
	}
	require.NoError(t, db.Flush())

	head := db.ringM.Head()
	payloadAddr := head.Addr - uint32(codec.PageSize)
	buf := d.Bytes()
	buf[payloadAddr] ^= 0xFF

	reopened, err := Open(Options{Driver: d, MetaReserved: testMetaReserved, Clock: flashio.NewFakeClock(0)})
	require.NoError(t, err)

	it := reopened.QueryBegin(3, 0, 5000)
	count := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	require.Greater(t, count, 0)
}

func TestSnapshotRoundTripPersistsEpoch(t *testing.T) {
	db, d := openDB(t, 8)
	require.NoError(t, db.Write(1, 100, 1.0))
	require.NoError(t, db.Flush())
	require.NoError(t, db.SnapshotSave())

	reopened, err := Open(Options{Driver: d, MetaReserved: testMetaReserved, Clock: flashio.NewFakeClock(0)})
	require.NoError(t, err)
	require.Equal(t, db.epochID, reopened.Info().EpochID)
}

func TestWriteRejectsOutOfRangeSeries(t *testing.T) {
	db, _ := openDB(t, 4)
	err := db.Write(300, 0, 1.0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOpenRejectsUndersizedWorkspace(t *testing.T) {
	size := testMetaReserved + 4*4096
	d, err := flashio.NewMemDriver(size)
	require.NoError(t, err)
	_, err = Open(Options{Driver: d, MetaReserved: testMetaReserved, WorkspaceBytes: 8})
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestEpochBumpsOnLargeBackwardJump(t *testing.T) {
	db, _ := openDB(t, 4)
	require.NoError(t, db.Write(1, 0xF0000000, 1.0))
	require.NoError(t, db.Write(1, 10, 2.0))
	require.Equal(t, uint32(1), db.Info().EpochID)
}
