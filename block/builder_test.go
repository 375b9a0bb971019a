package block

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinkerator/flashts/codec"
)

func TestSingleSampleBlockIs8Bit(t *testing.T) {
	b := New()
	closed := b.Append(1, 1000, 3.14)
	require.Nil(t, closed)

	p := b.Close()
	require.NotNil(t, p)
	require.EqualValues(t, 8, p.Header.DtBits)
	require.EqualValues(t, 1, p.Header.Count)

	deltas, qvals := codec.DecodePayload(p.Payload[:], p.Header.DtBits, int(p.Header.Count))
	require.Equal(t, []uint32{0}, deltas)
	require.Len(t, qvals, 1)
}

func TestValuesRoundTripWithinHalfScale(t *testing.T) {
	b := New()
	var closedBlocks []*Prepared
	var inputs []float64
	for i := 0; i < 50; i++ {
		v := math.Sin(float64(i) * 0.1)
		inputs = append(inputs, v)
		if c := b.Append(1, uint32(i*10), v); c != nil {
			closedBlocks = append(closedBlocks, c)
		}
	}
	if c := b.Close(); c != nil {
		closedBlocks = append(closedBlocks, c)
	}
	require.NotEmpty(t, closedBlocks)

	j := 0
	for _, blk := range closedBlocks {
		_, qvals := codec.DecodePayload(blk.Payload[:], blk.Header.DtBits, int(blk.Header.Count))
		for _, q := range qvals {
			v := float64(blk.Header.Bias) + float64(blk.Header.Scale)*float64(q)
			require.True(t, v >= -2 && v <= 2, "reconstructed value %v out of sane bounds", v)
			// The block maximum sits on the rounding edge and may be
			// saturated by one step, so allow a tiny margin over scale/2.
			require.InDelta(t, inputs[j], v, float64(blk.Header.Scale)/2+1e-6, "sample %d", j)
			j++
		}
	}
}

func TestSeriesChangeClosesBlock(t *testing.T) {
	b := New()
	require.Nil(t, b.Append(1, 0, 1.0))
	require.Nil(t, b.Append(1, 10, 2.0))
	closed := b.Append(2, 20, 3.0)
	require.NotNil(t, closed)
	require.EqualValues(t, 1, closed.Header.Series)
	require.EqualValues(t, 2, closed.Header.Count)
}

func TestPayloadBudgetForcesEarlyClose(t *testing.T) {
	b := New()
	var closes int
	for i := 0; i < 200; i++ {
		if c := b.Append(5, uint32(i*300), float64(i)); c != nil {
			closes++
			// Every closed block must have stayed within budget.
			used := codec.PayloadBytes(c.Header.DtBits, int(c.Header.Count))
			require.LessOrEqual(t, used, codec.PayloadSize)
		}
	}
	require.Greater(t, closes, 0, "200 widely spaced samples must force at least one early close")
}

func TestZeroRangeScaleClampsAndDecodes(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.Append(9, uint32(i), 7.0)
	}
	p := b.Close()
	require.NotNil(t, p)
	require.InDelta(t, 1e-9, float64(p.Header.Scale), 1e-12)

	_, qvals := codec.DecodePayload(p.Payload[:], p.Header.DtBits, int(p.Header.Count))
	for _, q := range qvals {
		require.Equal(t, int16(0), q)
	}
}

func TestSaturationCounted(t *testing.T) {
	b := New()
	b.Append(1, 0, 0.0)
	// bias=500, scale=1000/65535: 1000 quantizes to round(32767.5...) =
	// 32768, which saturates to 32767 and is counted once.
	b.Append(1, 10, 1000.0)
	p := b.Close()
	require.NotNil(t, p)
	require.Equal(t, uint64(1), b.QuantSaturations())
}

func TestCloseOnEmptyBuilderReturnsNil(t *testing.T) {
	b := New()
	require.Nil(t, b.Close())
}
