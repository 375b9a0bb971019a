package flashio

import (
	"sync/atomic"
	"time"
)

// SystemClock is a Clock backed by time.Now(), for production use.
type SystemClock struct{}

// MillisNow returns the current wall time in milliseconds since the Unix
// epoch as a full 64-bit value; it is not truncated to 32 bits.
func (SystemClock) MillisNow() uint64 {
	return uint64(time.Now().UnixMilli())
}

// FakeClock is a manually-advanced Clock for deterministic tests.
type FakeClock struct {
	millis atomic.Uint64
}

// NewFakeClock returns a FakeClock starting at the given time.
func NewFakeClock(startMillis uint64) *FakeClock {
	fc := &FakeClock{}
	fc.millis.Store(startMillis)
	return fc
}

func (fc *FakeClock) MillisNow() uint64 { return fc.millis.Load() }

// Advance moves the clock forward by delta milliseconds.
func (fc *FakeClock) Advance(delta uint64) { fc.millis.Add(delta) }
