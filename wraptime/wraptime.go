// Package wraptime implements the wrap-aware 32-bit millisecond time
// arithmetic used throughout the storage core (§9 Design Notes): segment
// time windows, the GC free-segment clock, and range-query overlap tests
// all compare timestamps that may have wrapped past 2^32 ms (~49.7 days).
package wraptime

// Before implements le(a,b) := ((b-a) mod 2^32) < 2^31, i.e. "a is not
// after b" under wraparound. It is reflexive: Before(a, a) is true.
func Before(a, b uint32) bool {
	return uint32(b-a) < 0x80000000
}

// InRange implements in_range(t, t0, t1) from §9: containment of t within
// the (possibly wrapping) closed interval [t0, t1].
func InRange(t, t0, t1 uint32) bool {
	if Before(t0, t1) {
		return Before(t0, t) && Before(t, t1)
	}
	return Before(t0, t) || Before(t, t1)
}

// Overlaps reports whether the two closed, possibly-wrapping intervals
// [aLo,aHi] and [bLo,bHi] share at least one point, per §4.5's segment
// pruning rule: overlap holds if bLo or bHi lies within [aLo,aHi], or aLo
// lies within [bLo,bHi].
func Overlaps(aLo, aHi, bLo, bHi uint32) bool {
	return InRange(bLo, aLo, aHi) || InRange(bHi, aLo, aHi) || InRange(aLo, bLo, bHi)
}
