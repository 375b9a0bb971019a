package codec

import "encoding/binary"

// EncodePayload writes count deltas (width dt_bits, little-endian) followed
// by count signed 16-bit quantized values (little-endian, two's complement)
// into dst, a PayloadSize-byte buffer. Remaining bytes are filled with
// 0xFF.
func EncodePayload(dst []byte, dtBits uint8, deltas []uint32, qvals []int16) {
	for i := range dst {
		dst[i] = 0xFF
	}
	count := len(deltas)
	off := 0
	switch dtBits {
	case 8:
		for i := 0; i < count; i++ {
			dst[off] = byte(deltas[i])
			off++
		}
	default: // 16
		for i := 0; i < count; i++ {
			binary.LittleEndian.PutUint16(dst[off:off+2], uint16(deltas[i]))
			off += 2
		}
	}
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint16(dst[off:off+2], uint16(qvals[i]))
		off += 2
	}
}

// DecodePayload is the inverse of EncodePayload: caller supplies count and
// dt_bits taken from the block's header.
func DecodePayload(payload []byte, dtBits uint8, count int) (deltas []uint32, qvals []int16) {
	deltas = make([]uint32, count)
	qvals = make([]int16, count)
	off := 0
	switch dtBits {
	case 8:
		for i := 0; i < count; i++ {
			deltas[i] = uint32(payload[off])
			off++
		}
	default: // 16
		for i := 0; i < count; i++ {
			deltas[i] = uint32(binary.LittleEndian.Uint16(payload[off : off+2]))
			off += 2
		}
	}
	for i := 0; i < count; i++ {
		qvals[i] = int16(binary.LittleEndian.Uint16(payload[off : off+2]))
		off += 2
	}
	return deltas, qvals
}

// DecodeDeltasOnly decodes just the delta lane, for callers (the ring
// manager, during publish and finalize) that need t_min/t_max without
// paying to decode the qval lane.
func DecodeDeltasOnly(payload []byte, dtBits uint8, count int) []uint32 {
	deltas := make([]uint32, count)
	off := 0
	switch dtBits {
	case 8:
		for i := 0; i < count; i++ {
			deltas[i] = uint32(payload[off])
			off++
		}
	default: // 16
		for i := 0; i < count; i++ {
			deltas[i] = uint32(binary.LittleEndian.Uint16(payload[off : off+2]))
			off += 2
		}
	}
	return deltas
}

// PayloadBytes returns the number of payload bytes a block of count
// samples at the given delta width occupies.
func PayloadBytes(dtBits uint8, count int) int {
	deltaWidth := 1
	if dtBits == 16 {
		deltaWidth = 2
	}
	return count*deltaWidth + count*2
}
