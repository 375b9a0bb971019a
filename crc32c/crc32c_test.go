package crc32c

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReferenceVector(t *testing.T) {
	require.Equal(t, uint32(0xE3069283), Checksum([]byte("123456789")))
}

func TestEmpty(t *testing.T) {
	require.Equal(t, uint32(0), Checksum(nil))
}

func TestUpdateMatchesChecksum(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := Checksum(data)

	got := Update(0xFFFFFFFF, data) ^ 0xFFFFFFFF
	require.Equal(t, want, got)

	// Splitting the input across two Update calls must agree.
	got = Update(0xFFFFFFFF, data[:10])
	got = Update(got, data[10:]) ^ 0xFFFFFFFF
	require.Equal(t, want, got)
}
