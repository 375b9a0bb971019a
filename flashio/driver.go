// Package flashio defines the external flash-medium and clock contracts
// the storage core is built against (§6), plus two reference
// implementations usable for testing and for the CLI's simulated device:
// an in-memory driver and a single-file-backed driver.
package flashio

import "github.com/pkg/errors"

// ErrMisaligned is returned when an address fails the alignment the
// operation requires.
var ErrMisaligned = errors.New("flashio: misaligned address")

// ErrOutOfRange is returned when an access falls outside the device.
var ErrOutOfRange = errors.New("flashio: access out of range")

// Driver is the flash medium contract: aligned reads of arbitrary length,
// 4 KiB erase, and 256 B program with NOR 1->0 AND semantics. Every method
// must reflect prior successful operations before returning.
type Driver interface {
	// Read performs an aligned read of len(dst) bytes starting at addr.
	Read(addr uint32, dst []byte) error

	// Erase4K sets 4096 bytes starting at a 4 KiB-aligned addr to 0xFF.
	Erase4K(addr uint32) error

	// Program256 bitwise-ANDs src into the 256 B page at a 256 B-aligned
	// addr (1 bits may only turn into 0 bits).
	Program256(addr uint32, src []byte) error

	// SizeBytes returns the total addressable size of the device, a
	// multiple of 4096.
	SizeBytes() uint32
}

// Clock supplies a monotonic millisecond time source used only for GC
// quota windowing and head-hint cadence; it is never persisted.
type Clock interface {
	MillisNow() uint64
}

const (
	// SectorSize is the flash erase granularity.
	SectorSize = 4096
	// PageSize is the flash program granularity.
	PageSize = 256
)

func checkProgramAlign(addr uint32, n int) error {
	if addr%PageSize != 0 {
		return errors.Wrapf(ErrMisaligned, "program addr=0x%x not 256B-aligned", addr)
	}
	if n != PageSize {
		return errors.Errorf("flashio: program_256 requires exactly %d bytes, got %d", PageSize, n)
	}
	return nil
}

func checkEraseAlign(addr uint32) error {
	if addr%SectorSize != 0 {
		return errors.Wrapf(ErrMisaligned, "erase addr=0x%x not 4KiB-aligned", addr)
	}
	return nil
}
