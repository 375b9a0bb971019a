package flashio

import "github.com/pkg/errors"

// MemDriver is an in-process flash simulator backed by a byte slice. It is
// the fast path for unit tests that inject power-loss-style corruption by
// mutating Bytes() directly between operations.
type MemDriver struct {
	buf []byte
}

// NewMemDriver allocates a blank (all-0xFF) device of size bytes, which
// must be a non-zero multiple of 4096.
func NewMemDriver(size uint32) (*MemDriver, error) {
	if size == 0 || size%SectorSize != 0 {
		return nil, errors.Errorf("flashio: size %d must be a non-zero multiple of %d", size, SectorSize)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &MemDriver{buf: buf}, nil
}

// Bytes exposes the backing buffer directly, for tests that want to
// inject torn writes or bit flips.
func (m *MemDriver) Bytes() []byte { return m.buf }

func (m *MemDriver) Read(addr uint32, dst []byte) error {
	if uint64(addr)+uint64(len(dst)) > uint64(len(m.buf)) {
		return errors.Wrapf(ErrOutOfRange, "read [0x%x,0x%x)", addr, uint64(addr)+uint64(len(dst)))
	}
	copy(dst, m.buf[addr:addr+uint32(len(dst))])
	return nil
}

func (m *MemDriver) Erase4K(addr uint32) error {
	if err := checkEraseAlign(addr); err != nil {
		return err
	}
	if uint64(addr)+SectorSize > uint64(len(m.buf)) {
		return errors.Wrapf(ErrOutOfRange, "erase at 0x%x", addr)
	}
	for i := uint32(0); i < SectorSize; i++ {
		m.buf[addr+i] = 0xFF
	}
	return nil
}

func (m *MemDriver) Program256(addr uint32, src []byte) error {
	if err := checkProgramAlign(addr, len(src)); err != nil {
		return err
	}
	if uint64(addr)+PageSize > uint64(len(m.buf)) {
		return errors.Wrapf(ErrOutOfRange, "program at 0x%x", addr)
	}
	for i := 0; i < PageSize; i++ {
		m.buf[addr+uint32(i)] &= src[i]
	}
	return nil
}

func (m *MemDriver) SizeBytes() uint32 { return uint32(len(m.buf)) }
