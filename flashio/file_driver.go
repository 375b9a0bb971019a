package flashio

import (
	"os"

	"github.com/pkg/errors"
)

// FileDriver simulates QSPI NOR flash over a single host file, in the
// style of zchee-go-qcow2's os.File-backed BlockDriverState: Program256
// performs an explicit read-modify-write bitwise AND since a plain file
// has no native 1->0-only semantics.
type FileDriver struct {
	f    *os.File
	size uint32
}

// OpenFileDriver opens (or creates) path as a simulated flash device of
// size bytes. A freshly created file is blank (0xFF-filled).
func OpenFileDriver(path string, size uint32) (*FileDriver, error) {
	if size == 0 || size%SectorSize != 0 {
		return nil, errors.Errorf("flashio: size %d must be a non-zero multiple of %d", size, SectorSize)
	}
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening flash file %q", path)
	}
	fd := &FileDriver{f: f, size: size}
	if fresh {
		blank := make([]byte, size)
		for i := range blank {
			blank[i] = 0xFF
		}
		if _, err := f.WriteAt(blank, 0); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "formatting fresh flash file")
		}
	}
	return fd, nil
}

// Close closes the backing file.
func (fd *FileDriver) Close() error {
	return fd.f.Close()
}

func (fd *FileDriver) Read(addr uint32, dst []byte) error {
	if uint64(addr)+uint64(len(dst)) > uint64(fd.size) {
		return errors.Wrapf(ErrOutOfRange, "read [0x%x,0x%x)", addr, uint64(addr)+uint64(len(dst)))
	}
	if _, err := fd.f.ReadAt(dst, int64(addr)); err != nil {
		return errors.Wrap(err, "flashio: file read")
	}
	return nil
}

func (fd *FileDriver) Erase4K(addr uint32) error {
	if err := checkEraseAlign(addr); err != nil {
		return err
	}
	if uint64(addr)+SectorSize > uint64(fd.size) {
		return errors.Wrapf(ErrOutOfRange, "erase at 0x%x", addr)
	}
	blank := make([]byte, SectorSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	if _, err := fd.f.WriteAt(blank, int64(addr)); err != nil {
		return errors.Wrap(err, "flashio: file erase")
	}
	return nil
}

func (fd *FileDriver) Program256(addr uint32, src []byte) error {
	if err := checkProgramAlign(addr, len(src)); err != nil {
		return err
	}
	if uint64(addr)+PageSize > uint64(fd.size) {
		return errors.Wrapf(ErrOutOfRange, "program at 0x%x", addr)
	}
	cur := make([]byte, PageSize)
	if _, err := fd.f.ReadAt(cur, int64(addr)); err != nil {
		return errors.Wrap(err, "flashio: file program read-modify")
	}
	for i := 0; i < PageSize; i++ {
		cur[i] &= src[i]
	}
	if _, err := fd.f.WriteAt(cur, int64(addr)); err != nil {
		return errors.Wrap(err, "flashio: file program write")
	}
	return nil
}

func (fd *FileDriver) SizeBytes() uint32 { return fd.size }
