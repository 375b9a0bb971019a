// Package metastore implements the A/B snapshot sectors and the head-hint
// sector that bound recovery time (§4.6): two 4 KiB sectors for snapshots
// and one dedicated sector for the head hint, all living in the metadata
// region. flashtsdb reserves that region at the lowest addresses of the
// flash device, ahead of the segment slots.
package metastore

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tinkerator/flashts/crc32c"
	"github.com/tinkerator/flashts/flashio"
)

const (
	sectorSize = flashio.SectorSize
	pageSize   = flashio.PageSize

	snapshotRecordSize = 24
	hintRecordSize     = 12

	snapshotVersion uint32 = 1
)

// Layout holds the absolute byte offsets of sector A, sector B, and the
// head-hint sector. The metadata region must hold at least three 4 KiB
// sectors.
type Layout struct {
	SectorA  uint32
	SectorB  uint32
	HintAddr uint32
}

// DefaultLayout places sector A, sector B, and the hint sector as the
// first three sectors of the metadata region.
func DefaultLayout(regionBase uint32) Layout {
	return Layout{
		SectorA:  regionBase,
		SectorB:  regionBase + sectorSize,
		HintAddr: regionBase + 2*sectorSize,
	}
}

// Snapshot is the recommended §6 snapshot record: version, epoch, head and
// tail sequence numbers, and the head address, guarded by its own CRC.
type Snapshot struct {
	EpochID    uint32
	SegSeqHead uint32
	SegSeqTail uint32
	HeadAddr   uint32
}

func (s Snapshot) marshal() [snapshotRecordSize]byte {
	var b [snapshotRecordSize]byte
	binary.LittleEndian.PutUint32(b[0:4], snapshotVersion)
	binary.LittleEndian.PutUint32(b[4:8], s.EpochID)
	binary.LittleEndian.PutUint32(b[8:12], s.SegSeqHead)
	binary.LittleEndian.PutUint32(b[12:16], s.SegSeqTail)
	binary.LittleEndian.PutUint32(b[16:20], s.HeadAddr)
	crc := crc32c.Checksum(b[:20])
	binary.LittleEndian.PutUint32(b[20:24], crc)
	return b
}

func unmarshalSnapshot(b []byte) (Snapshot, bool) {
	if len(b) < snapshotRecordSize {
		return Snapshot{}, false
	}
	allFF := true
	for _, c := range b[:snapshotRecordSize] {
		if c != 0xFF {
			allFF = false
			break
		}
	}
	if allFF {
		return Snapshot{}, false
	}
	version := binary.LittleEndian.Uint32(b[0:4])
	wantCRC := binary.LittleEndian.Uint32(b[20:24])
	gotCRC := crc32c.Checksum(b[0:20])
	if version != snapshotVersion || wantCRC != gotCRC {
		return Snapshot{}, false
	}
	s := Snapshot{
		EpochID:    binary.LittleEndian.Uint32(b[4:8]),
		SegSeqHead: binary.LittleEndian.Uint32(b[8:12]),
		SegSeqTail: binary.LittleEndian.Uint32(b[12:16]),
		HeadAddr:   binary.LittleEndian.Uint32(b[16:20]),
	}
	return s, true
}

// HeadHint is the recommended §6 head-hint record: an advisory pointer to
// the writer's head, saved on a cadence to shorten recovery.
type HeadHint struct {
	Addr uint32
	Seq  uint32
}

func (h HeadHint) marshal() [hintRecordSize]byte {
	var b [hintRecordSize]byte
	binary.LittleEndian.PutUint32(b[0:4], h.Addr)
	binary.LittleEndian.PutUint32(b[4:8], h.Seq)
	crc := crc32c.Checksum(b[:8])
	binary.LittleEndian.PutUint32(b[8:12], crc)
	return b
}

func unmarshalHint(b []byte) (HeadHint, bool) {
	if len(b) < hintRecordSize {
		return HeadHint{}, false
	}
	allFF := true
	for _, c := range b[:hintRecordSize] {
		if c != 0xFF {
			allFF = false
			break
		}
	}
	if allFF {
		return HeadHint{}, false
	}
	wantCRC := binary.LittleEndian.Uint32(b[8:12])
	gotCRC := crc32c.Checksum(b[0:8])
	if wantCRC != gotCRC {
		return HeadHint{}, false
	}
	return HeadHint{
		Addr: binary.LittleEndian.Uint32(b[0:4]),
		Seq:  binary.LittleEndian.Uint32(b[4:8]),
	}, true
}

// Store wraps the flash driver with the A/B snapshot and head-hint
// protocol.
type Store struct {
	driver flashio.Driver
	layout Layout
}

// New binds a Store to driver using layout.
func New(driver flashio.Driver, layout Layout) *Store {
	return &Store{driver: driver, layout: layout}
}

// LoadSnapshot reads both A and B sectors and returns the valid one with
// the higher SegSeqHead (the tie-break §3 specifies), or ok=false if
// neither sector holds a valid record.
func (s *Store) LoadSnapshot() (Snapshot, bool, error) {
	a, aOK, err := s.readSnapshotSector(s.layout.SectorA)
	if err != nil {
		return Snapshot{}, false, err
	}
	b, bOK, err := s.readSnapshotSector(s.layout.SectorB)
	if err != nil {
		return Snapshot{}, false, err
	}
	switch {
	case aOK && bOK:
		if a.SegSeqHead >= b.SegSeqHead {
			return a, true, nil
		}
		return b, true, nil
	case aOK:
		return a, true, nil
	case bOK:
		return b, true, nil
	default:
		return Snapshot{}, false, nil
	}
}

func (s *Store) readSnapshotSector(addr uint32) (Snapshot, bool, error) {
	buf := make([]byte, pageSize)
	if err := s.driver.Read(addr, buf); err != nil {
		return Snapshot{}, false, errors.Wrap(err, "metastore: read snapshot sector")
	}
	snap, ok := unmarshalSnapshot(buf)
	return snap, ok, nil
}

// SaveSnapshot erases the target sector (chosen by the parity of
// SegSeqHead: odd picks A, even picks B) and writes the record. Erase
// before program means a torn save leaves the other sector intact and
// CRC-verifiable.
func (s *Store) SaveSnapshot(snap Snapshot) error {
	addr := s.layout.SectorB
	if snap.SegSeqHead%2 == 1 {
		addr = s.layout.SectorA
	}
	if err := s.driver.Erase4K(addr); err != nil {
		return errors.Wrap(err, "metastore: erase snapshot sector")
	}
	page := make([]byte, pageSize)
	for i := range page {
		page[i] = 0xFF
	}
	rec := snap.marshal()
	copy(page[:snapshotRecordSize], rec[:])
	if err := s.driver.Program256(addr, page); err != nil {
		return errors.Wrap(err, "metastore: program snapshot")
	}
	return nil
}

// LoadHeadHint reads the hint sector, returning ok=false if it holds no
// valid record.
func (s *Store) LoadHeadHint() (HeadHint, bool, error) {
	buf := make([]byte, pageSize)
	if err := s.driver.Read(s.layout.HintAddr, buf); err != nil {
		return HeadHint{}, false, errors.Wrap(err, "metastore: read head hint")
	}
	hint, ok := unmarshalHint(buf)
	return hint, ok, nil
}

// SaveHeadHint erases and rewrites the single head-hint sector.
func (s *Store) SaveHeadHint(addr, seq uint32) error {
	if err := s.driver.Erase4K(s.layout.HintAddr); err != nil {
		return errors.Wrap(err, "metastore: erase head hint")
	}
	page := make([]byte, pageSize)
	for i := range page {
		page[i] = 0xFF
	}
	rec := HeadHint{Addr: addr, Seq: seq}.marshal()
	copy(page[:hintRecordSize], rec[:])
	if err := s.driver.Program256(s.layout.HintAddr, page); err != nil {
		return errors.Wrap(err, "metastore: program head hint")
	}
	return nil
}
