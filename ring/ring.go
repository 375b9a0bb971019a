// Package ring owns the ring head, the in-RAM zone map, and the two flash
// primitives it exercises through flashio.Driver: publish, finalize and
// rotate, and garbage collection of the oldest segment.
package ring

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tinkerator/flashts/codec"
	"github.com/tinkerator/flashts/crc32c"
	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/wraptime"
)

// ErrBusy is returned by PublishOneBlock when the GC erase quota for the
// current window is exhausted and the caller asked for non-blocking
// behavior.
var ErrBusy = errors.New("ring: busy, gc quota exhausted")

const (
	segmentSize    = codec.PagesPerSeg * codec.PageSize
	gcQuotaPerErase = 2
	gcWindowMillis  = 1000
	hintBlockCadence = 64
	hintMillisCadence = 2000
	freeWarnPercent  = 10
	freeBusyPercent  = 5
)

// Head points at the next free page to program.
type Head struct {
	Addr      uint32
	PageIndex int
	SegSeqno  uint32
}

// Seed is the initial state recovery hands to NewManager: the head
// position, tail sequence number, and per-segment zone map it computed by
// scanning flash.
type Seed struct {
	Head                Head
	TailSeqno           uint32
	Summaries           []Summary
	RecoveryTruncations uint64
}

// HintSaver is invoked after a publish when the head-hint save cadence
// elapses; the metadata store supplies the implementation.
type HintSaver func(addr uint32, seq uint32) error

// Manager is the single writer-owned ring state for one open database.
type Manager struct {
	driver       flashio.Driver
	clock        flashio.Clock
	log          *zap.SugaredLogger
	metaReserved uint32
	segCount     uint32
	hintSaver    HintSaver

	head      Head
	tailSeqno uint32
	summaries []Summary

	blocksSinceHint  int
	lastHintMillis   uint64
	gcWarnCount      uint64
	gcBusyCount      uint64
	eraseWindowStart uint64
	erasesInWindow   int
	blocksWritten    uint64
}

// Options configures a new Manager.
type Options struct {
	Driver       flashio.Driver
	Clock        flashio.Clock
	Logger       *zap.SugaredLogger
	MetaReserved uint32
	SegCount     uint32
	HintSaver    HintSaver
	Seed         Seed
}

// NewManager builds a Manager from recovery's seeded state.
func NewManager(opt Options) *Manager {
	log := opt.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Manager{
		driver:       opt.Driver,
		clock:        opt.Clock,
		log:          log,
		metaReserved: opt.MetaReserved,
		segCount:     opt.SegCount,
		hintSaver:    opt.HintSaver,
		head:         opt.Seed.Head,
		tailSeqno:    opt.Seed.TailSeqno,
		summaries:    opt.Seed.Summaries,
	}
	if m.summaries == nil {
		m.summaries = make([]Summary, opt.SegCount)
		for i := range m.summaries {
			m.summaries[i] = Blank(m.SegAddr(uint32(i)))
		}
	}
	m.lastHintMillis = m.clock.MillisNow()
	m.eraseWindowStart = m.lastHintMillis
	return m
}

// SegAddr returns the base address of segment slot idx.
func (m *Manager) SegAddr(idx uint32) uint32 {
	return m.metaReserved + idx*segmentSize
}

// SegCount returns the number of physical segment slots.
func (m *Manager) SegCount() uint32 { return m.segCount }

// Head returns the current ring head.
func (m *Manager) Head() Head { return m.head }

// TailSeqno returns the oldest segment sequence number the ring still
// claims to retain (advisory bookkeeping, reported via info()).
func (m *Manager) TailSeqno() uint32 { return m.tailSeqno }

// Summaries returns the live zone map. Callers must not mutate it; the
// iterator and GC only read it.
func (m *Manager) Summaries() []Summary { return m.summaries }

// Driver exposes the underlying flash driver for components (recovery,
// the range iterator) that must issue their own reads.
func (m *Manager) Driver() flashio.Driver { return m.driver }

// Stats bundles the counters info() reports.
type Stats struct {
	BlocksWritten uint64
	GCWarn        uint64
	GCBusy        uint64
}

// Stats returns the ring's write/GC counters.
func (m *Manager) Stats() Stats {
	return Stats{BlocksWritten: m.blocksWritten, GCWarn: m.gcWarnCount, GCBusy: m.gcBusyCount}
}

func (m *Manager) headSegIdx() uint32 {
	return (m.head.Addr - m.metaReserved) / segmentSize
}

// PublishOneBlock programs payload and header using the header-last
// commit protocol and advances the head, finalizing and rotating the
// segment when its 15 data pages fill. It runs GC's reclaim-if-needed
// first, honoring blocking.
func (m *Manager) PublishOneBlock(h codec.Header, payload []byte, blocking bool) error {
	if err := m.reclaimIfNeeded(blocking); err != nil {
		return err
	}

	addr := m.head.Addr

	page1 := make([]byte, codec.PageSize)
	copy(page1[:codec.PayloadSize], payload)
	for i := codec.PayloadSize; i < codec.PageSize; i++ {
		page1[i] = 0xFF
	}
	if err := m.driver.Program256(addr, page1); err != nil {
		return errors.Wrap(err, "ring: program payload")
	}

	hdrBytes := h.Marshal()
	page2 := make([]byte, codec.PageSize)
	for i := 0; i < codec.PayloadSize; i++ {
		page2[i] = 0xFF
	}
	copy(page2[codec.PayloadSize:], hdrBytes[:])
	if err := m.driver.Program256(addr, page2); err != nil {
		return errors.Wrap(err, "ring: program header")
	}

	segIdx := m.headSegIdx()
	sum := &m.summaries[segIdx]
	deltas := codec.DecodeDeltasOnly(payload, h.DtBits, int(h.Count))
	tmax := h.T0Ms
	var acc uint32
	for _, d := range deltas {
		acc += d
		t := h.T0Ms + acc
		if !sum.Valid || sum.BlockCount == 0 || wraptime.Before(tmax, t) {
			tmax = t
		}
	}
	if !sum.Valid || sum.BlockCount == 0 {
		sum.TMin = h.T0Ms
		sum.TMax = tmax
	} else {
		if wraptime.Before(h.T0Ms, sum.TMin) {
			sum.TMin = h.T0Ms
		}
		if wraptime.Before(sum.TMax, tmax) {
			sum.TMax = tmax
		}
	}
	sum.BlockCount++
	sum.SetSeriesBit(h.Series)
	sum.Valid = true
	sum.SegSeqno = m.head.SegSeqno
	sum.AddrFirst = m.SegAddr(segIdx)

	m.head.PageIndex++
	m.head.Addr += codec.PageSize
	m.blocksWritten++
	m.blocksSinceHint++
	m.log.Debugw("published block", "series", h.Series, "count", h.Count, "addr", addr)

	if m.hintSaver != nil {
		now := m.clock.MillisNow()
		if m.blocksSinceHint >= hintBlockCadence || now-m.lastHintMillis >= hintMillisCadence {
			if err := m.hintSaver(m.head.Addr, m.head.SegSeqno); err == nil {
				m.blocksSinceHint = 0
				m.lastHintMillis = now
			} else {
				m.log.Warnw("head-hint save failed", "err", err)
			}
		}
	}

	if m.head.PageIndex == codec.DataPagesSeg {
		if err := m.finalizeAndRotate(); err != nil {
			return err
		}
	}
	return nil
}

// finalizeAndRotate scans the current segment's data pages, writes its
// footer, advances the head to the next slot, and erases that slot so it
// is immediately writable.
func (m *Manager) finalizeAndRotate() error {
	curIdx := m.headSegIdx()
	base := m.SegAddr(curIdx)

	footer := codec.Footer{TMin: 0xFFFFFFFF}
	page := make([]byte, codec.PageSize)
	for p := 0; p < codec.DataPagesSeg; p++ {
		if err := m.driver.Read(base+uint32(p)*codec.PageSize, page); err != nil {
			return errors.Wrap(err, "ring: finalize read page")
		}
		hdr, err := codec.UnmarshalHeader(page[codec.PayloadSize:])
		if err != nil {
			continue
		}
		if crc32c.Checksum(page[:codec.PayloadSize]) != hdr.PayloadCRC {
			continue
		}
		deltas := codec.DecodeDeltasOnly(page[:codec.PayloadSize], hdr.DtBits, int(hdr.Count))
		tmax := hdr.T0Ms
		var acc uint32
		for _, d := range deltas {
			acc += d
			t := hdr.T0Ms + acc
			if wraptime.Before(tmax, t) {
				tmax = t
			}
		}
		if footer.BlockCount == 0 || wraptime.Before(hdr.T0Ms, footer.TMin) {
			footer.TMin = hdr.T0Ms
		}
		if footer.BlockCount == 0 || wraptime.Before(footer.TMax, tmax) {
			footer.TMax = tmax
		}
		footer.BlockCount++
		footer.SeriesBits[hdr.Series/8] |= 1 << (hdr.Series % 8)
	}
	footer.SegSeqno = m.head.SegSeqno

	raw := footer.Marshal()
	footerAddr := base + uint32(codec.DataPagesSeg)*codec.PageSize
	if err := m.driver.Program256(footerAddr, raw[:]); err != nil {
		return errors.Wrap(err, "ring: program footer")
	}

	m.summaries[curIdx] = Summary{
		AddrFirst:  base,
		SegSeqno:   footer.SegSeqno,
		TMin:       footer.TMin,
		TMax:       footer.TMax,
		BlockCount: footer.BlockCount,
		SeriesBits: footer.SeriesBits,
		Valid:      footer.BlockCount > 0,
	}

	nextIdx := (curIdx + 1) % m.segCount
	nextBase := m.SegAddr(nextIdx)
	if err := m.driver.Erase4K(nextBase); err != nil {
		return errors.Wrap(err, "ring: erase rollover segment")
	}

	m.head.SegSeqno++
	m.head.PageIndex = 0
	m.head.Addr = nextBase
	m.summaries[nextIdx] = Blank(nextBase)

	if m.segCount > 0 && m.head.SegSeqno >= m.segCount {
		m.tailSeqno = m.head.SegSeqno - (m.segCount - 1)
	}
	m.log.Infow("segment finalized and rotated", "finalized_seq", footer.SegSeqno, "next_slot", nextIdx)
	return nil
}

// reclaimIfNeeded implements §4.3's GC: maintain at least a 10% free
// margin of segment slots, reclaiming the oldest occupied segment under a
// 2-erases-per-1000ms quota.
func (m *Manager) reclaimIfNeeded(blocking bool) error {
	segCount := int(m.segCount)
	if segCount == 0 {
		return nil
	}
	free := 0
	for i := range m.summaries {
		if m.summaries[i].BlockCount == 0 {
			free++
		}
	}
	if free*100 >= freeWarnPercent*segCount {
		return nil
	}
	m.gcWarnCount++
	if free*100 < freeBusyPercent*segCount {
		m.gcBusyCount++
	}

	now := m.clock.MillisNow()
	if now-m.eraseWindowStart >= gcWindowMillis {
		m.eraseWindowStart = now
		m.erasesInWindow = 0
	}
	for m.erasesInWindow >= gcQuotaPerErase {
		if !blocking {
			return ErrBusy
		}
		now = m.clock.MillisNow()
		if now-m.eraseWindowStart >= gcWindowMillis {
			m.eraseWindowStart = now
			m.erasesInWindow = 0
		}
	}

	oldestIdx := -1
	var oldestSeq uint32
	headIdx := m.headSegIdx()
	for i := range m.summaries {
		if m.summaries[i].BlockCount == 0 || uint32(i) == headIdx {
			continue
		}
		if oldestIdx == -1 || wraptime.Before(m.summaries[i].SegSeqno, oldestSeq) {
			oldestIdx = i
			oldestSeq = m.summaries[i].SegSeqno
		}
	}
	if oldestIdx == -1 {
		return nil
	}

	addr := m.summaries[oldestIdx].AddrFirst
	if err := m.driver.Erase4K(addr); err != nil {
		return errors.Wrap(err, "ring: gc erase")
	}
	m.erasesInWindow++
	m.summaries[oldestIdx] = Blank(addr)
	m.log.Debugw("gc reclaimed segment", "slot", oldestIdx, "seq", oldestSeq)
	return nil
}
