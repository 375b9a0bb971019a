// Package query implements the zone-map-guided range iterator and the
// latest-sample query described in §4.5: wrap-aware segment pruning,
// per-page CRC isolation, and SoA decode into reconstructed
// (ts_ms, value) rows.
package query

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/tinkerator/flashts/codec"
	"github.com/tinkerator/flashts/crc32c"
	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/ring"
	"github.com/tinkerator/flashts/wraptime"
)

// Row is one reconstructed (ts_ms, value) sample.
type Row struct {
	TsMs  uint32
	Value float64
}

// Iterator is the cursor state for one query_begin/.../query_end run.
// It holds only immutable references into the writer's RAM (the
// summaries slice) and read-only flash addresses, per §3's ownership
// invariant.
type Iterator struct {
	driver     flashio.Driver
	summaries  []ring.Summary
	order      []int
	series     uint16
	t0, t1     uint32
	onCRCError func()

	segIdx       uint32
	pageIdx      int
	pending      []Row
	pendingIdx   int
	pagesVisited int
	pagesCap     int
	done         bool
}

// Begin opens an iterator over series within [t0Ms, t1Ms], wrap-aware.
// Segments are visited in ascending seg_seqno order rather than physical
// slot order, so a range spanning the ring's wrap boundary still yields
// rows oldest first.
func Begin(driver flashio.Driver, summaries []ring.Summary, series uint16, t0Ms, t1Ms uint32, onCRCError func()) *Iterator {
	order := make([]int, len(summaries))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return summaries[order[a]].SegSeqno < summaries[order[b]].SegSeqno
	})
	return &Iterator{
		driver:     driver,
		summaries:  summaries,
		order:      order,
		series:     series,
		t0:         t0Ms,
		t1:         t1Ms,
		onCRCError: onCRCError,
		pagesCap:   len(summaries)*codec.DataPagesSeg + 1,
	}
}

// Next yields the next matching row, or ok=false once the iterator is
// exhausted.
func (it *Iterator) Next() (row Row, ok bool) {
	for {
		if it.pendingIdx < len(it.pending) {
			r := it.pending[it.pendingIdx]
			it.pendingIdx++
			return r, true
		}
		if it.done {
			return Row{}, false
		}
		if !it.advance() {
			it.done = true
			return Row{}, false
		}
	}
}

// End releases nothing externally; it exists so callers have a symmetric
// query_begin/query_end pair to close out.
func (it *Iterator) End() {}

// advance loads the next candidate page, possibly abandoning a segment on
// a corrupt header or payload, and leaves it.pending filled with zero or
// more matching rows decoded from one block. It returns false only when
// there is no more work to do (segments exhausted or the hard visit cap
// is hit).
func (it *Iterator) advance() bool {
	segCount := uint32(len(it.order))
	for {
		if it.segIdx >= segCount {
			return false
		}
		sum := it.summaries[it.order[it.segIdx]]

		if it.pageIdx == 0 {
			if !segmentMatches(sum, it.series, it.t0, it.t1) {
				it.segIdx++
				continue
			}
		}
		if it.pageIdx >= codec.DataPagesSeg {
			it.segIdx++
			it.pageIdx = 0
			continue
		}
		if it.pagesVisited >= it.pagesCap {
			return false
		}

		addr := sum.AddrFirst + uint32(it.pageIdx)*codec.PageSize
		page := make([]byte, codec.PageSize)
		it.pagesVisited++
		if err := it.driver.Read(addr, page); err != nil {
			it.segIdx++
			it.pageIdx = 0
			continue
		}

		hdr, err := codec.UnmarshalHeader(page[codec.PayloadSize:])
		if err != nil {
			// Invalid header: treat as a rollover boundary and abandon
			// this segment, but keep prior pages' yielded rows valid.
			it.segIdx++
			it.pageIdx = 0
			continue
		}
		if hdr.Series != it.series {
			it.pageIdx++
			continue
		}
		if crc32c.Checksum(page[:codec.PayloadSize]) != hdr.PayloadCRC {
			if it.onCRCError != nil {
				it.onCRCError()
			}
			it.segIdx++
			it.pageIdx = 0
			continue
		}

		it.pending = decodeRows(hdr, page[:codec.PayloadSize], it.t0, it.t1)
		it.pendingIdx = 0
		it.pageIdx++
		return true
	}
}

func segmentMatches(sum ring.Summary, series uint16, t0, t1 uint32) bool {
	if !sum.Valid || sum.BlockCount == 0 {
		return false
	}
	if !sum.HasSeries(series) {
		return false
	}
	return wraptime.Overlaps(t0, t1, sum.TMin, sum.TMax)
}

func decodeRows(hdr codec.Header, payload []byte, t0, t1 uint32) []Row {
	deltas, qvals := codec.DecodePayload(payload, hdr.DtBits, int(hdr.Count))
	rows := make([]Row, 0, len(deltas))
	var acc uint32
	for i, d := range deltas {
		acc += d
		ts := hdr.T0Ms + acc
		if wraptime.InRange(ts, t0, t1) {
			value := float64(hdr.Bias) + float64(hdr.Scale)*float64(qvals[i])
			rows = append(rows, Row{TsMs: ts, Value: value})
		}
	}
	return rows
}

// ErrNoData is returned by Latest when series has no data at all.
var ErrNoData = errors.New("query: no data for series")

// Latest implements §4.5's latest-sample query: scan summaries by
// descending seg_seqno, and in the first whose series bit is set, scan
// pages 14..0 for a matching, CRC-clean header, reconstructing only its
// last row.
func Latest(driver flashio.Driver, summaries []ring.Summary, series uint16) (Row, error) {
	order := make([]int, 0, len(summaries))
	for i, s := range summaries {
		if s.Valid && s.BlockCount > 0 && s.HasSeries(series) {
			order = append(order, i)
		}
	}
	if len(order) == 0 {
		return Row{}, ErrNoData
	}
	best := order[0]
	for _, idx := range order[1:] {
		if wraptime.Before(summaries[best].SegSeqno, summaries[idx].SegSeqno) {
			best = idx
		}
	}
	sum := summaries[best]

	for p := codec.DataPagesSeg - 1; p >= 0; p-- {
		addr := sum.AddrFirst + uint32(p)*codec.PageSize
		page := make([]byte, codec.PageSize)
		if err := driver.Read(addr, page); err != nil {
			continue
		}
		hdr, err := codec.UnmarshalHeader(page[codec.PayloadSize:])
		if err != nil || hdr.Series != series {
			continue
		}
		if crc32c.Checksum(page[:codec.PayloadSize]) != hdr.PayloadCRC {
			continue
		}
		deltas, qvals := codec.DecodePayload(page[:codec.PayloadSize], hdr.DtBits, int(hdr.Count))
		var acc uint32
		for _, d := range deltas {
			acc += d
		}
		last := len(qvals) - 1
		ts := hdr.T0Ms + acc
		value := float64(hdr.Bias) + float64(hdr.Scale)*float64(qvals[last])
		return Row{TsMs: ts, Value: value}, nil
	}
	return Row{}, ErrNoData
}
