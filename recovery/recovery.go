// Package recovery implements the bounded-time scan that runs exactly
// once at open, before any writes: a footer sweep to rebuild the zone
// map, head seeding from a snapshot or the footers themselves, a
// head-hint probe, and a tail probe that finds the first unreadable page
// so the writer resumes exactly after the last durable block (§4.4).
package recovery

import (
	"github.com/pkg/errors"

	"github.com/tinkerator/flashts/codec"
	"github.com/tinkerator/flashts/crc32c"
	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/metastore"
	"github.com/tinkerator/flashts/ring"
	"github.com/tinkerator/flashts/wraptime"
)

const segmentSize = codec.PagesPerSeg * codec.PageSize

// Scan runs the recovery protocol described in §4.4 and returns a seed
// ready to hand to ring.NewManager.
func Scan(driver flashio.Driver, meta *metastore.Store, segCount, metaReserved uint32) (ring.Seed, error) {
	segAddr := func(idx uint32) uint32 { return metaReserved + idx*segmentSize }

	summaries := make([]ring.Summary, segCount)
	for i := range summaries {
		summaries[i] = ring.Blank(segAddr(uint32(i)))
	}

	// 1. Footer sweep.
	haveFooter := false
	var bestIdx uint32
	var bestSeq uint32
	for i := uint32(0); i < segCount; i++ {
		base := segAddr(i)
		footerAddr := base + codec.DataPagesSeg*codec.PageSize
		page := make([]byte, codec.PageSize)
		if err := driver.Read(footerAddr, page); err != nil {
			return ring.Seed{}, errors.Wrap(err, "recovery: footer sweep read")
		}
		footer, err := codec.UnmarshalFooter(page)
		if err != nil {
			continue
		}
		summaries[i] = ring.Summary{
			AddrFirst:  base,
			SegSeqno:   footer.SegSeqno,
			TMin:       footer.TMin,
			TMax:       footer.TMax,
			BlockCount: footer.BlockCount,
			SeriesBits: footer.SeriesBits,
			Valid:      footer.BlockCount > 0,
		}
		if !haveFooter || wraptime.Before(bestSeq, footer.SegSeqno) {
			haveFooter = true
			bestIdx = i
			bestSeq = footer.SegSeqno
		}
	}

	// 2. Seed head.
	var head ring.Head
	var tailSeqno uint32
	snap, snapOK, err := meta.LoadSnapshot()
	if err != nil {
		return ring.Seed{}, err
	}
	switch {
	case snapOK:
		head = ring.Head{Addr: snap.HeadAddr, SegSeqno: snap.SegSeqHead}
		tailSeqno = snap.SegSeqTail
	case haveFooter:
		head = ring.Head{Addr: segAddr(bestIdx), PageIndex: 0, SegSeqno: bestSeq + 1}
		if bestSeq+1 >= segCount {
			tailSeqno = bestSeq + 1 - (segCount - 1)
		} else {
			tailSeqno = 1
		}
	default:
		// Blank device: synthesize summary[0] by scanning its data pages.
		head = ring.Head{Addr: segAddr(0), PageIndex: 0, SegSeqno: 1}
		tailSeqno = 1
		sum := ring.Blank(segAddr(0))
		for p := uint32(0); p < codec.DataPagesSeg; p++ {
			page := make([]byte, codec.PageSize)
			if err := driver.Read(segAddr(0)+p*codec.PageSize, page); err != nil {
				return ring.Seed{}, errors.Wrap(err, "recovery: blank-device page scan")
			}
			hdr, err := codec.UnmarshalHeader(page[codec.PayloadSize:])
			if err != nil {
				break
			}
			if crc32c.Checksum(page[:codec.PayloadSize]) != hdr.PayloadCRC {
				break
			}
			foldHeader(&sum, hdr, page[:codec.PayloadSize])
		}
		summaries[0] = sum
	}

	// 3. Head-hint probe.
	usableBytes := segCount * segmentSize
	if hint, ok, herr := meta.LoadHeadHint(); herr == nil && ok {
		rel := hint.Addr - metaReserved
		if rel < usableBytes {
			head.Addr = hint.Addr
			head.SegSeqno = hint.Seq
		}
	}

	// 4. Tail probe: walk forward from the first data page of the head
	// segment until a page fails to verify.
	headIdx := (head.Addr - metaReserved) / segmentSize
	base := segAddr(headIdx)
	// The probe folds every page it verifies into the head segment's
	// summary, so a summary not loaded from a footer starts over from
	// blank instead of counting pages already folded above twice.
	if !summaries[headIdx].Valid {
		summaries[headIdx] = ring.Blank(base)
	}
	recoveryTruncations := uint64(0)
	pageIdx := 0
	sawValid := false
	visitCap := segCount*codec.PagesPerSeg + 1
	visited := 0
	for pageIdx < codec.DataPagesSeg && visited < visitCap {
		visited++
		page := make([]byte, codec.PageSize)
		if err := driver.Read(base+uint32(pageIdx)*codec.PageSize, page); err != nil {
			return ring.Seed{}, errors.Wrap(err, "recovery: tail probe read")
		}
		hdr, err := codec.UnmarshalHeader(page[codec.PayloadSize:])
		if err != nil {
			break
		}
		if crc32c.Checksum(page[:codec.PayloadSize]) != hdr.PayloadCRC {
			break
		}
		sawValid = true
		foldHeader(&summaries[headIdx], hdr, page[:codec.PayloadSize])
		summaries[headIdx].AddrFirst = base
		summaries[headIdx].SegSeqno = head.SegSeqno
		summaries[headIdx].Valid = true
		pageIdx++
	}
	if sawValid && pageIdx < codec.DataPagesSeg {
		recoveryTruncations++
	}
	head.PageIndex = pageIdx
	head.Addr = base + uint32(pageIdx)*codec.PageSize

	return ring.Seed{
		Head:                head,
		TailSeqno:           tailSeqno,
		Summaries:           summaries,
		RecoveryTruncations: recoveryTruncations,
	}, nil
}

func foldHeader(sum *ring.Summary, hdr codec.Header, payload []byte) {
	deltas := codec.DecodeDeltasOnly(payload, hdr.DtBits, int(hdr.Count))
	tmax := hdr.T0Ms
	var acc uint32
	for _, d := range deltas {
		acc += d
		t := hdr.T0Ms + acc
		if wraptime.Before(tmax, t) {
			tmax = t
		}
	}
	if sum.BlockCount == 0 {
		sum.TMin = hdr.T0Ms
		sum.TMax = tmax
	} else {
		if wraptime.Before(hdr.T0Ms, sum.TMin) {
			sum.TMin = hdr.T0Ms
		}
		if wraptime.Before(sum.TMax, tmax) {
			sum.TMax = tmax
		}
	}
	sum.BlockCount++
	sum.SetSeriesBit(hdr.Series)
}
