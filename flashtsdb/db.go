// Package flashtsdb is the public facade over the storage core: open,
// close, write, flush, the query family, snapshot_save, and info (§6). It
// wires recovery, the ring manager, the block builder, and the metadata
// store into one handle and owns epoch tracking for the 32-bit
// millisecond timestamp wraparound (§9 Epoch wrap).
package flashtsdb

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tinkerator/flashts/block"
	"github.com/tinkerator/flashts/codec"
	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/metastore"
	"github.com/tinkerator/flashts/query"
	"github.com/tinkerator/flashts/recovery"
	"github.com/tinkerator/flashts/ring"
)

// Error kinds per §7. These are sentinel values, not a type hierarchy: a
// caller distinguishes category with errors.Is, and anything else
// propagated from a flash driver falls into the I/O category by default.
var (
	ErrInvalidArgument = errors.New("flashtsdb: invalid argument")
	ErrNoSpace         = errors.New("flashtsdb: workspace too small")
	// ErrBusy is ring.ErrBusy re-exported so callers never need to import
	// the ring package just to compare errors.
	ErrBusy = ring.ErrBusy
)

const (
	segmentSize = codec.PagesPerSeg * codec.PageSize

	// epochJumpThreshold is half of 2^32, the backward-jump size that
	// signals a timestamp epoch wrap rather than ordinary out-of-order
	// arrival (§4.2 Epoch tracking).
	epochJumpThreshold = 0x80000000

	// controlBlockBytes, summaryBytes, and stagingArrayBytes estimate the
	// workspace §5 describes as bump-allocated at open. Go has no
	// place for a caller-supplied arena, so WorkspaceBytes only gates
	// open with a no-space error; the runtime allocates normally from
	// the garbage-collected heap.
	controlBlockBytes  = 256
	summaryBytes       = 88
	stagingArrayBytes  = 3 * 74 * 16
)

// Options configures Open.
type Options struct {
	Driver flashio.Driver
	// Clock supplies GC quota windowing and head-hint cadence timing.
	// Defaults to flashio.SystemClock.
	Clock flashio.Clock
	// Logger receives the ring manager's diagnostics; recovery does not
	// log. Defaults to a no-op logger.
	Logger *zap.SugaredLogger
	// MetaReserved is the byte size of the metadata region, which occupies
	// the lowest addresses of the device (starting at offset 0); segment
	// slots follow it. Defaults to 32768.
	MetaReserved uint32
	// WorkspaceBytes, if non-zero, is validated against the estimated
	// control-block + zone-map + staging footprint at open (§5); zero
	// skips the check.
	WorkspaceBytes int
	// NonBlockingGC makes write return ErrBusy instead of spinning when
	// the GC erase quota for the current window is exhausted (§4.3).
	NonBlockingGC bool
	// ReadBatchRows and CommitIntervalMs are advisory only (§9 Open
	// Questions): they are stored on the handle but are not reported by
	// Info and do not change write or iterator behavior.
	ReadBatchRows    int
	CommitIntervalMs uint64
}

// DB is one open storage core handle.
type DB struct {
	driver flashio.Driver
	clock  flashio.Clock
	log    *zap.SugaredLogger
	meta   *metastore.Store
	ringM  *ring.Manager
	b      *block.Builder

	metaReserved     uint32
	segCount         uint32
	nonBlockingGC    bool
	readBatchRows    int
	commitIntervalMs uint64

	haveLastTs     bool
	lastTsObserved uint32
	epochID        uint32

	crcErrors           uint64
	recoveryTruncations uint64
}

// Open runs recovery and returns a ready-to-use handle.
func Open(opt Options) (*DB, error) {
	if opt.Driver == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil driver")
	}
	metaReserved := opt.MetaReserved
	if metaReserved == 0 {
		metaReserved = 32768
	}
	size := opt.Driver.SizeBytes()
	if size%flashio.SectorSize != 0 || size < metaReserved+flashio.SectorSize {
		return nil, errors.Wrapf(ErrInvalidArgument, "device size %d incompatible with metadata_reserved %d", size, metaReserved)
	}
	segCount := (size - metaReserved) / segmentSize
	if segCount == 0 {
		return nil, errors.Wrap(ErrNoSpace, "device too small to hold a single segment")
	}
	if opt.WorkspaceBytes > 0 {
		required := controlBlockBytes + int(segCount)*summaryBytes + stagingArrayBytes
		if opt.WorkspaceBytes < required {
			return nil, errors.Wrapf(ErrNoSpace, "workspace_bytes=%d below required %d", opt.WorkspaceBytes, required)
		}
	}

	clock := opt.Clock
	if clock == nil {
		clock = flashio.SystemClock{}
	}
	log := opt.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	meta := metastore.New(opt.Driver, metastore.DefaultLayout(0))
	seed, err := recovery.Scan(opt.Driver, meta, segCount, metaReserved)
	if err != nil {
		return nil, errors.Wrap(err, "flashtsdb: recovery scan")
	}

	var epochID uint32
	if snap, ok, err := meta.LoadSnapshot(); err == nil && ok {
		epochID = snap.EpochID
	}

	ringM := ring.NewManager(ring.Options{
		Driver:       opt.Driver,
		Clock:        clock,
		Logger:       log,
		MetaReserved: metaReserved,
		SegCount:     segCount,
		HintSaver:    meta.SaveHeadHint,
		Seed:         seed,
	})

	return &DB{
		driver:              opt.Driver,
		clock:               clock,
		log:                 log,
		meta:                meta,
		ringM:               ringM,
		b:                   block.New(),
		metaReserved:        metaReserved,
		segCount:            segCount,
		nonBlockingGC:       opt.NonBlockingGC,
		readBatchRows:       opt.ReadBatchRows,
		commitIntervalMs:    opt.CommitIntervalMs,
		epochID:             epochID,
		recoveryTruncations: seed.RecoveryTruncations,
	}, nil
}

// Close releases the handle. The core holds no OS resources of its own
// beyond the caller-owned driver, so this never fails; callers that want
// durability should Flush first.
func (db *DB) Close() error { return nil }

// Write accepts one (series, ts_ms, value) sample in insertion order.
func (db *DB) Write(series uint16, tsMs uint32, value float64) error {
	if series >= codec.SeriesCount {
		return errors.Wrapf(ErrInvalidArgument, "series %d out of range [0,%d)", series, codec.SeriesCount)
	}
	db.observeTimestamp(tsMs)

	closed := db.b.Append(series, tsMs, value)
	if closed == nil {
		return nil
	}
	return db.publish(closed)
}

// observeTimestamp updates last_ts_observed and bumps epoch_id when ts
// falls back by more than half the u32 range (§4.2, §9 Epoch wrap).
func (db *DB) observeTimestamp(ts uint32) {
	if db.haveLastTs {
		backward := int64(db.lastTsObserved) - int64(ts)
		if backward > epochJumpThreshold {
			db.epochID++
		}
	}
	db.lastTsObserved = ts
	db.haveLastTs = true
}

func (db *DB) publish(p *block.Prepared) error {
	if err := db.ringM.PublishOneBlock(p.Header, p.Payload[:], !db.nonBlockingGC); err != nil {
		return err
	}
	return nil
}

// Flush force-closes any open block and publishes it.
func (db *DB) Flush() error {
	closed := db.b.Close()
	if closed == nil {
		return nil
	}
	return db.publish(closed)
}

// Summaries exposes the live zone map for inspection tools. Callers must
// not mutate the returned slice.
func (db *DB) Summaries() []ring.Summary {
	return db.ringM.Summaries()
}

// QueryBegin opens a range iterator over series within [t0Ms, t1Ms].
func (db *DB) QueryBegin(series uint16, t0Ms, t1Ms uint32) *query.Iterator {
	return query.Begin(db.driver, db.ringM.Summaries(), series, t0Ms, t1Ms, func() {
		db.crcErrors++
	})
}

// QueryLatest returns the most recent sample for series.
func (db *DB) QueryLatest(series uint16) (query.Row, error) {
	return query.Latest(db.driver, db.ringM.Summaries(), series)
}

// SnapshotSave persists the current head/tail/epoch state so reopen seeds
// the head from it instead of from the newest footer; the footer sweep
// still runs on every open.
func (db *DB) SnapshotSave() error {
	head := db.ringM.Head()
	snap := metastore.Snapshot{
		EpochID:    db.epochID,
		SegSeqHead: head.SegSeqno,
		SegSeqTail: db.ringM.TailSeqno(),
		HeadAddr:   head.Addr,
	}
	return db.meta.SaveSnapshot(snap)
}

// Info reports the counters listed in §6's public operations table.
type Info struct {
	HeadSeq             uint32
	TailSeq             uint32
	BlocksWritten       uint64
	CRCErrors           uint64
	GCWarn              uint64
	GCBusy              uint64
	RecoveryTruncations uint64
	QuantSaturations    uint64
	EpochID             uint32
}

// Info returns a snapshot of the core's counters.
func (db *DB) Info() Info {
	stats := db.ringM.Stats()
	return Info{
		HeadSeq:             db.ringM.Head().SegSeqno,
		TailSeq:             db.ringM.TailSeqno(),
		BlocksWritten:       stats.BlocksWritten,
		CRCErrors:           db.crcErrors,
		GCWarn:              stats.GCWarn,
		GCBusy:              stats.GCBusy,
		RecoveryTruncations: db.recoveryTruncations,
		QuantSaturations:    db.b.QuantSaturations(),
		EpochID:             db.epochID,
	}
}
