package compaction

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/relaysix/zonedb/internal/catalog"
	"github.com/relaysix/zonedb/internal/segment"
)

// firstCompactedID is the smallest id a compacted (level >= 1) segment
// may take (spec §4.E: "their output gets a new level-L+1 id >= 10_000"),
// keeping compacted ids visibly distinct from the flusher's level-0
// sequence.
const firstCompactedID = 10_000

// Compactor runs compaction plans for one shard's segment tree.
// Grounded on marselester-hastydb's segmentMerger (merge.go): the same
// k-way merge over a min-heap of decoded records, generalized from a
// two-stream KV-overwrite collapse to an N-stream, duplicate-preserving
// merge across whole UID partitions.
type Compactor struct {
	Root     string
	Catalog  *catalog.SegmentIndex
	FanIn    int
	ZoneSize int
	Codec    segment.Codec
	Logger   *zap.Logger

	// OnRetire, if set, is called once per segment id that a committed
	// plan fully retired, after the catalog commit and before the
	// segment directory is removed. The shard uses it to invalidate the
	// block cache (spec §4.D: "invalidated when a segment is retired").
	OnRetire func(segmentID uint32)

	nextID uint32
}

// NewCompactor returns a Compactor whose output ids start at
// firstCompactedID, or one past the highest existing compacted id found
// in catalog (so a restart never reuses an id).
func NewCompactor(root string, cat *catalog.SegmentIndex, fanIn, zoneSize int, codec segment.Codec, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	next := uint32(firstCompactedID)
	for _, e := range cat.IterAll() {
		if e.Level > 0 && e.SegmentID >= next {
			next = e.SegmentID + 1
		}
	}
	return &Compactor{Root: root, Catalog: cat, FanIn: fanIn, ZoneSize: zoneSize, Codec: codec, Logger: logger, nextID: next}
}

// RunOnce selects and executes every eligible plan at level, returning
// the number of plans executed. A plan failure is logged and skipped
// (spec §7 CompactionFailed: non-fatal, retried on the next tick) —
// other plans in the same call still run.
func (c *Compactor) RunOnce(level int) (int, error) {
	plans := SelectPlans(c.Catalog.IterAll(), level, c.FanIn)
	executed := 0
	var firstErr error
	for _, plan := range plans {
		if err := c.executePlan(plan); err != nil {
			c.Logger.Warn("compaction: plan failed, will retry next tick",
				zap.Int("level", plan.Level), zap.Uint32s("inputs", plan.InputIDs), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		executed++
	}
	return executed, firstErr
}

func (c *Compactor) executePlan(plan Plan) error {
	newID := atomic.AddUint32(&c.nextID, 1) - 1
	dir := filepath.Join(c.Root, fmt.Sprintf("%05d", newID))

	flusher := segment.NewFlusher(c.ZoneSize, c.Codec, c.Logger)
	var partitions []segment.Partition
	for _, uid := range plan.UIDs {
		rows, fields, err := c.mergeUID(plan.InputIDs, uid)
		if err != nil {
			return fmt.Errorf("compaction: merge uid %s: %w", uid, err)
		}
		partitions = append(partitions, segment.Partition{UID: uid, Rows: rows, Fields: fields})
	}

	entry, err := flusher.WriteSegment(c.Root, newID, plan.Level+1, partitions)
	if err != nil {
		return fmt.Errorf("compaction: write segment %d: %w", newID, err)
	}

	retired, updated, err := c.retirementPlan(plan)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	if err := c.Catalog.Commit(retired, updated, &entry); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("compaction: catalog commit: %w", err)
	}

	for _, id := range retired {
		if c.OnRetire != nil {
			c.OnRetire(id)
		}
		os.RemoveAll(filepath.Join(c.Root, fmt.Sprintf("%05d", id)))
	}
	return nil
}

// retirementPlan compares each input segment's full UID set against the
// UIDs this plan actually merged: a segment retires only once every one
// of its UIDs has been covered (spec §4.E partial retirement).
func (c *Compactor) retirementPlan(plan Plan) (retired []uint32, updated []catalog.Entry, err error) {
	merged := make(map[string]bool, len(plan.UIDs))
	for _, uid := range plan.UIDs {
		merged[uid] = true
	}

	byID := make(map[uint32]catalog.Entry)
	for _, e := range c.Catalog.IterAll() {
		byID[e.SegmentID] = e
	}

	for _, id := range plan.InputIDs {
		e, ok := byID[id]
		if !ok {
			return nil, nil, fmt.Errorf("compaction: input segment %d missing from catalog", id)
		}
		var remaining []string
		for _, uid := range e.UIDs {
			if !merged[uid] {
				remaining = append(remaining, uid)
			}
		}
		if len(remaining) == 0 {
			retired = append(retired, id)
		} else {
			updated = append(updated, catalog.Entry{SegmentID: id, UIDs: remaining, Level: e.Level})
		}
	}
	return retired, updated, nil
}

// mergeUID opens uid's partition in every input segment and returns the
// globally ordered, duplicate-preserving merged rows plus the field
// spec to flush them with.
func (c *Compactor) mergeUID(inputIDs []uint32, uid string) ([]segment.Row, []segment.FieldSpec, error) {
	streams := make([]*rowStream, 0, len(inputIDs))
	var fields []segment.FieldSpec

	for _, id := range inputIDs {
		dir := filepath.Join(c.Root, fmt.Sprintf("%05d", id))
		reader, err := segment.OpenPartition(dir, uid, c.Codec)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s/%s: %w", dir, uid, err)
		}
		rows, err := readAllRows(reader)
		if err != nil {
			return nil, nil, err
		}
		streams = append(streams, &rowStream{rows: rows})
		if fields == nil {
			fields = reader.Fields()
		}
	}

	return mergeRowStreams(streams), fields, nil
}

// readAllRows decodes every zone of every field in reader into whole
// rows, reconstructing context_id and timestamp from their own columns.
func readAllRows(reader *segment.Reader) ([]segment.Row, error) {
	fields := reader.Fields()
	zones := reader.Zones()

	var rows []segment.Row
	for _, z := range zones {
		n := z.RowEnd - z.RowStart
		cols := make(map[string][]segment.Value, len(fields))
		for _, fs := range fields {
			values, err := reader.ReadZoneColumn(fs.Name, z.ZoneID)
			if err != nil {
				return nil, fmt.Errorf("read zone %d field %s: %w", z.ZoneID, fs.Name, err)
			}
			cols[fs.Name] = values
		}
		for i := 0; i < n; i++ {
			row := segment.Row{Fields: make(map[string]segment.Value, len(fields))}
			for _, fs := range fields {
				row.Fields[fs.Name] = cols[fs.Name][i]
			}
			if v, ok := row.Fields["context_id"]; ok {
				row.ContextID = v.Str
			}
			if v, ok := row.Fields["timestamp"]; ok {
				row.Timestamp = v.U64
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}
