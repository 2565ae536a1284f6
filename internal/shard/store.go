package shard

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/relaysix/zonedb/internal/catalog"
	"github.com/relaysix/zonedb/internal/memtable"
	"github.com/relaysix/zonedb/internal/schema"
	"github.com/relaysix/zonedb/internal/segment"
)

// handleStore validates c.Event against its schema, appends it to the
// WAL, and buffers it in the active memtable, freezing and scheduling
// a flush first if the memtable is already at capacity (spec §4.B/§4.C).
func (s *Shard) handleStore(ctx context.Context, c StoreCommand) (Result, error) {
	e := c.Event
	sc, err := s.schema.Lookup(e.EventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnknown, err)
	}

	payload := make(map[string]schema.Value, len(e.Payload))
	for name, v := range e.Payload {
		payload[name] = toSchemaValue(v)
	}
	if err := sc.ValidatePayload(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	if err := s.wal.Append(ctx, encodeEvent(e)); err != nil {
		s.halt(err)
		return nil, fmt.Errorf("%w: %v", ErrWalAppendFailed, err)
	}

	row := memtable.Row{ContextID: e.ContextID, Data: e}
	if s.active.Len() >= s.cfg.MemtableCapacity {
		if _, err := s.freezeActive(ctx); err != nil {
			return nil, err
		}
	}
	s.active.Insert(row)
	return StoreResult{UID: string(sc.UID)}, nil
}

// freezeActive claims a passive slot for the current active memtable,
// rotates the WAL so new writes land in a fresh segment, installs a new
// empty active memtable, and schedules the frozen one's flush off the
// actor goroutine (spec §4.B, §5 "no synchronous disk IO on the actor
// goroutine"). Returns ErrBufferFull if every passive slot is occupied.
func (s *Shard) freezeActive(ctx context.Context) (slotID int, err error) {
	if s.active.Len() == 0 {
		return -1, nil
	}

	curSeg := s.wal.CurrentSegmentID()
	slotID, err = s.passive.TryFreeze(s.active, curSeg)
	if err != nil {
		s.logger.Warn("shard: back-pressure, no passive slot available", zap.Int("shard", s.id))
		return -1, ErrBufferFull
	}

	if err := s.wal.Rotate(ctx, curSeg+1); err != nil {
		s.halt(err)
		return -1, fmt.Errorf("%w: %v", ErrWalAppendFailed, err)
	}

	s.active = memtable.New(s.cfg.MemtableCapacity)
	s.spawnFlush(slotID)
	return slotID, nil
}

// spawnFlush runs flushSlot on a background goroutine, tracked by
// flushWG so Shutdown/Flush can wait for it to finish.
func (s *Shard) spawnFlush(slotID int) {
	s.flushWG.Add(1)
	go func() {
		defer s.flushWG.Done()
		if err := s.flushSlot(slotID); err != nil {
			s.logger.Warn("shard: flush failed, frozen buffer stays pinned for retry",
				zap.Int("shard", s.id), zap.Int("slot", slotID), zap.Error(err))
		}
	}()
}

// flushSlot writes slotID's frozen memtable to a new level-0 segment,
// commits it to the catalog, releases the slot, and reclaims any WAL
// segments no longer pinned by an occupied slot (spec §4.C, §4.D).
func (s *Shard) flushSlot(slotID int) error {
	mt := s.passive.Get(slotID)
	if mt == nil {
		return nil
	}

	partitions, err := s.buildPartitions(mt.Iter())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFlushFailed, err)
	}

	segID := s.nextSegID.Add(1) - 1
	entry, err := s.flusher.WriteSegment(filepath.Join(s.root, "segments"), segID, 0, partitions)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFlushFailed, err)
	}

	catEntry := catalog.Entry{SegmentID: entry.SegmentID, UIDs: entry.UIDs, Level: entry.Level}
	if err := s.cat.Append(catEntry); err != nil {
		s.halt(err)
		return fmt.Errorf("%w: %v", ErrCatalogCorrupt, err)
	}

	s.passive.Release(slotID)

	if minID, any := s.passive.MinWALSegment(); any {
		if minID > 0 {
			return s.wal.ReclaimUpTo(minID - 1)
		}
		return nil
	}
	if cur := s.wal.CurrentSegmentID(); cur > 0 {
		return s.wal.ReclaimUpTo(cur - 1)
	}
	return nil
}

// buildPartitions groups a frozen memtable's rows by schema UID, sorts
// each group by (context_id, timestamp) per spec §4.C step 1, and
// attaches the field specs the Flusher needs to materialize columns.
func (s *Shard) buildPartitions(rows []memtable.Row) ([]segment.Partition, error) {
	bySchema := make(map[schema.UID]*schema.Schema)
	grouped := make(map[schema.UID][]segment.Row)

	for _, r := range rows {
		e, ok := r.Data.(Event)
		if !ok {
			return nil, fmt.Errorf("shard: memtable row holds unexpected type %T", r.Data)
		}
		schemaForType, err := s.schema.Lookup(e.EventType)
		if err != nil {
			return nil, fmt.Errorf("shard: flush lookup %s: %w", e.EventType, err)
		}
		bySchema[schemaForType.UID] = schemaForType
		grouped[schemaForType.UID] = append(grouped[schemaForType.UID], eventRow(e))
	}

	uids := make([]string, 0, len(grouped))
	for uid := range grouped {
		uids = append(uids, string(uid))
	}
	sort.Strings(uids)

	partitions := make([]segment.Partition, 0, len(uids))
	for _, uidStr := range uids {
		uid := schema.UID(uidStr)
		rows := grouped[uid]
		sortRows(rows)
		partitions = append(partitions, segment.Partition{
			UID:    uidStr,
			Rows:   rows,
			Fields: fieldSpecsFor(bySchema[uid]),
		})
	}
	return partitions, nil
}

// fieldSpecsFor returns the full column list a partition materializes:
// context_id, timestamp, and event_type alongside every schema-declared
// field (spec §4.C step 2b).
func fieldSpecsFor(sc *schema.Schema) []segment.FieldSpec {
	names := make([]string, 0, len(sc.Fields))
	for name := range sc.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]segment.FieldSpec, 0, len(names)+3)
	specs = append(specs,
		segment.FieldSpec{Name: "context_id", Kind: segment.KindString},
		segment.FieldSpec{Name: "timestamp", Kind: segment.KindU64},
		segment.FieldSpec{Name: "event_type", Kind: segment.KindString},
	)
	for _, name := range names {
		specs = append(specs, schemaFieldSpec(name, sc.Fields[name]))
	}
	return specs
}

func sortRows(rows []segment.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ContextID != rows[j].ContextID {
			return rows[i].ContextID < rows[j].ContextID
		}
		return rows[i].Timestamp < rows[j].Timestamp
	})
}

func (s *Shard) handleReplay(c ReplayCommand) (Result, error) {
	count := 0
	for _, rec := range c.records {
		e, err := decodeEvent(rec.Payload)
		if err != nil {
			return ReplayResult{Recovered: count}, fmt.Errorf("shard %d: decode replayed record: %w", s.id, err)
		}
		row := memtable.Row{ContextID: e.ContextID, Data: e}
		if s.active.Len() >= s.cfg.MemtableCapacity {
			if _, err := s.freezeActive(context.Background()); err != nil {
				return ReplayResult{Recovered: count}, err
			}
		}
		s.active.Insert(row)
		count++
	}
	return ReplayResult{Recovered: count}, nil
}
