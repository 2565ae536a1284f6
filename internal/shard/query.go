package shard

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/relaysix/zonedb/internal/cache"
	"github.com/relaysix/zonedb/internal/memtable"
	"github.com/relaysix/zonedb/internal/query"
	"github.com/relaysix/zonedb/internal/segment"
)

// handleQuery scans this shard's on-disk segments and in-memory buffers
// for c.EventType, merges the results, and applies aggregation or
// ordering as c.Query requests (spec §4.F). EventSequence queries are
// rejected here: the fleet splits them into per-hop sub-queries and
// matches chains across shards, since a link_field join is not scoped
// to one shard's context_id hash.
func (s *Shard) handleQuery(c QueryCommand) (Result, error) {
	q := c.Query
	if q.Sequence != nil {
		return nil, fmt.Errorf("%w: sequence queries must be split by the caller", ErrQueryInvalid)
	}

	sc, err := s.schema.Lookup(c.EventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnknown, err)
	}
	uid := string(sc.UID)
	plan := query.Plan(q)

	rows, err := s.scanSegments(uid, plan, q)
	if err != nil {
		return nil, err
	}
	rows = append(rows, s.scanMemtables(c.EventType, q)...)

	if len(q.Aggs) > 0 {
		groups := query.Aggregate(rows, q.Aggs, q.GroupBy, q.TimeBucket)
		return QueryResult{Groups: query.SortGroups(groups)}, nil
	}

	if q.OrderBy != "" {
		cmp := query.RowComparator{OrderBy: q.OrderBy, Asc: q.OrderAsc, SecondaryOrderBy: q.SecondaryOrderBy}
		sort.SliceStable(rows, func(i, j int) bool { return cmp.Less(rows[i], rows[j]) })
	}
	rows = query.ApplyLimitOffset(rows, q.Limit, q.Offset)
	return QueryResult{Rows: rows}, nil
}

// scanSegments opens every committed segment holding rows for uid and
// executes plan against each, using SelectPickedZones to bound the scan
// to RLTE-ranked zones when the query is a pure ORDER BY + LIMIT with no
// filter (spec §4.F step 3); otherwise it scans the zones WHERE-pruning
// selects, in full.
func (s *Shard) scanSegments(uid string, plan *query.QueryPlan, q *query.Query) ([]segment.Row, error) {
	entries := s.cat.IterForUID(uid)
	if len(entries) == 0 {
		return nil, nil
	}

	readers := make(map[string]*segment.Reader, len(entries))
	segIDs := make(map[string]uint32, len(entries))
	for _, entry := range entries {
		label := fmt.Sprintf("%05d", entry.SegmentID)
		dir := filepath.Join(s.root, "segments", label)
		reader, err := segment.OpenPartition(dir, uid, s.codec)
		if err != nil {
			return nil, fmt.Errorf("shard %d: open partition %s/%s: %w", s.id, dir, uid, err)
		}
		readers[label] = reader
		segIDs[label] = entry.SegmentID
	}

	var zonesByLabel map[string][]int
	if q.OrderBy != "" && q.Limit > 0 && len(plan.Steps) == 0 {
		ladders := make(map[string]segment.FieldLadders, len(readers))
		for label, reader := range readers {
			fl, err := reader.Ladders()
			if err != nil {
				continue
			}
			ladders[label] = fl
		}
		picked := query.SelectPickedZones(uid, q.OrderBy, q.OrderAsc, q.Limit, q.Offset, s.cfg.RLTEFactor, ladders)
		zonesByLabel = make(map[string][]int)
		for _, z := range picked.Zones {
			zonesByLabel[z.SegmentLabel] = append(zonesByLabel[z.SegmentLabel], z.ZoneID)
		}
	}

	var out []segment.Row
	for label, reader := range readers {
		loader := s.columnLoader(segIDs[label], uid, reader)

		var batches []query.Batch
		var err error
		if zonesByLabel != nil {
			allowed, ok := zonesByLabel[label]
			if !ok {
				continue
			}
			batches, err = query.ScanZones(reader, allowed, plan, q.ReturnFields, 0, loader)
		} else {
			batches, err = query.ScanSegment(reader, plan, q.ReturnFields, 0, loader)
		}
		if err != nil {
			return nil, fmt.Errorf("shard %d: scan segment %s: %w", s.id, label, err)
		}
		for _, b := range batches {
			out = append(out, b.Rows...)
		}
	}
	return out, nil
}

// columnLoader routes zone reads through the shard's BlockCache, so a
// hot zone decompressed for one query serves the next without rereading
// disk (spec §4.D, §9).
func (s *Shard) columnLoader(segID uint32, uid string, reader *segment.Reader) query.ColumnLoader {
	return func(field string, zoneID int) ([]segment.Value, error) {
		key := cache.Key{SegmentID: segID, UID: uid, Field: field, ZoneID: zoneID}
		values, release, err := s.blocks.Borrow(key, func() ([]segment.Value, error) {
			return reader.ReadZoneColumn(field, zoneID)
		})
		if err != nil {
			return nil, err
		}
		release()
		return values, nil
	}
}

// scanMemtables filters the active memtable plus every occupied passive
// slot for rows of eventType matching q.Where, for the part of a query's
// result window that has not been flushed yet (spec §4.F: "in-memory
// active + passive buffers participate in every query").
func (s *Shard) scanMemtables(eventType string, q *query.Query) []segment.Row {
	var out []segment.Row
	scan := func(mt *memtable.MemTable) {
		for _, r := range mt.Iter() {
			e, ok := r.Data.(Event)
			if !ok || e.EventType != eventType {
				continue
			}
			row := eventRow(e)
			if query.Matches(row, q.Where) {
				out = append(out, row)
			}
		}
	}
	scan(s.active)
	for _, mt := range s.passive.SnapshotReaders() {
		scan(mt)
	}
	return out
}
