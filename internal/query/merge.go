package query

import "github.com/relaysix/zonedb/internal/segment"

// MergeUnordered concatenates every shard's matching rows and applies
// the query's global limit/offset, with no ordering guarantee (spec
// §4.F step 5: queries without an ORDER BY merge by concatenation).
func MergeUnordered(batchesByShard [][]Batch, limit, offset int) []segment.Row {
	var rows []segment.Row
	for _, batches := range batchesByShard {
		for _, b := range batches {
			rows = append(rows, b.Rows...)
		}
	}
	return applyLimitOffset(rows, limit, offset)
}

// ApplyLimitOffset exposes applyLimitOffset for callers that already
// hold one combined row slice (the shard's sorted result, the fleet's
// concatenated unordered rows) and need the same limit/offset semantics.
func ApplyLimitOffset(rows []segment.Row, limit, offset int) []segment.Row {
	return applyLimitOffset(rows, limit, offset)
}

func applyLimitOffset(rows []segment.Row, limit, offset int) []segment.Row {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// RowComparator orders two rows by an ORDER BY field and, when the
// primary field ties, by SecondaryOrderBy fields in priority order
// (SPEC_FULL.md's supplemented tiebreak rule). asc applies to the
// primary field only; secondary fields always break ties ascending.
type RowComparator struct {
	OrderBy          string
	Asc              bool
	SecondaryOrderBy []string
}

// Less reports whether a sorts before b.
func (c RowComparator) Less(a, b segment.Row) bool {
	cmp := segment.CompareValues(a.Fields[c.OrderBy], b.Fields[c.OrderBy])
	if !c.Asc {
		cmp = -cmp
	}
	if cmp != 0 {
		return cmp < 0
	}
	for _, f := range c.SecondaryOrderBy {
		cmp := segment.CompareValues(a.Fields[f], b.Fields[f])
		if cmp != 0 {
			return cmp < 0
		}
	}
	return false
}

// mergeStream is one shard's already-sorted rows for the ordered
// k-way merge.
type mergeStream struct {
	rows []segment.Row
	pos  int
}

func (s *mergeStream) next() (segment.Row, bool) {
	if s.pos >= len(s.rows) {
		return segment.Row{}, false
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true
}

type mergeItem struct {
	row    segment.Row
	stream int
}

// mergeHeap is a binary min-heap over mergeItems, ordered by cmp,
// mirroring the swim/sink shape shared with the compaction package's
// k-way row merge.
type mergeHeap struct {
	items []mergeItem
	cmp   RowComparator
}

func (h *mergeHeap) less(i, j int) bool { return h.cmp.Less(h.items[i].row, h.items[j].row) }

func (h *mergeHeap) push(it mergeItem) {
	h.items = append(h.items, it)
	h.swim(len(h.items) - 1)
}

func (h *mergeHeap) popMin() mergeItem {
	min := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	if len(h.items) > 0 {
		h.sink(0)
	}
	return min
}

func (h *mergeHeap) swim(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *mergeHeap) sink(i int) {
	n := len(h.items)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && h.less(left, smallest) {
			smallest = left
		}
		if right < n && h.less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

// MergeOrdered k-way merges already-sorted per-shard row slices into
// one globally ordered result, heap size bounded by the shard count
// (spec §8's ordered-merge monotonicity property), then applies
// limit/offset.
func MergeOrdered(rowsByShard [][]segment.Row, cmp RowComparator, limit, offset int) []segment.Row {
	streams := make([]*mergeStream, len(rowsByShard))
	for i, rows := range rowsByShard {
		streams[i] = &mergeStream{rows: rows}
	}

	h := &mergeHeap{cmp: cmp}
	for i, s := range streams {
		if row, ok := s.next(); ok {
			h.push(mergeItem{row: row, stream: i})
		}
	}

	var out []segment.Row
	for len(h.items) > 0 {
		min := h.popMin()
		out = append(out, min.row)
		if row, ok := streams[min.stream].next(); ok {
			h.push(mergeItem{row: row, stream: min.stream})
		}
	}
	return applyLimitOffset(out, limit, offset)
}
