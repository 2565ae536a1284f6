package compaction

import "github.com/relaysix/zonedb/internal/segment"

// rowStream is one input segment's rows for a UID, already ordered by
// the merge key.
type rowStream struct {
	rows []segment.Row
	pos  int
}

func (s *rowStream) next() (segment.Row, bool) {
	if s.pos >= len(s.rows) {
		return segment.Row{}, false
	}
	r := s.rows[s.pos]
	s.pos++
	return r, true
}

// item is one row on the priority queue, tagged with its source
// stream's index so ties preserve the order segments were merged in
// (oldest segment first), matching append-only semantics: unlike
// hasty's indexMinHeap this never collapses equal keys.
type item struct {
	row    segment.Row
	stream int
}

// rowMinHeap is an indexed binary min-heap over merge-key order,
// generalizing marselester-hastydb's indexMinHeap (merge.go) from a
// single string key with last-writer-wins collapse to a composite
// (context_id, timestamp) key that keeps every row.
type rowMinHeap struct {
	n     int
	pq    []int
	qp    []int
	items []*item
	less  func(a, b *item) bool
}

func newRowMinHeap(n int, less func(a, b *item) bool) *rowMinHeap {
	h := &rowMinHeap{
		pq:    make([]int, n+1),
		qp:    make([]int, n+1),
		items: make([]*item, n+1),
		less:  less,
	}
	for i := 0; i <= n; i++ {
		h.qp[i] = -1
	}
	return h
}

func (h *rowMinHeap) insert(i int, it *item) {
	h.n++
	h.qp[i] = h.n
	h.pq[h.n] = i
	h.items[i] = it
	h.swim(h.n)
}

func (h *rowMinHeap) min() (int, *item) {
	if h.n == 0 {
		return -1, nil
	}
	indexOfMin := h.pq[1]
	min := h.items[indexOfMin]

	h.exchange(1, h.n)
	h.n--
	h.sink(1)

	h.items[indexOfMin] = nil
	h.qp[indexOfMin] = -1
	h.pq[h.n+1] = -1

	return indexOfMin, min
}

func (h *rowMinHeap) size() int { return h.n }

func (h *rowMinHeap) greater(i, j int) bool {
	return h.less(h.items[h.pq[j]], h.items[h.pq[i]])
}

func (h *rowMinHeap) exchange(i, j int) {
	h.pq[i], h.pq[j] = h.pq[j], h.pq[i]
	h.qp[h.pq[i]] = i
	h.qp[h.pq[j]] = j
}

func (h *rowMinHeap) swim(k int) {
	for k > 1 && h.greater(k/2, k) {
		h.exchange(k, k/2)
		k = k / 2
	}
}

func (h *rowMinHeap) sink(k int) {
	for 2*k <= h.n {
		j := 2 * k
		if j < h.n && h.greater(j, j+1) {
			j++
		}
		if !h.greater(k, j) {
			break
		}
		h.exchange(k, j)
		k = j
	}
}

// mergeKeyLess orders rows by (context_id, timestamp), stream index as
// final tiebreak so rows from an older input segment sort first when
// their keys are otherwise equal.
func mergeKeyLess(a, b *item) bool {
	if a.row.ContextID != b.row.ContextID {
		return a.row.ContextID < b.row.ContextID
	}
	if a.row.Timestamp != b.row.Timestamp {
		return a.row.Timestamp < b.row.Timestamp
	}
	return a.stream < b.stream
}

// mergeRowStreams merges already-sorted streams into one globally
// ordered, duplicate-preserving sequence (spec §4.E: "produce a
// globally ordered output stream by the configured merge key").
func mergeRowStreams(streams []*rowStream) []segment.Row {
	h := newRowMinHeap(len(streams), mergeKeyLess)
	for i, s := range streams {
		if row, ok := s.next(); ok {
			h.insert(i, &item{row: row, stream: i})
		}
	}

	var out []segment.Row
	for h.size() != 0 {
		i, it := h.min()
		out = append(out, it.row)
		if row, ok := streams[i].next(); ok {
			h.insert(i, &item{row: row, stream: i})
		}
	}
	return out
}
