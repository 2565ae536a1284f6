// Package catalog implements the per-shard segment catalog (spec §4.D):
// the ordered, replayable list of committed segments and the UID to
// segment-id lookups pruning and compaction build on.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Entry is one committed segment: its id, the UIDs it holds rows for,
// and its compaction level.
type Entry struct {
	SegmentID uint32
	UIDs      []string
	Level     int
}

// errCatalog reports a condition that spec §7 classifies as
// CatalogCorrupt: fatal to the owning shard, requires operator
// intervention.
type errCatalog string

func (e errCatalog) Error() string { return string(e) }

// ErrCorrupt is returned by Open/Load when the on-disk tail cannot be
// replayed cleanly.
const ErrCorrupt errCatalog = "catalog: segments.idx is corrupt"

// SegmentIndex is the ordered, replayable catalog of segments committed
// for one shard. Persisted as an append-only tail (segments.idx) per
// spec §4.D ("Persisted as an append-only tail so that the on-disk
// order is the replay order"). Grounded on marselester-hastydb's
// single-writer wal.go: one open file handle, fsync on every mutation,
// replay-from-start recovery, generalized from a single-record log to a
// two-op (append/commit) log so compaction commits stay atomic on
// replay.
type SegmentIndex struct {
	mu sync.Mutex

	path string
	f    *os.File

	order   []uint32 // segment ids in append/commit order
	entries map[uint32]Entry
}

// Open loads path (creating it if absent) and returns a SegmentIndex
// ready to accept Append/Commit calls. The file is kept open for the
// lifetime of the shard; the caller must Close it on shutdown.
func Open(path string) (*SegmentIndex, error) {
	entries, order, err := replay(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	return &SegmentIndex{path: path, f: f, order: order, entries: entries}, nil
}

func replay(path string) (map[uint32]Entry, []uint32, error) {
	entries := make(map[uint32]Entry)
	var order []uint32

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return entries, order, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()

	for {
		payload, ok, err := readFrame(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
		}
		if !ok {
			break
		}
		op, err := recordOp(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
		}
		switch op {
		case opAppend:
			entry, err := decodeAppendRecord(payload)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
			}
			if _, exists := entries[entry.SegmentID]; exists {
				return nil, nil, fmt.Errorf("%w: duplicate segment id %d", ErrCorrupt, entry.SegmentID)
			}
			entries[entry.SegmentID] = entry
			order = append(order, entry.SegmentID)
		case opCommit:
			retired, updated, created, err := decodeCommitRecord(payload)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
			}
			for _, id := range retired {
				delete(entries, id)
			}
			for _, e := range updated {
				entries[e.SegmentID] = e
			}
			if created != nil {
				entries[created.SegmentID] = *created
				order = append(order, created.SegmentID)
			}
		default:
			return nil, nil, fmt.Errorf("%w: unknown op %d", ErrCorrupt, op)
		}
	}
	return entries, order, nil
}

// Append records a newly flushed segment. The caller must hold whatever
// flush lock serializes this against concurrent compaction commits
// (spec §5: "Segment catalog: guarded by the flush lock").
func (c *SegmentIndex) Append(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[e.SegmentID]; exists {
		return fmt.Errorf("catalog: segment id %d already committed", e.SegmentID)
	}
	if err := c.persist(encodeAppend(e)); err != nil {
		return err
	}
	c.entries[e.SegmentID] = e
	c.order = append(c.order, e.SegmentID)
	return nil
}

// Commit applies one compaction result atomically: retired segments are
// dropped entirely, updated segments keep their id but shrink to the
// UID set still owned by their (not yet fully merged) partitions, and
// created is the newly written merged segment, if the plan produced
// one. A segment's UID set only empties — triggering physical deletion
// by the caller — once every one of its UIDs has been covered by a
// completed plan (spec §4.D "partial retirement").
func (c *SegmentIndex) Commit(retired []uint32, updated []Entry, created *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range retired {
		if _, exists := c.entries[id]; !exists {
			return fmt.Errorf("catalog: cannot retire unknown segment id %d", id)
		}
	}
	for _, e := range updated {
		if _, exists := c.entries[e.SegmentID]; !exists {
			return fmt.Errorf("catalog: cannot update unknown segment id %d", e.SegmentID)
		}
	}

	if err := c.persist(encodeCommit(retired, updated, created)); err != nil {
		return err
	}
	for _, id := range retired {
		delete(c.entries, id)
	}
	for _, e := range updated {
		c.entries[e.SegmentID] = e
	}
	if created != nil {
		c.entries[created.SegmentID] = *created
		c.order = append(c.order, created.SegmentID)
	}
	return nil
}

func (c *SegmentIndex) persist(record []byte) error {
	if err := writeFrame(c.f, record); err != nil {
		return fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	return nil
}

// IterAll returns every live entry, ordered by segment id ascending.
func (c *SegmentIndex) IterAll() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	for _, id := range c.liveOrder() {
		out = append(out, c.entries[id])
	}
	return out
}

// IterForUID returns every live entry holding rows for uid, ordered by
// segment id ascending.
func (c *SegmentIndex) IterForUID(uid string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for _, id := range c.liveOrder() {
		e := c.entries[id]
		for _, u := range e.UIDs {
			if u == uid {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// liveOrder returns the ids still present in c.entries, skipping ids in
// c.order that a Commit retired and any repeats, sorted ascending.
func (c *SegmentIndex) liveOrder() []uint32 {
	seen := make(map[uint32]bool, len(c.entries))
	out := make([]uint32, 0, len(c.entries))
	for _, id := range c.order {
		if _, ok := c.entries[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close flushes and closes the underlying catalog file.
func (c *SegmentIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f.Close()
}
