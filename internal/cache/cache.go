// Package cache implements the process-wide decompressed-block and
// zone-metadata cache described in spec §4.D and §9.
package cache

import (
	"sync"

	"github.com/relaysix/zonedb/internal/segment"
)

// Key identifies one cached zone column. The shard id is implicit in
// which BlockCache instance a shard owns, so it never needs to appear
// here (spec §4.D keys by "(shard, segment_id, uid, field, zone_id)").
type Key struct {
	SegmentID uint32
	UID       string
	Field     string
	ZoneID    int
}

type entry struct {
	values     []segment.Value
	refcount   int
	tombstoned bool
}

type shard struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// BlockCache caches decoded zone columns behind a loader function.
// Grounded on mrsladoje-HundDB's BlockManager (lsm/block_manager/
// block_manager.go): lookup-or-load backed by a per-key mutex
// discipline, promoted here from one global LRU behind a singleton to N
// independently locked shards — this repo never uses package-level
// singletons for shared state (see internal/schema.Registry) — so
// concurrent scans over different segments don't contend on one lock.
type BlockCache struct {
	shards []*shard
}

// New returns a BlockCache with shardCount independently locked
// buckets.
func New(shardCount int) *BlockCache {
	if shardCount < 1 {
		shardCount = 1
	}
	c := &BlockCache{shards: make([]*shard, shardCount)}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[Key]*entry)}
	}
	return c
}

func (c *BlockCache) shardFor(key Key) *shard {
	h := key.SegmentID
	for i := 0; i < len(key.UID); i++ {
		h = h*31 + uint32(key.UID[i])
	}
	for i := 0; i < len(key.Field); i++ {
		h = h*31 + uint32(key.Field[i])
	}
	return c.shards[h%uint32(len(c.shards))]
}

// Borrow returns key's cached values, calling load on a miss or after
// the entry was invalidated. The returned release func must be called
// exactly once when the caller is done reading the returned slice;
// until then, a concurrent InvalidateSegment for this key's segment
// defers deleting the entry (spec §9: "readers hold a short-lived
// borrow that is checked at release").
func (c *BlockCache) Borrow(key Key, load func() ([]segment.Value, error)) (values []segment.Value, release func(), err error) {
	s := c.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.tombstoned {
		s.mu.Unlock()
		loaded, err := load()
		if err != nil {
			return nil, nil, err
		}
		s.mu.Lock()
		// Another goroutine may have populated it while this one loaded.
		if cur, ok := s.entries[key]; ok && !cur.tombstoned {
			e = cur
		} else {
			e = &entry{values: loaded}
			s.entries[key] = e
		}
	}
	e.refcount++
	values = e.values
	s.mu.Unlock()

	var released bool
	release = func() {
		if released {
			return
		}
		released = true
		s.mu.Lock()
		e.refcount--
		if e.tombstoned && e.refcount == 0 {
			if cur, ok := s.entries[key]; ok && cur == e {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
	return values, release, nil
}

// InvalidateSegment drops every cached entry for segmentID in one call
// (spec §4.D: "Entries are invalidated when a segment is retired by
// compaction"). An entry with an outstanding borrow is tombstoned
// instead of deleted immediately; its last Release finishes the
// eviction (spec §9 "refcount reaches zero").
func (c *BlockCache) InvalidateSegment(segmentID uint32) {
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if key.SegmentID != segmentID {
				continue
			}
			if e.refcount == 0 {
				delete(s.entries, key)
			} else {
				e.tombstoned = true
			}
		}
		s.mu.Unlock()
	}
}

// Len reports the number of entries currently tracked across all
// shards, live or tombstoned-awaiting-release.
func (c *BlockCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
