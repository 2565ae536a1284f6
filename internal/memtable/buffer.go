package memtable

import (
	"sync"
)

// errBuffer is this package's sentinel error type.
type errBuffer string

func (e errBuffer) Error() string { return string(e) }

// ErrNoSlotAvailable is returned by TryFreeze when every passive slot is
// occupied; the caller must apply back-pressure per spec §4.B / §5.
const ErrNoSlotAvailable = errBuffer("memtable: no passive slot available")

// slot holds one frozen memtable awaiting flush, plus the WAL segment
// id it must stay alive for until the flush commits (spec §4.B: "slot
// is freed only after (a) segment fully written, (b) catalog updated,
// (c) WAL for that buffer reclaimable").
type slot struct {
	occupied  bool
	mt        *MemTable
	walSegID  uint64
}

// PassiveBufferSet is a fixed-size ring of slots holding frozen
// memtables awaiting flush, per spec §4.B. Grounded on hasty.DB's single
// flushingMemtable pointer, generalized to N independently claimable
// slots so more than one flush can be outstanding.
type PassiveBufferSet struct {
	mu    sync.Mutex
	slots []slot
}

// NewPassiveBufferSet returns a ring of n empty slots.
func NewPassiveBufferSet(n int) *PassiveBufferSet {
	return &PassiveBufferSet{slots: make([]slot, n)}
}

// TryFreeze atomically claims a free slot, moves active into it along
// with the WAL segment id active was being written against, and returns
// the slot id. Returns ErrNoSlotAvailable if every slot is occupied.
func (p *PassiveBufferSet) TryFreeze(active *MemTable, walSegID uint64) (slotID int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		if !p.slots[i].occupied {
			p.slots[i] = slot{occupied: true, mt: active, walSegID: walSegID}
			return i, nil
		}
	}
	return -1, ErrNoSlotAvailable
}

// Release frees slotID after its segment has been flushed and the
// catalog committed.
func (p *PassiveBufferSet) Release(slotID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[slotID] = slot{}
}

// Get returns the memtable occupying slotID, or nil if the slot is free.
func (p *PassiveBufferSet) Get(slotID int) *MemTable {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.slots[slotID].occupied {
		return nil
	}
	return p.slots[slotID].mt
}

// MinWALSegment returns the lowest WAL segment id still pinned by an
// occupied slot, and whether any slot is occupied at all. The shard
// uses this to bound how far it can safely call Log.ReclaimUpTo.
func (p *PassiveBufferSet) MinWALSegment() (id uint64, any bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		if !p.slots[i].occupied {
			continue
		}
		if !any || p.slots[i].walSegID < id {
			id = p.slots[i].walSegID
			any = true
		}
	}
	return id, any
}

// SnapshotReaders returns a read-only snapshot of every currently
// occupied slot's memtable, for query-time fan-out across active +
// passive buffers (spec §4.B: "snapshot_readers()").
func (p *PassiveBufferSet) SnapshotReaders() []*MemTable {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*MemTable
	for i := range p.slots {
		if p.slots[i].occupied {
			out = append(out, p.slots[i].mt)
		}
	}
	return out
}

// Occupancy reports how many of the ring's slots are currently in use,
// used by the shard to decide whether to apply back-pressure before
// even attempting TryFreeze.
func (p *PassiveBufferSet) Occupancy() (occupied, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		if p.slots[i].occupied {
			occupied++
		}
	}
	return occupied, len(p.slots)
}
