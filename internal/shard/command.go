package shard

import (
	"github.com/relaysix/zonedb/internal/query"
	"github.com/relaysix/zonedb/internal/segment"
	"github.com/relaysix/zonedb/internal/wal"
)

// Command is the family of requests a Shard actor accepts, per spec §4
// ("one actor per shard, commands dispatched through a single bounded
// channel"). Each concrete type below implements it as a marker.
type Command interface {
	command()
}

// StoreCommand appends one event to the shard.
type StoreCommand struct {
	Event Event
}

func (StoreCommand) command() {}

// QueryCommand runs q against this shard's on-disk segments and
// in-memory buffers.
type QueryCommand struct {
	EventType string
	Query     *query.Query
}

func (QueryCommand) command() {}

// FlushCommand forces the active memtable to freeze and flush,
// regardless of whether it has reached capacity. Used by tests and by
// an operator-triggered checkpoint.
type FlushCommand struct{}

func (FlushCommand) command() {}

// ReplayCommand replays previously-recovered WAL records into the
// active memtable. Open sends this once, internally, right after
// starting the actor and before returning to its caller, so recovery
// runs through the same code path Store does.
type ReplayCommand struct {
	records []wal.Record
}

func (ReplayCommand) command() {}

// ShutdownCommand drains in-flight work, freezes and flushes the
// active memtable, fsyncs, and stops the actor (spec §5 shutdown
// sequence).
type ShutdownCommand struct{}

func (ShutdownCommand) command() {}

// Result is the family of values Handle returns; the concrete type
// depends on which Command was submitted.
type Result interface{}

// StoreResult acknowledges a StoreCommand.
type StoreResult struct {
	UID string
}

// QueryResult carries a QueryCommand's matching rows, or its
// aggregated groups when the query requested aggregation.
type QueryResult struct {
	Rows   []segment.Row
	Groups []*query.GroupResult
}

// FlushResult acknowledges a FlushCommand.
type FlushResult struct {
	Flushed bool
}

// ReplayResult reports how many events were recovered from the WAL.
type ReplayResult struct {
	Recovered int
}

// ShutdownResult acknowledges a ShutdownCommand.
type ShutdownResult struct{}
