package zonedb

// Command is the family of requests a Store accepts (spec §6: "Store,
// Query, Replay, Flush, Shutdown"), dispatched through Handle exactly
// as (*shard.Shard).Handle dispatches its own Command family one level
// down. Replay has no public command: it only ever runs internally,
// during a shard's own Open/recovery.
type Command interface {
	command()
}

// StoreCmd appends one event, routed to the shard owning its
// context_id.
type StoreCmd struct {
	Event Event
}

func (StoreCmd) command() {}

// QueryCmd runs q against eventType across every shard the query
// touches.
type QueryCmd struct {
	EventType string
	Query     *Query
}

func (QueryCmd) command() {}

// FlushCmd forces every shard to freeze and flush its active memtable.
type FlushCmd struct{}

func (FlushCmd) command() {}

// CompactCmd runs one round of compaction at each of Levels (level 0
// only, if empty) across every shard.
type CompactCmd struct {
	Levels []int
}

func (CompactCmd) command() {}

// ShutdownCmd drains every shard, flushing and closing each in turn.
type ShutdownCmd struct{}

func (ShutdownCmd) command() {}

// Result is the family of values Handle returns; the concrete type
// depends on which Command was submitted.
type Result interface{}

// StoreResult acknowledges a StoreCmd.
type StoreResult struct {
	UID string
}

// FlushResult acknowledges a FlushCmd.
type FlushResult struct{}

// CompactResult acknowledges a CompactCmd.
type CompactResult struct{}

// ShutdownResult acknowledges a ShutdownCmd.
type ShutdownResult struct{}
