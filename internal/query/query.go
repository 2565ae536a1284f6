// Package query implements the query planner, per-segment executor,
// shard fan-out, and result mergers described in spec §4.F.
package query

import "github.com/relaysix/zonedb/internal/segment"

// Op is a leaf comparison operator in a Query's where clause.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

// Cond is one leaf comparison: field OP value.
type Cond struct {
	Field string
	Op    Op
	Value segment.Value
}

// BoolOp combines Conds into the where clause's top-level shape. Only
// a pure AND of leaf conditions gets progressive pruning (spec §4.F
// step 1); OR/NOT still filter correctly, just without pruning
// acceleration.
type BoolOp int

const (
	BoolAnd BoolOp = iota
	BoolOr
	BoolNot
)

// Where is the query predicate tree: Op combines Conds (leaves) under
// BoolAnd/BoolOr, or negates a single nested Where under BoolNot.
type Where struct {
	Op    BoolOp
	Conds []Cond
	Not   *Where
}

// IsPureAnd reports whether w is a flat conjunction of leaf conditions,
// the only shape that unlocks progressive zone pruning.
func (w *Where) IsPureAnd() bool {
	return w != nil && w.Op == BoolAnd && w.Not == nil
}

// Agg is one requested aggregation: Field is unused for CountAll.
type Agg struct {
	Kind  AggKind
	Field string
}

// AggKind enumerates the aggregator variants from spec §4.F.
type AggKind int

const (
	CountAll AggKind = iota
	CountField
	CountUnique
	Sum
	Avg
	Min
	Max
)

// SequenceLink is one hop of an EventSequence.
type SequenceLink struct {
	FollowedBy bool // false means PrecededBy
	Target     string
}

// EventSequence describes a FOLLOWED_BY/PRECEDED_BY chain joined by
// link_field equality: a FOLLOWED_BY hop must be strictly later in
// sequence_time_field than the event before it, a PRECEDED_BY hop
// strictly earlier (spec §4.F "Event Sequences").
type EventSequence struct {
	HeadEventType string
	HeadField     string
	Links         []SequenceLink
}

// Query is the shape every shard plans and executes (spec §4.F).
type Query struct {
	EventType    string
	ContextID    string
	Since        uint64
	Where        *Where
	OrderBy      string
	OrderAsc     bool
	Limit        int
	Offset       int
	ReturnFields []string

	Aggs       []Agg
	GroupBy    []string
	TimeBucket uint64 // bucket width in the same unit as timestamp; 0 disables

	Sequence   *EventSequence
	LinkField  string
	SecondaryOrderBy []string // RowComparator tiebreak fields, in priority order
}
