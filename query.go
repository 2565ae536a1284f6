package zonedb

import (
	"github.com/relaysix/zonedb/internal/fleet"
	"github.com/relaysix/zonedb/internal/query"
	"github.com/relaysix/zonedb/internal/segment"
)

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
	Value Scalar
}

// BoolOp combines Conds into a Where's top-level shape. Only a pure AND
// of leaf conditions unlocks progressive zone pruning (spec §4.F step 1).
type BoolOp int

const (
	BoolAnd BoolOp = iota
	BoolOr
	BoolNot
)

// Where is a query predicate tree: Op combines Conds (leaves) under
// BoolAnd/BoolOr, or negates a single nested Where under BoolNot.
type Where struct {
	Op    BoolOp
	Conds []Cond
	Not   *Where
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

// Agg is one requested aggregation; Field is unused for CountAll.
type Agg struct {
	Kind  AggKind
	Field string
}

// SequenceLink is one hop of an EventSequence: FollowedBy false means
// PrecededBy.
type SequenceLink struct {
	FollowedBy bool
	Target     string
}

// EventSequence describes a FOLLOWED_BY/PRECEDED_BY chain joined by
// link_field equality: a FOLLOWED_BY hop must be strictly later in
// timestamp than the event before it, a PRECEDED_BY hop strictly
// earlier (spec §4.F "Event Sequences").
type EventSequence struct {
	HeadEventType string
	HeadField     string
	Links         []SequenceLink
}

// Query is the shape every Store.Query call plans and executes, fanned
// out across every shard the coordinator owns unless ContextID pins it
// to one (spec §4.F).
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
	TimeBucket uint64

	Sequence  *EventSequence
	LinkField string

	// SecondaryOrderBy breaks OrderBy ties, in priority order, always
	// ascending (the row_comparator.rs-grounded tiebreak from
	// SPEC_FULL.md §4.F).
	SecondaryOrderBy []string
}

// Row is one event's worth of returned column values.
type Row struct {
	ContextID string
	Timestamp uint64
	Fields    map[string]Scalar
}

// Group is one finalized aggregation group: KeyValues holds the
// GroupBy field values in request order, Values holds one result per
// requested Agg in the same order.
type Group struct {
	KeyValues []Scalar
	Bucket    uint64
	Values    []Scalar
}

// SequenceMatch is one joined chain: one row per hop, in hop order.
type SequenceMatch struct {
	LinkValue string
	Rows      []Row
}

// QueryResult is the answer to a Query: exactly one of Rows, Groups, or
// Sequences is populated, matching whether Aggs or Sequence was set.
type QueryResult struct {
	Rows      []Row
	Groups    []Group
	Sequences []SequenceMatch
}

func toInternalOp(op Op) query.Op {
	switch op {
	case OpNeq:
		return query.OpNeq
	case OpLt:
		return query.OpLt
	case OpLte:
		return query.OpLte
	case OpGt:
		return query.OpGt
	case OpGte:
		return query.OpGte
	default:
		return query.OpEq
	}
}

func toInternalBoolOp(op BoolOp) query.BoolOp {
	switch op {
	case BoolOr:
		return query.BoolOr
	case BoolNot:
		return query.BoolNot
	default:
		return query.BoolAnd
	}
}

func toInternalWhere(w *Where) *query.Where {
	if w == nil {
		return nil
	}
	conds := make([]query.Cond, len(w.Conds))
	for i, c := range w.Conds {
		conds[i] = query.Cond{Field: c.Field, Op: toInternalOp(c.Op), Value: toSegmentValue(c.Value)}
	}
	return &query.Where{Op: toInternalBoolOp(w.Op), Conds: conds, Not: toInternalWhere(w.Not)}
}

func toInternalAggKind(k AggKind) query.AggKind {
	switch k {
	case CountField:
		return query.CountField
	case CountUnique:
		return query.CountUnique
	case Sum:
		return query.Sum
	case Avg:
		return query.Avg
	case Min:
		return query.Min
	case Max:
		return query.Max
	default:
		return query.CountAll
	}
}

func toInternalAggs(aggs []Agg) []query.Agg {
	if aggs == nil {
		return nil
	}
	out := make([]query.Agg, len(aggs))
	for i, a := range aggs {
		out[i] = query.Agg{Kind: toInternalAggKind(a.Kind), Field: a.Field}
	}
	return out
}

func toInternalSequence(seq *EventSequence) *query.EventSequence {
	if seq == nil {
		return nil
	}
	links := make([]query.SequenceLink, len(seq.Links))
	for i, l := range seq.Links {
		links[i] = query.SequenceLink{FollowedBy: l.FollowedBy, Target: l.Target}
	}
	return &query.EventSequence{HeadEventType: seq.HeadEventType, HeadField: seq.HeadField, Links: links}
}

// toInternalQuery converts a public Query into the internal/query shape
// the shard and fleet packages plan and execute against.
func toInternalQuery(q *Query) *query.Query {
	return &query.Query{
		EventType:        q.EventType,
		ContextID:        q.ContextID,
		Since:            q.Since,
		Where:            toInternalWhere(q.Where),
		OrderBy:          q.OrderBy,
		OrderAsc:         q.OrderAsc,
		Limit:            q.Limit,
		Offset:           q.Offset,
		ReturnFields:     q.ReturnFields,
		Aggs:             toInternalAggs(q.Aggs),
		GroupBy:          q.GroupBy,
		TimeBucket:       q.TimeBucket,
		Sequence:         toInternalSequence(q.Sequence),
		LinkField:        q.LinkField,
		SecondaryOrderBy: q.SecondaryOrderBy,
	}
}

func fromSegmentRow(r segment.Row) Row {
	fields := make(map[string]Scalar, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = fromSegmentValue(v)
	}
	return Row{ContextID: r.ContextID, Timestamp: r.Timestamp, Fields: fields}
}

func fromSegmentRows(rows []segment.Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = fromSegmentRow(r)
	}
	return out
}

func fromFinalGroups(groups []fleet.FinalGroup) []Group {
	if groups == nil {
		return nil
	}
	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = Group{
			KeyValues: fromSegmentValues(g.KeyValues),
			Bucket:    g.Bucket,
			Values:    fromSegmentValues(g.Values),
		}
	}
	return out
}

func fromSegmentValues(values []segment.Value) []Scalar {
	if values == nil {
		return nil
	}
	out := make([]Scalar, len(values))
	for i, v := range values {
		out[i] = fromSegmentValue(v)
	}
	return out
}

func fromSequenceMatches(matches []query.SequenceMatch) []SequenceMatch {
	if matches == nil {
		return nil
	}
	out := make([]SequenceMatch, len(matches))
	for i, m := range matches {
		out[i] = SequenceMatch{LinkValue: m.LinkValue, Rows: fromSegmentRows(m.Rows)}
	}
	return out
}
