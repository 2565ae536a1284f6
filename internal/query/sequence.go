package query

import (
	"sort"

	"github.com/relaysix/zonedb/internal/segment"
)

// SplitSequenceQuery decomposes a Query carrying an EventSequence into
// one sub-query per hop (the head event type plus every link target),
// dropping any event_type qualifier from the shared where clause since
// each hop already pins its own event type (spec §4.F "Event
// Sequences": "split into one sub-query per event type, re-write where
// clauses to drop cross-type qualifiers").
func SplitSequenceQuery(q *Query) []*Query {
	if q.Sequence == nil {
		return []*Query{q}
	}

	eventTypes := append([]string{q.Sequence.HeadEventType}, hopTargets(q.Sequence)...)
	out := make([]*Query, len(eventTypes))
	for i, et := range eventTypes {
		sub := *q
		sub.EventType = et
		sub.Sequence = nil
		sub.Where = stripEventTypeConds(q.Where)
		out[i] = &sub
	}
	return out
}

func hopTargets(seq *EventSequence) []string {
	out := make([]string, len(seq.Links))
	for i, l := range seq.Links {
		out[i] = l.Target
	}
	return out
}

func stripEventTypeConds(w *Where) *Where {
	if w == nil {
		return nil
	}
	if !w.IsPureAnd() {
		return w
	}
	conds := make([]Cond, 0, len(w.Conds))
	for _, c := range w.Conds {
		if c.Field == "event_type" {
			continue
		}
		conds = append(conds, c)
	}
	if len(conds) == 0 {
		return nil
	}
	return &Where{Op: BoolAnd, Conds: conds}
}

// SequenceMatch is one joined chain: one row per hop, in hop order.
type SequenceMatch struct {
	LinkValue string
	Rows      []segment.Row
}

// MatchSequences joins each hop's matching rows by linkField equality
// and the per-link FOLLOWED_BY/PRECEDED_BY time ordering (strict
// increase or decrease of timeField across the chain). hopRows[0] is
// the head event type's rows; hopRows[i] for i>0 corresponds to
// seq.Links[i-1].Target.
func MatchSequences(seq *EventSequence, hopRows [][]segment.Row, linkField, timeField string) []SequenceMatch {
	if len(hopRows) == 0 {
		return nil
	}

	grouped := make([]map[string][]segment.Row, len(hopRows))
	for i, rows := range hopRows {
		g := make(map[string][]segment.Row)
		for _, r := range rows {
			key := valueString(r.Fields[linkField])
			g[key] = append(g[key], r)
		}
		for k := range g {
			sort.Slice(g[k], func(a, b int) bool {
				return timeValue(g[k][a], timeField) < timeValue(g[k][b], timeField)
			})
		}
		grouped[i] = g
	}

	var matches []SequenceMatch
	for key, heads := range grouped[0] {
		for _, head := range heads {
			chain := []segment.Row{head}
			last := timeValue(head, timeField)
			ok := true
			for hop := 1; hop < len(grouped); hop++ {
				link := seq.Links[hop-1]
				var next segment.Row
				var found bool
				if link.FollowedBy {
					next, found = earliestAfter(grouped[hop][key], timeField, last)
				} else {
					next, found = latestBefore(grouped[hop][key], timeField, last)
				}
				if !found {
					ok = false
					break
				}
				chain = append(chain, next)
				last = timeValue(next, timeField)
			}
			if ok {
				matches = append(matches, SequenceMatch{LinkValue: key, Rows: chain})
			}
		}
	}
	return matches
}

func earliestAfter(rows []segment.Row, timeField string, after uint64) (segment.Row, bool) {
	for _, r := range rows {
		if timeValue(r, timeField) > after {
			return r, true
		}
	}
	return segment.Row{}, false
}

func latestBefore(rows []segment.Row, timeField string, before uint64) (segment.Row, bool) {
	var best segment.Row
	var found bool
	for _, r := range rows {
		t := timeValue(r, timeField)
		if t < before {
			best, found = r, true
		} else {
			break
		}
	}
	return best, found
}

func timeValue(r segment.Row, field string) uint64 {
	if field == "" || field == "timestamp" {
		return r.Timestamp
	}
	v, ok := r.Fields[field]
	if !ok {
		return r.Timestamp
	}
	switch v.Kind {
	case segment.KindU64:
		return v.U64
	case segment.KindI64:
		return uint64(v.I64)
	default:
		return r.Timestamp
	}
}

// LimitSequenceMatches applies limit to the sequence count, not the
// total event count across chains (spec §4.F: "limit applies to
// sequence count").
func LimitSequenceMatches(matches []SequenceMatch, limit int) []SequenceMatch {
	if limit > 0 && limit < len(matches) {
		return matches[:limit]
	}
	return matches
}
