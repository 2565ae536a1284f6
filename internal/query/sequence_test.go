package query

import (
	"testing"

	"github.com/relaysix/zonedb/internal/segment"
)

func seqRow(link string, ts uint64) segment.Row {
	return segment.Row{
		Timestamp: ts,
		Fields: map[string]segment.Value{
			"user_id": {Kind: segment.KindString, Str: link},
		},
	}
}

func TestMatchSequences_followedBy(t *testing.T) {
	seq := &EventSequence{
		HeadEventType: "signup",
		Links:         []SequenceLink{{FollowedBy: true, Target: "purchase"}},
	}
	signups := []segment.Row{seqRow("u1", 10), seqRow("u2", 20)}
	purchases := []segment.Row{seqRow("u1", 15), seqRow("u2", 5)} // u2's purchase precedes its signup

	matches := MatchSequences(seq, [][]segment.Row{signups, purchases}, "user_id", "timestamp")
	if len(matches) != 1 {
		t.Fatalf("expected 1 matched chain, got %d", len(matches))
	}
	if matches[0].LinkValue != "u1" {
		t.Errorf("expected u1 to match, got %s", matches[0].LinkValue)
	}
}

func TestMatchSequences_precededBy(t *testing.T) {
	seq := &EventSequence{
		HeadEventType: "purchase",
		Links:         []SequenceLink{{FollowedBy: false, Target: "signup"}},
	}
	purchases := []segment.Row{seqRow("u1", 15)}
	signups := []segment.Row{seqRow("u1", 10)}

	matches := MatchSequences(seq, [][]segment.Row{purchases, signups}, "user_id", "timestamp")
	if len(matches) != 1 {
		t.Fatalf("expected 1 matched chain, got %d", len(matches))
	}
}

func TestSplitSequenceQuery_dropsEventTypeCond(t *testing.T) {
	q := &Query{
		Sequence: &EventSequence{
			HeadEventType: "signup",
			Links:         []SequenceLink{{FollowedBy: true, Target: "purchase"}},
		},
		Where: &Where{Op: BoolAnd, Conds: []Cond{
			{Field: "event_type", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "signup"}},
			{Field: "region", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "us"}},
		}},
	}
	subs := SplitSequenceQuery(q)
	if len(subs) != 2 {
		t.Fatalf("expected 2 sub-queries, got %d", len(subs))
	}
	if subs[0].EventType != "signup" || subs[1].EventType != "purchase" {
		t.Fatalf("unexpected event types: %s, %s", subs[0].EventType, subs[1].EventType)
	}
	for _, sub := range subs {
		for _, c := range sub.Where.Conds {
			if c.Field == "event_type" {
				t.Errorf("expected event_type condition stripped, found in %+v", sub.Where)
			}
		}
	}
}

func TestLimitSequenceMatches_appliesToChainCount(t *testing.T) {
	matches := []SequenceMatch{{LinkValue: "a"}, {LinkValue: "b"}, {LinkValue: "c"}}
	got := LimitSequenceMatches(matches, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches after limit, got %d", len(got))
	}
}
