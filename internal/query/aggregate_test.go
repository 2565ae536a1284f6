package query

import (
	"testing"

	"github.com/relaysix/zonedb/internal/segment"
)

func amountRow(ctx string, ts uint64, tier string, amount float64) segment.Row {
	return segment.Row{
		ContextID: ctx,
		Timestamp: ts,
		Fields: map[string]segment.Value{
			"tier":   {Kind: segment.KindString, Str: tier},
			"amount": {Kind: segment.KindF64, F64: amount},
		},
	}
}

func TestAggregate_groupByAndTimeBucket(t *testing.T) {
	rows := []segment.Row{
		amountRow("ctxA", 0, "gold", 10),
		amountRow("ctxA", 5, "gold", 20),
		amountRow("ctxB", 100, "silver", 5),
	}
	aggs := []Agg{{Kind: Sum, Field: "amount"}, {Kind: CountAll}}
	groups := Aggregate(rows, aggs, []string{"tier"}, 50)

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups (gold@bucket0, silver@bucket100), got %d", len(groups))
	}
	for _, g := range groups {
		out := Finalize(g.State, aggs)
		if g.KeyValues[0].Str == "gold" {
			if out[0].F64 != 30 {
				t.Errorf("expected gold sum 30, got %v", out[0].F64)
			}
			if out[1].U64 != 2 {
				t.Errorf("expected gold count 2, got %v", out[1].U64)
			}
		}
	}
}

func TestAggregate_fleetMergeIsAssociative(t *testing.T) {
	aggs := []Agg{{Kind: Sum, Field: "amount"}, {Kind: CountUnique, Field: "tier"}, {Kind: Avg, Field: "amount"}}

	shard1 := Aggregate([]segment.Row{
		amountRow("ctxA", 0, "gold", 10),
		amountRow("ctxA", 1, "silver", 20),
	}, aggs, nil, 0)
	shard2 := Aggregate([]segment.Row{
		amountRow("ctxB", 2, "gold", 30),
	}, aggs, nil, 0)

	merged := MergeGroupMaps([]map[string]*GroupResult{shard1, shard2})
	if len(merged) != 1 {
		t.Fatalf("expected a single group (no group-by fields), got %d", len(merged))
	}
	for _, g := range merged {
		out := Finalize(g.State, aggs)
		if out[0].F64 != 60 {
			t.Errorf("expected merged sum 60, got %v", out[0].F64)
		}
		if out[1].U64 != 2 {
			t.Errorf("expected 2 unique tiers, got %v", out[1].U64)
		}
		if out[2].F64 != 20 {
			t.Errorf("expected merged avg 20, got %v", out[2].F64)
		}
	}
}

func TestAggregate_minMaxPairwise(t *testing.T) {
	aggs := []Agg{{Kind: Min, Field: "amount"}, {Kind: Max, Field: "amount"}}
	shard1 := Aggregate([]segment.Row{amountRow("ctxA", 0, "gold", 50)}, aggs, nil, 0)
	shard2 := Aggregate([]segment.Row{amountRow("ctxB", 0, "gold", 5), amountRow("ctxB", 1, "gold", 99)}, aggs, nil, 0)

	merged := MergeGroupMaps([]map[string]*GroupResult{shard1, shard2})
	for _, g := range merged {
		out := Finalize(g.State, aggs)
		if out[0].F64 != 5 {
			t.Errorf("expected min 5, got %v", out[0].F64)
		}
		if out[1].F64 != 99 {
			t.Errorf("expected max 99, got %v", out[1].F64)
		}
	}
}
