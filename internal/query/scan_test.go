package query

import (
	"testing"

	"github.com/relaysix/zonedb/internal/segment"
)

func TestScanSegment_filtersAndProjects(t *testing.T) {
	reader := pruneTestReader(t)
	q := &Query{
		Where: &Where{
			Op: BoolAnd,
			Conds: []Cond{
				{Field: "tier", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "gold"}},
			},
		},
		ReturnFields: []string{"order_id"},
	}
	plan := Plan(q)

	batches, err := ScanSegment(reader, plan, q.ReturnFields, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	var rows []segment.Row
	for _, b := range batches {
		rows = append(rows, b.Rows...)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 gold rows, got %d", len(rows))
	}
	for _, r := range rows {
		if _, ok := r.Fields["tier"]; ok {
			t.Errorf("expected tier to be excluded from projection, row=%+v", r)
		}
		if _, ok := r.Fields["order_id"]; !ok {
			t.Errorf("expected order_id present in projection, row=%+v", r)
		}
	}
}

func TestScanSegment_batchSizeSplitsOutput(t *testing.T) {
	reader := pruneTestReader(t)
	q := &Query{ReturnFields: []string{"order_id"}}
	plan := Plan(q)

	batches, err := ScanSegment(reader, plan, q.ReturnFields, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 4 {
		t.Fatalf("expected 4 batches of 1 row each across 4 rows, got %d", len(batches))
	}
	for _, b := range batches {
		if len(b.Rows) != 1 {
			t.Errorf("expected batch size 1, got %d", len(b.Rows))
		}
	}
}

func TestMatchesWhere_orNotShapes(t *testing.T) {
	row := segment.Row{Fields: map[string]segment.Value{
		"tier": {Kind: segment.KindString, Str: "gold"},
	}}
	or := &Where{Op: BoolOr, Conds: []Cond{
		{Field: "tier", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "silver"}},
		{Field: "tier", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "gold"}},
	}}
	if !matchesWhere(row, or) {
		t.Error("expected OR match on second condition")
	}

	not := &Where{Op: BoolNot, Not: &Where{Op: BoolAnd, Conds: []Cond{
		{Field: "tier", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "gold"}},
	}}}
	if matchesWhere(row, not) {
		t.Error("expected NOT to exclude a matching row")
	}
}
