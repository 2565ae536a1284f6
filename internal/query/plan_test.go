package query

import (
	"testing"

	"github.com/relaysix/zonedb/internal/segment"
)

func TestPlan_pureAndPushesContextIDFirst(t *testing.T) {
	q := &Query{
		Where: &Where{
			Op: BoolAnd,
			Conds: []Cond{
				{Field: "amount", Op: OpGt, Value: segment.Value{Kind: segment.KindF64, F64: 10}},
				{Field: "context_id", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "ctx1"}},
			},
		},
	}
	plan := Plan(q)
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Cond.Field != "context_id" {
		t.Fatalf("expected context_id first, got %s", plan.Steps[0].Cond.Field)
	}
	for _, s := range plan.Steps {
		if !s.Prunable {
			t.Fatalf("expected all steps prunable under pure AND")
		}
	}
}

func TestPlan_orDisablesPruning(t *testing.T) {
	q := &Query{
		Where: &Where{
			Op: BoolOr,
			Conds: []Cond{
				{Field: "context_id", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "ctx1"}},
				{Field: "amount", Op: OpGt, Value: segment.Value{Kind: segment.KindF64, F64: 10}},
			},
		},
	}
	plan := Plan(q)
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	for _, s := range plan.Steps {
		if s.Prunable {
			t.Fatalf("expected no step prunable under OR")
		}
	}
}

func TestPlan_notDisablesPruning(t *testing.T) {
	q := &Query{
		Where: &Where{
			Op: BoolNot,
			Not: &Where{
				Op:    BoolAnd,
				Conds: []Cond{{Field: "context_id", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "ctx1"}}},
			},
		},
	}
	plan := Plan(q)
	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Prunable {
		t.Fatalf("expected step not prunable under NOT")
	}
}
