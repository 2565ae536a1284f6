package query

import (
	"testing"

	"github.com/relaysix/zonedb/internal/segment"
)

func pruneTestReader(t *testing.T) *segment.Reader {
	t.Helper()
	codec, err := segment.NewCodec(segment.CodecLZ4)
	if err != nil {
		t.Fatal(err)
	}
	flusher := segment.NewFlusher(2, codec, nil)

	mk := func(ctx, tier string, orderID int64, amount float64, ts uint64) segment.Row {
		return segment.Row{
			ContextID: ctx,
			Timestamp: ts,
			Fields: map[string]segment.Value{
				"context_id": {Kind: segment.KindString, Str: ctx},
				"tier":       {Kind: segment.KindString, Str: tier},
				"order_id":   {Kind: segment.KindI64, I64: orderID},
				"amount":     {Kind: segment.KindF64, F64: amount},
				"timestamp":  {Kind: segment.KindU64, U64: ts},
			},
		}
	}
	part := segment.Partition{
		UID: "u1",
		Rows: []segment.Row{
			mk("ctxA", "gold", 100, 10, 0),
			mk("ctxA", "silver", 105, 20, 1),
			mk("ctxB", "gold", 200, 5, 2),
			mk("ctxB", "gold", 210, 50, 3),
		},
		Fields: []segment.FieldSpec{
			{Name: "context_id", Kind: segment.KindString},
			{Name: "tier", Kind: segment.KindString, Enum: []string{"gold", "silver"}},
			{Name: "order_id", Kind: segment.KindI64, IDLike: true},
			{Name: "amount", Kind: segment.KindF64},
			{Name: "timestamp", Kind: segment.KindU64},
		},
	}

	dir := t.TempDir()
	if _, err := flusher.WriteSegment(dir, 0, 0, []segment.Partition{part}); err != nil {
		t.Fatal(err)
	}
	reader, err := segment.OpenPartition(dir+"/00000", "u1", codec)
	if err != nil {
		t.Fatal(err)
	}
	return reader
}

func TestPruneZones_enumEquality(t *testing.T) {
	reader := pruneTestReader(t)
	fs, _ := reader.FieldSpec("tier")
	zones := pruneEquality(reader, fs, segment.Value{Kind: segment.KindString, Str: "silver"})
	if len(zones) != 1 || zones[0] != 0 {
		t.Fatalf("expected only zone 0 for silver, got %v", zones)
	}
}

func TestPruneZones_zoneXORFilterEquality(t *testing.T) {
	reader := pruneTestReader(t)
	fs, _ := reader.FieldSpec("order_id")
	zones := pruneEquality(reader, fs, segment.Value{Kind: segment.KindI64, I64: 105})
	if len(zones) != 1 || zones[0] != 0 {
		t.Fatalf("expected only zone 0 for order_id=105, got %v", zones)
	}
}

func TestPruneZones_idLikeRange(t *testing.T) {
	reader := pruneTestReader(t)
	fs, _ := reader.FieldSpec("order_id")
	cond := Cond{Field: "order_id", Op: OpGt, Value: segment.Value{Kind: segment.KindI64, I64: 150}}
	zones := pruneRange(reader, fs, cond)
	if len(zones) != 1 || zones[0] != 1 {
		t.Fatalf("expected only zone 1 for order_id > 150, got %v", zones)
	}
}

func TestPruneZones_nonIDRange(t *testing.T) {
	reader := pruneTestReader(t)
	fs, _ := reader.FieldSpec("amount")
	cond := Cond{Field: "amount", Op: OpGt, Value: segment.Value{Kind: segment.KindF64, F64: 25}}
	zones := pruneRange(reader, fs, cond)
	if len(zones) != 1 || zones[0] != 1 {
		t.Fatalf("expected only zone 1 for amount > 25, got %v", zones)
	}
}

func TestPruneZones_missingFieldFallsBackToAllZones(t *testing.T) {
	reader := pruneTestReader(t)
	step := FilterStep{Cond: Cond{Field: "does_not_exist", Op: OpEq, Value: segment.Value{Kind: segment.KindString, Str: "x"}}}
	zones := PruneZones(reader, step)
	if len(zones) != 2 {
		t.Fatalf("expected fallback to all 2 zones, got %v", zones)
	}
}
