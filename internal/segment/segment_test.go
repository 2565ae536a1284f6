package segment

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func rows(n int) []Row {
	out := make([]Row, n)
	for i := 0; i < n; i++ {
		out[i] = Row{
			ContextID: "ctx1",
			Timestamp: uint64(i),
			Fields: map[string]Value{
				"amount": {Kind: KindF64, F64: float64(i)},
				"tier":   {Kind: KindString, Str: "gold"},
			},
		}
	}
	return out
}

func TestCutZones_exactBoundary(t *testing.T) {
	// Boundary scenario from spec §8: "Zone at exactly size Z cuts cleanly."
	zones := cutZones(4, 2)
	if len(zones) != 2 {
		t.Fatalf("expected 2 zones, got %d", len(zones))
	}
	if zones[0].RowStart != 0 || zones[0].RowEnd != 2 {
		t.Fatalf("unexpected zone 0 bounds: %+v", zones[0])
	}
	if zones[1].RowStart != 2 || zones[1].RowEnd != 4 {
		t.Fatalf("unexpected zone 1 bounds: %+v", zones[1])
	}
}

func TestCutZones_shortFinalZone(t *testing.T) {
	zones := cutZones(5, 2)
	if len(zones) != 3 {
		t.Fatalf("expected 3 zones, got %d", len(zones))
	}
	if zones[2].RowStart != 4 || zones[2].RowEnd != 5 {
		t.Fatalf("unexpected final zone bounds: %+v", zones[2])
	}
}

func TestColumnZone_roundTrip(t *testing.T) {
	tests := map[string]struct {
		kind   ValueKind
		values []Value
	}{
		"i64 with nulls": {
			kind: KindI64,
			values: []Value{
				{Kind: KindI64, I64: 42},
				{Kind: KindNull},
				{Kind: KindI64, I64: -7},
			},
		},
		"string": {
			kind: KindString,
			values: []Value{
				{Kind: KindString, Str: "alpha"},
				{Kind: KindString, Str: ""},
				{Kind: KindNull},
			},
		},
		"string with null in the middle": {
			// A null that isn't the last value: if the null placeholder's
			// fixed 8-byte width isn't skipped exactly, every value after
			// it misreads its length prefix from the wrong offset.
			kind: KindString,
			values: []Value{
				{Kind: KindString, Str: "abc"},
				{Kind: KindNull},
				{Kind: KindString, Str: "xy"},
			},
		},
		"bool": {
			kind: KindBool,
			values: []Value{
				{Kind: KindBool, Bool: true},
				{Kind: KindBool, Bool: false},
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			encoded := encodeColumnZone(tc.values)
			got, err := decodeColumnZone(encoded, len(tc.values), tc.kind)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.values, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestXORFilter_membership(t *testing.T) {
	values := []Value{
		{Kind: KindString, Str: "gold"},
		{Kind: KindString, Str: "silver"},
	}
	xf, err := BuildXORFilter(values)
	if err != nil {
		t.Fatal(err)
	}
	if !xf.MayContain(Value{Kind: KindString, Str: "gold"}) {
		t.Error("expected gold to be a member")
	}
	if xf.MayContain(Value{Kind: KindString, Str: "platinum"}) {
		t.Error("did not expect platinum to be reported as a member (flaky only at <0.5% FP rate)")
	}
}

func TestRangeSurf_containsRange(t *testing.T) {
	// Scenario from spec §8 #3: segment A has order_id in {100,105}.
	zoneValues := [][]Value{
		{{Kind: KindI64, I64: 100}, {Kind: KindI64, I64: 105}},
	}
	rs := BuildRangeSurf(zoneValues)

	if !rs.ContainsRange(0, Value{Kind: KindI64, I64: 10}, Value{Kind: KindI64, I64: 200}) {
		t.Error("expected zone to match order_id > 10")
	}
	if rs.ContainsRange(0, Value{Kind: KindI64, I64: 0}, Value{Kind: KindI64, I64: 99}) {
		t.Error("did not expect zone to match order_id < 100")
	}
	// "Range query with lo = max(zone) matches on <=, not on <" (spec §8).
	if !rs.ContainsRange(0, Value{Kind: KindI64, I64: 105}, Value{Kind: KindI64, I64: 105}) {
		t.Error("expected inclusive upper bound match at the zone max")
	}
}

func TestFlusher_WriteSegment_nullableStringColumn(t *testing.T) {
	// Reproduces spec §3's Optional<T> "stored as null" rule for a
	// string-kind column flushed and read back through the real
	// segment format, not just encodeColumnZone/decodeColumnZone
	// directly: a row whose payload simply omits the field (the normal
	// path for an optional/missing field per fieldValues) sits between
	// two rows that do have a value, so a decode desync would corrupt
	// the row read after it.
	partitionRows := []Row{
		{ContextID: "ctx1", Timestamp: 0, Fields: map[string]Value{"tag": {Kind: KindString, Str: "abc"}}},
		{ContextID: "ctx1", Timestamp: 1, Fields: map[string]Value{}},
		{ContextID: "ctx1", Timestamp: 2, Fields: map[string]Value{"tag": {Kind: KindString, Str: "xy"}}},
	}
	partitions := []Partition{
		{
			UID:    "u1",
			Rows:   partitionRows,
			Fields: []FieldSpec{{Name: "tag", Kind: KindString}},
		},
	}

	flusher := NewFlusher(4, lz4Codec{}, nil)
	dir := t.TempDir()
	if _, err := flusher.WriteSegment(dir, 0, 0, partitions); err != nil {
		t.Fatal(err)
	}

	reader, err := OpenPartition(dir+"/00000", "u1", lz4Codec{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := reader.ReadZoneColumn("tag", 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []Value{
		{Kind: KindString, Str: "abc"},
		{Kind: KindNull},
		{Kind: KindString, Str: "xy"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("nullable string column mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumBitmap_unknownVariantEmpty(t *testing.T) {
	eb := BuildEnumBitmap([]string{"gold", "silver"}, [][]string{{"gold"}, {"silver", "gold"}})

	if got := eb.ZonesWithVariant("gold"); len(got) != 2 {
		t.Fatalf("expected gold in 2 zones, got %v", got)
	}
	// "Enum equality with unknown variant returns empty zone set" (spec §8).
	if got := eb.ZonesWithVariant("platinum"); got != nil {
		t.Fatalf("expected empty zone set for unknown variant, got %v", got)
	}
}

func TestFlusher_WriteSegment_deterministic(t *testing.T) {
	flusher := NewFlusher(2, lz4Codec{}, nil)
	partitions := []Partition{
		{
			UID:  "u1",
			Rows: rows(4),
			Fields: []FieldSpec{
				{Name: "amount", Kind: KindF64},
				{Name: "tier", Kind: KindString},
			},
		},
	}

	dir1 := t.TempDir()
	entry1, err := flusher.WriteSegment(dir1, 0, 0, partitions)
	if err != nil {
		t.Fatal(err)
	}
	dir2 := t.TempDir()
	entry2, err := flusher.WriteSegment(dir2, 0, 0, partitions)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(entry1, entry2); diff != "" {
		t.Fatalf("catalog entries differ across identical runs (-a +b):\n%s", diff)
	}

	reader, err := OpenPartition(dir1+"/00000", "u1", lz4Codec{})
	if err != nil {
		t.Fatal(err)
	}
	if len(reader.Zones()) != 2 {
		t.Fatalf("expected 2 zones for 4 rows at zone size 2, got %d", len(reader.Zones()))
	}

	got, err := reader.ReadZoneColumn("amount", 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []Value{{Kind: KindF64, F64: 0}, {Kind: KindF64, F64: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("zone column mismatch (-want +got):\n%s", diff)
	}
}
