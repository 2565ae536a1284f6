package query

import (
	"testing"

	"github.com/relaysix/zonedb/internal/segment"
)

func ladderPair(rungsAsc, rungsDesc []segment.LadderRung) [2]*segment.Ladder {
	return [2]*segment.Ladder{
		{Asc: true, Rungs: rungsAsc},
		{Asc: false, Rungs: rungsDesc},
	}
}

func TestSelectPickedZones_kWayMergeAscending(t *testing.T) {
	ladders := map[string]segment.FieldLadders{
		"seg-a": {
			"amount": ladderPair(
				[]segment.LadderRung{
					{ZoneID: 0, Value: segment.Value{Kind: segment.KindF64, F64: 1}},
					{ZoneID: 1, Value: segment.Value{Kind: segment.KindF64, F64: 5}},
				},
				nil,
			),
		},
		"seg-b": {
			"amount": ladderPair(
				[]segment.LadderRung{
					{ZoneID: 0, Value: segment.Value{Kind: segment.KindF64, F64: 2}},
					{ZoneID: 1, Value: segment.Value{Kind: segment.KindF64, F64: 9}},
				},
				nil,
			),
		},
	}

	picked := SelectPickedZones("u1", "amount", true, 2, 0, 1, ladders)
	if picked.K != 2 {
		t.Fatalf("expected k=2, got %d", picked.K)
	}
	if len(picked.Zones) != 2 {
		t.Fatalf("expected 2 picked zones, got %d", len(picked.Zones))
	}
	// Smallest two values (1 from seg-a zone0, 2 from seg-b zone0) must win.
	if picked.Zones[0].SegmentLabel != "seg-a" || picked.Zones[0].ZoneID != 0 {
		t.Errorf("expected seg-a zone 0 first, got %+v", picked.Zones[0])
	}
	if picked.Zones[1].SegmentLabel != "seg-b" || picked.Zones[1].ZoneID != 0 {
		t.Errorf("expected seg-b zone 0 second, got %+v", picked.Zones[1])
	}
	if picked.Cutoff.F64 != 2 {
		t.Errorf("expected cutoff 2, got %v", picked.Cutoff.F64)
	}
}

func TestSelectPickedZones_missingLadderSkipped(t *testing.T) {
	ladders := map[string]segment.FieldLadders{
		"seg-a": {},
	}
	picked := SelectPickedZones("u1", "amount", true, 1, 0, 10, ladders)
	if len(picked.Zones) != 0 {
		t.Fatalf("expected no zones when no segment has a ladder for the field, got %v", picked.Zones)
	}
}
