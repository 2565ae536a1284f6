package query

import (
	"sort"

	"github.com/relaysix/zonedb/internal/segment"
)

// ZoneRef names one zone inside a particular segment, by the caller's
// own label for that segment (so this package never needs to know
// segment directory layout).
type ZoneRef struct {
	SegmentLabel string
	ZoneID       int
}

// PickedZones is the RLTE-bounded candidate set attached to a per-shard
// command for an ORDER BY + LIMIT query (spec §4.F step 3).
type PickedZones struct {
	UID    string
	Field  string
	Asc    bool
	Cutoff segment.Value
	K      int
	Zones  []ZoneRef
}

type taggedRung struct {
	segment.LadderRung
	label string
}

// SelectPickedZones k-way merges every segment's RLTE ladder for field
// and keeps the top K = (limit+offset)*factor zones by rank, the
// default factor being spec's F ≈ 10. Segments with no ladder for field
// (e.g. the field was never flushed as orderable) simply contribute no
// rungs — callers fall back to scanning such segments in full.
func SelectPickedZones(uid, field string, asc bool, limit, offset, factor int, ladders map[string]segment.FieldLadders) PickedZones {
	k := (limit + offset) * factor
	if k <= 0 {
		k = limit + offset
	}
	if k <= 0 {
		k = factor
	}

	var all []taggedRung
	for label, fl := range ladders {
		pair, ok := fl[field]
		if !ok {
			continue
		}
		ladder := pair[1]
		if asc {
			ladder = pair[0]
		}
		if ladder == nil {
			continue
		}
		for _, r := range ladder.Rungs {
			all = append(all, taggedRung{LadderRung: r, label: label})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		c := segment.CompareValues(all[i].Value, all[j].Value)
		if asc {
			return c < 0
		}
		return c > 0
	})
	if len(all) > k {
		all = all[:k]
	}

	zones := make([]ZoneRef, len(all))
	var cutoff segment.Value
	for i, t := range all {
		zones[i] = ZoneRef{SegmentLabel: t.label, ZoneID: t.ZoneID}
	}
	if len(all) > 0 {
		cutoff = all[len(all)-1].Value
	}
	return PickedZones{UID: uid, Field: field, Asc: asc, Cutoff: cutoff, K: k, Zones: zones}
}
