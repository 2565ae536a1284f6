// Package compaction implements the background segment compactor
// (spec §4.E): it fuses groups of same-level, same-UID segments into a
// higher-level segment, keeping the per-context event ordering the
// query path depends on.
package compaction

import (
	"sort"
	"strconv"
	"strings"

	"github.com/relaysix/zonedb/internal/catalog"
)

// Plan targets one level transition for a batch of UIDs that all
// happen to share the same set of input segment ids, so one physical
// merge pass can emit every UID's output together (spec §4.E: "Plans
// that share an identical input-segment set are batched together").
type Plan struct {
	Level    int
	InputIDs []uint32
	UIDs     []string
}

// SelectPlans picks, for every UID present at level, the K oldest
// level-`level` segments holding it (oldest first by ascending segment
// id, since ids are assigned monotonically), then batches UIDs whose
// resulting input set is identical. UIDs with fewer than fanIn
// candidate segments at this level are left alone — there is nothing
// productive to merge yet.
func SelectPlans(entries []catalog.Entry, level int, fanIn int) []Plan {
	var atLevel []catalog.Entry
	for _, e := range entries {
		if e.Level == level {
			atLevel = append(atLevel, e)
		}
	}
	sort.Slice(atLevel, func(i, j int) bool { return atLevel[i].SegmentID < atLevel[j].SegmentID })

	byUID := make(map[string][]uint32)
	for _, e := range atLevel {
		for _, uid := range e.UIDs {
			byUID[uid] = append(byUID[uid], e.SegmentID)
		}
	}

	batches := make(map[string]*Plan)
	var order []string
	for uid, ids := range byUID {
		if len(ids) < fanIn {
			continue
		}
		inputs := append([]uint32(nil), ids[:fanIn]...)
		key := inputKey(inputs)
		b, ok := batches[key]
		if !ok {
			b = &Plan{Level: level, InputIDs: inputs}
			batches[key] = b
			order = append(order, key)
		}
		b.UIDs = append(b.UIDs, uid)
	}

	sort.Strings(order)
	plans := make([]Plan, 0, len(order))
	for _, key := range order {
		b := batches[key]
		sort.Strings(b.UIDs)
		plans = append(plans, *b)
	}
	return plans
}

func inputKey(ids []uint32) string {
	sorted := append([]uint32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sb strings.Builder
	for i, id := range sorted {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	return sb.String()
}
