package query

import (
	"sort"
	"strconv"

	"github.com/relaysix/zonedb/internal/segment"
)

// AggState accumulates every requested Agg for one group. It is the
// unit that crosses the shard boundary: partial states merge
// associatively and commutatively (spec §8's fleet aggregation
// property), so shard order and merge order never affect the result.
type AggState struct {
	Count       uint64
	FieldCounts map[string]uint64
	Unique      map[string]map[string]struct{}
	Sums        map[string]float64
	SumCounts   map[string]uint64
	Mins        map[string]segment.Value
	Maxs        map[string]segment.Value
	hasMinMax   map[string]bool
}

func newAggState() *AggState {
	return &AggState{
		FieldCounts: make(map[string]uint64),
		Unique:      make(map[string]map[string]struct{}),
		Sums:        make(map[string]float64),
		SumCounts:   make(map[string]uint64),
		Mins:        make(map[string]segment.Value),
		Maxs:        make(map[string]segment.Value),
		hasMinMax:   make(map[string]bool),
	}
}

// GroupResult is one group's key plus its running aggregate state.
type GroupResult struct {
	Key       string
	KeyValues []segment.Value
	Bucket    uint64
	State     *AggState
}

// Aggregate folds rows into per-group AggStates, grouped by the
// time-bucket floor of timestamp (if timeBucket > 0) and the groupBy
// field values (spec §4.F "Aggregation": "group key is the
// concatenation of the time bucket and every group-by field's value;
// a row missing a group-by field groups under an empty-string
// sentinel for that field").
func Aggregate(rows []segment.Row, aggs []Agg, groupBy []string, timeBucket uint64) map[string]*GroupResult {
	groups := make(map[string]*GroupResult)
	for _, row := range rows {
		bucket := bucketFloor(row.Timestamp, timeBucket)
		keyValues := groupKeyValues(row, groupBy)
		key := groupKey(bucket, keyValues)

		g, ok := groups[key]
		if !ok {
			g = &GroupResult{Key: key, KeyValues: keyValues, Bucket: bucket, State: newAggState()}
			groups[key] = g
		}
		applyRow(g.State, row, aggs)
	}
	return groups
}

func bucketFloor(ts, width uint64) uint64 {
	if width == 0 {
		return 0
	}
	return (ts / width) * width
}

func groupKeyValues(row segment.Row, groupBy []string) []segment.Value {
	values := make([]segment.Value, len(groupBy))
	for i, f := range groupBy {
		if v, ok := row.Fields[f]; ok {
			values[i] = v
		}
	}
	return values
}

func groupKey(bucket uint64, keyValues []segment.Value) string {
	key := strconv.FormatUint(bucket, 10)
	for _, v := range keyValues {
		key += "\x00" + valueString(v)
	}
	return key
}

func valueString(v segment.Value) string {
	switch v.Kind {
	case segment.KindNull:
		return ""
	case segment.KindI64:
		return strconv.FormatInt(v.I64, 10)
	case segment.KindU64:
		return strconv.FormatUint(v.U64, 10)
	case segment.KindF64:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case segment.KindBool:
		return strconv.FormatBool(v.Bool)
	case segment.KindString:
		return v.Str
	default:
		return ""
	}
}

func applyRow(state *AggState, row segment.Row, aggs []Agg) {
	state.Count++
	for _, a := range aggs {
		v, present := row.Fields[a.Field]
		switch a.Kind {
		case CountAll:
			// already counted above
		case CountField:
			if present && v.Kind != segment.KindNull {
				state.FieldCounts[a.Field]++
			}
		case CountUnique:
			if present && v.Kind != segment.KindNull {
				set := state.Unique[a.Field]
				if set == nil {
					set = make(map[string]struct{})
					state.Unique[a.Field] = set
				}
				set[valueString(v)] = struct{}{}
			}
		case Sum, Avg:
			if present && v.Kind != segment.KindNull {
				state.Sums[a.Field] += numeric(v)
				state.SumCounts[a.Field]++
			}
		case Min:
			if present && v.Kind != segment.KindNull {
				mergeMin(state, a.Field, v)
			}
		case Max:
			if present && v.Kind != segment.KindNull {
				mergeMax(state, a.Field, v)
			}
		}
	}
}

func numeric(v segment.Value) float64 {
	switch v.Kind {
	case segment.KindI64:
		return float64(v.I64)
	case segment.KindU64:
		return float64(v.U64)
	case segment.KindF64:
		return v.F64
	default:
		return 0
	}
}

func mergeMin(state *AggState, field string, v segment.Value) {
	if !state.hasMinMaxEntry(field) {
		state.Mins[field] = v
	} else if segment.CompareValues(v, state.Mins[field]) < 0 {
		state.Mins[field] = v
	}
	state.markMinMax(field)
}

func mergeMax(state *AggState, field string, v segment.Value) {
	if !state.hasMinMaxEntry(field) {
		state.Maxs[field] = v
	} else if segment.CompareValues(v, state.Maxs[field]) > 0 {
		state.Maxs[field] = v
	}
	state.markMinMax(field)
}

func (s *AggState) hasMinMaxEntry(field string) bool { return s.hasMinMax[field] }
func (s *AggState) markMinMax(field string)           { s.hasMinMax[field] = true }

// MergeGroupMaps combines partial per-shard group results into one
// fleet-level map, keyed by group key. Merging is associative and
// commutative: counts sum, unique sets union, sums and counts for Avg
// sum independently, and Min/Max compare pairwise.
func MergeGroupMaps(partials []map[string]*GroupResult) map[string]*GroupResult {
	out := make(map[string]*GroupResult)
	for _, partial := range partials {
		for key, g := range partial {
			existing, ok := out[key]
			if !ok {
				out[key] = &GroupResult{Key: g.Key, KeyValues: g.KeyValues, Bucket: g.Bucket, State: newAggState()}
				existing = out[key]
			}
			mergeState(existing.State, g.State)
		}
	}
	return out
}

func mergeState(dst, src *AggState) {
	dst.Count += src.Count
	for f, c := range src.FieldCounts {
		dst.FieldCounts[f] += c
	}
	for f, set := range src.Unique {
		dstSet := dst.Unique[f]
		if dstSet == nil {
			dstSet = make(map[string]struct{}, len(set))
			dst.Unique[f] = dstSet
		}
		for k := range set {
			dstSet[k] = struct{}{}
		}
	}
	for f, s := range src.Sums {
		dst.Sums[f] += s
	}
	for f, c := range src.SumCounts {
		dst.SumCounts[f] += c
	}
	for f, v := range src.Mins {
		if !dst.hasMinMaxEntry(f) || segment.CompareValues(v, dst.Mins[f]) < 0 {
			dst.Mins[f] = v
		}
		dst.markMinMax(f)
	}
	for f, v := range src.Maxs {
		if !dst.hasMinMaxEntry(f) || segment.CompareValues(v, dst.Maxs[f]) > 0 {
			dst.Maxs[f] = v
		}
		dst.markMinMax(f)
	}
}

// Finalize computes the output value for each requested Agg from a
// group's accumulated state, in the same order as aggs.
func Finalize(state *AggState, aggs []Agg) []segment.Value {
	out := make([]segment.Value, len(aggs))
	for i, a := range aggs {
		switch a.Kind {
		case CountAll:
			out[i] = segment.Value{Kind: segment.KindU64, U64: state.Count}
		case CountField:
			out[i] = segment.Value{Kind: segment.KindU64, U64: state.FieldCounts[a.Field]}
		case CountUnique:
			out[i] = segment.Value{Kind: segment.KindU64, U64: uint64(len(state.Unique[a.Field]))}
		case Sum:
			out[i] = segment.Value{Kind: segment.KindF64, F64: state.Sums[a.Field]}
		case Avg:
			count := state.SumCounts[a.Field]
			var avg float64
			if count > 0 {
				avg = state.Sums[a.Field] / float64(count)
			}
			out[i] = segment.Value{Kind: segment.KindF64, F64: avg}
		case Min:
			out[i] = state.Mins[a.Field]
		case Max:
			out[i] = state.Maxs[a.Field]
		default:
			out[i] = segment.Value{}
		}
	}
	return out
}

// SortGroups returns g's groups ordered by bucket then key values, for
// deterministic output when a query groups without an explicit order by.
func SortGroups(groups map[string]*GroupResult) []*GroupResult {
	out := make([]*GroupResult, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		return out[i].Key < out[j].Key
	})
	return out
}
