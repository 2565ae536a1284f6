package query

import "github.com/relaysix/zonedb/internal/segment"

// PruneZones selects the candidate zone ids in reader that might
// satisfy step, per the strategy table in spec §4.F step 2. It never
// produces a false negative: the returned set always includes every
// zone that could truly match, at the cost of false positives the
// executor's row-level predicate evaluation filters out (spec §8:
// "∀ zone selected by pruning, the zone contains at least one row that
// might match the predicate under its index's false-positive rate").
func PruneZones(reader *segment.Reader, step FilterStep) []int {
	fs, ok := reader.FieldSpec(step.Cond.Field)
	if !ok {
		return allZones(reader)
	}

	switch step.Cond.Op {
	case OpEq:
		return pruneEquality(reader, fs, step.Cond.Value)
	case OpLt, OpLte, OpGt, OpGte:
		return pruneRange(reader, fs, step.Cond)
	default:
		return allZones(reader)
	}
}

func allZones(reader *segment.Reader) []int {
	zones := reader.Zones()
	out := make([]int, len(zones))
	for i, z := range zones {
		out[i] = z.ZoneID
	}
	return out
}

func pruneEquality(reader *segment.Reader, fs segment.FieldSpec, v segment.Value) []int {
	if len(fs.Enum) > 0 {
		eb, err := reader.EnumBitmap(fs.Name)
		if err != nil {
			return allZones(reader)
		}
		return eb.ZonesWithVariant(v.Str)
	}

	if zxf, err := reader.ZoneXORFilters(fs.Name); err == nil {
		var out []int
		for zoneID, filter := range zxf {
			if filter != nil && filter.MayContain(v) {
				out = append(out, zoneID)
			}
		}
		return out
	}

	xf, err := reader.XORFilter(fs.Name)
	if err != nil {
		return allZones(reader) // missing index: correctness-preserving
	}
	if !xf.MayContain(v) {
		return nil
	}
	return allZones(reader)
}

func pruneRange(reader *segment.Reader, fs segment.FieldSpec, c Cond) []int {
	if fs.IDLike {
		if rs, err := reader.RangeSurf(fs.Name); err == nil {
			lo, hi := rangeBounds(c)
			var out []int
			for _, z := range reader.Zones() {
				if rs.ContainsRange(z.ZoneID, lo, hi) {
					out = append(out, z.ZoneID)
				}
			}
			return out
		}
	}

	var out []int
	for _, z := range reader.Zones() {
		if !z.HasMinMax {
			out = append(out, z.ZoneID) // missing stats: correctness-preserving
			continue
		}
		if zoneMightMatch(z.Min, z.Max, c) {
			out = append(out, z.ZoneID)
		}
	}
	return out
}

// rangeBounds turns a single-sided comparison into the [lo, hi]
// interval a range surf tests; the open side is left at the condition
// value itself, which is conservative (ContainsRange is inclusive at
// both ends).
func rangeBounds(c Cond) (lo, hi segment.Value) {
	switch c.Op {
	case OpGt, OpGte:
		return c.Value, maxValue(c.Value)
	default: // OpLt, OpLte
		return minValue(c.Value), c.Value
	}
}

func maxValue(v segment.Value) segment.Value {
	switch v.Kind {
	case segment.KindI64:
		return segment.Value{Kind: segment.KindI64, I64: 1<<63 - 1}
	case segment.KindU64:
		return segment.Value{Kind: segment.KindU64, U64: ^uint64(0)}
	default:
		return v
	}
}

func minValue(v segment.Value) segment.Value {
	switch v.Kind {
	case segment.KindI64:
		return segment.Value{Kind: segment.KindI64, I64: -(1 << 63)}
	case segment.KindU64:
		return segment.Value{Kind: segment.KindU64, U64: 0}
	default:
		return v
	}
}

// zoneMightMatch reports whether [min, max] could contain a value
// satisfying c.
func zoneMightMatch(min, max segment.Value, c Cond) bool {
	switch c.Op {
	case OpGt:
		return segment.CompareValues(max, c.Value) > 0
	case OpGte:
		return segment.CompareValues(max, c.Value) >= 0
	case OpLt:
		return segment.CompareValues(min, c.Value) < 0
	case OpLte:
		return segment.CompareValues(min, c.Value) <= 0
	default:
		return true
	}
}
