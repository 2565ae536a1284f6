package segment

// ZoneMeta is one row of a UID partition's .zones file: the row range a
// zone covers plus, for orderable fields, its min/max (spec §4.C.c).
type ZoneMeta struct {
	ZoneID   int
	RowStart int
	RowEnd   int // exclusive
	HasMinMax bool
	Min      Value
	Max      Value
}

// cutZones splits n rows into zones of size z, per spec §3 ("A zone is
// a contiguous run of events inside a UID partition ... of fixed size
// Z"). The final zone may be short.
func cutZones(n, z int) []ZoneMeta {
	var zones []ZoneMeta
	for start, id := 0, 0; start < n; start, id = start+z, id+1 {
		end := start + z
		if end > n {
			end = n
		}
		zones = append(zones, ZoneMeta{ZoneID: id, RowStart: start, RowEnd: end})
	}
	if n == 0 {
		return nil
	}
	return zones
}

// orderable reports whether kind supports min/max statistics.
func orderable(kind ValueKind) bool {
	switch kind {
	case KindI64, KindU64, KindF64, KindString:
		return true
	default:
		return false
	}
}

// CompareValues returns -1, 0, 1 comparing a and b, which must share a
// kind. Numeric kinds compare numerically; strings lexicographically.
// Exported for callers outside the package (e.g. the query planner)
// that need the same ordering zone min/max and ladders use.
func CompareValues(a, b Value) int {
	return compareValues(a, b)
}

func compareValues(a, b Value) int {
	switch a.Kind {
	case KindI64:
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		default:
			return 0
		}
	case KindU64:
		switch {
		case a.U64 < b.U64:
			return -1
		case a.U64 > b.U64:
			return 1
		default:
			return 0
		}
	case KindF64:
		switch {
		case a.F64 < b.F64:
			return -1
		case a.F64 > b.F64:
			return 1
		default:
			return 0
		}
	case KindString:
		switch {
		case a.Str < b.Str:
			return -1
		case a.Str > b.Str:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// minMax scans values (skipping nulls) and returns the orderable
// min/max, or ok=false if every value was null.
func minMax(values []Value) (min, max Value, ok bool) {
	for _, v := range values {
		if v.Kind == KindNull {
			continue
		}
		if !ok {
			min, max, ok = v, v, true
			continue
		}
		if compareValues(v, min) < 0 {
			min = v
		}
		if compareValues(v, max) > 0 {
			max = v
		}
	}
	return min, max, ok
}
