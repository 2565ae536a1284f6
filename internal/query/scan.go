package query

import "github.com/relaysix/zonedb/internal/segment"

// Batch is one chunk of matching rows streamed back to the shard
// dispatcher (spec §4.F step 4.4: "Appends matching rows into a Batch
// ... emits the batch when it reaches the batch size budget or the
// segment ends").
type Batch struct {
	Fields []string
	Rows   []segment.Row
}

// ColumnLoader fetches one zone's decoded values for field, the hook
// shard-level callers use to route loads through a block cache instead
// of reader.ReadZoneColumn directly.
type ColumnLoader func(field string, zoneID int) ([]segment.Value, error)

// ScanSegment runs the ExecutionStep pipeline against one segment's UID
// partition: derive candidate zones (progressively under pure AND),
// load only the fields the query needs (projection pushdown plus
// whatever the predicate and downstream ordering require), and evaluate
// the full predicate tree row by row. A nil load defaults to
// reader.ReadZoneColumn.
func ScanSegment(reader *segment.Reader, plan *QueryPlan, returnFields []string, batchSize int, load ColumnLoader) ([]Batch, error) {
	return scanZones(reader, candidateZones(reader, plan), plan, returnFields, batchSize, load)
}

// ScanZones is ScanSegment restricted to allowed, intersected with
// whatever WHERE-based pruning the plan implies. Used for ORDER BY +
// LIMIT queries where SelectPickedZones has already bounded the
// candidate set via RLTE ladders (spec §4.F step 3), so the scan never
// decompresses a zone outside the picked set.
func ScanZones(reader *segment.Reader, allowed []int, plan *QueryPlan, returnFields []string, batchSize int, load ColumnLoader) ([]Batch, error) {
	candidates := fromSet(intersect(toSet(candidateZones(reader, plan)), toSet(allowed)))
	return scanZones(reader, candidates, plan, returnFields, batchSize, load)
}

func scanZones(reader *segment.Reader, candidates []int, plan *QueryPlan, returnFields []string, batchSize int, load ColumnLoader) ([]Batch, error) {
	if load == nil {
		load = reader.ReadZoneColumn
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	projection := returnFields
	if len(projection) == 0 {
		projection = fieldNames(reader.Fields())
	}
	toLoad := withAlwaysLoaded(projection, plan)

	var batches []Batch
	var cur Batch
	flush := func() {
		if len(cur.Rows) == 0 {
			return
		}
		cur.Fields = projection
		batches = append(batches, cur)
		cur = Batch{}
	}

	for _, zoneID := range candidates {
		n := zoneRowCount(reader, zoneID)
		if n == 0 {
			continue
		}
		cols := make(map[string][]segment.Value, len(toLoad))
		for _, f := range toLoad {
			values, err := load(f, zoneID)
			if err != nil {
				return nil, err
			}
			cols[f] = values
		}

		for i := 0; i < n; i++ {
			row := rowAt(cols, i)
			if !matchesWhere(row, plan.Query.Where) {
				continue
			}
			cur.Rows = append(cur.Rows, project(row, projection))
			if batchSize > 0 && len(cur.Rows) >= batchSize {
				flush()
			}
		}
	}
	flush()
	return batches, nil
}

// candidateZones applies progressive pruning only when the plan's
// steps are all prunable (a pure AND); otherwise every zone is a
// candidate and correctness falls entirely on row-level evaluation
// (spec §4.F step 1).
func candidateZones(reader *segment.Reader, plan *QueryPlan) []int {
	if len(plan.Steps) == 0 || !plan.Steps[0].Prunable {
		return allZones(reader)
	}

	var candidates map[int]bool
	for _, step := range plan.Steps {
		zones := PruneZones(reader, step)
		if candidates == nil {
			candidates = toSet(zones)
			continue
		}
		candidates = intersect(candidates, toSet(zones))
	}
	return fromSet(candidates)
}

func toSet(ids []int) map[int]bool {
	s := make(map[int]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func intersect(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool)
	for id := range a {
		if b[id] {
			out[id] = true
		}
	}
	return out
}

func fromSet(s map[int]bool) []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sortInts(out)
	return out
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func fieldNames(specs []segment.FieldSpec) []string {
	out := make([]string, len(specs))
	for i, fs := range specs {
		out[i] = fs.Name
	}
	return out
}

// withAlwaysLoaded adds context_id, timestamp, the order-by field and
// every field the where clause references to projection, so predicate
// evaluation and downstream merging never need a second pass.
func withAlwaysLoaded(projection []string, plan *QueryPlan) []string {
	seen := make(map[string]bool, len(projection))
	out := append([]string(nil), projection...)
	for _, f := range projection {
		seen[f] = true
	}
	add := func(f string) {
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		out = append(out, f)
	}
	add("context_id")
	add("timestamp")
	add(plan.Query.OrderBy)
	for _, f := range plan.Query.SecondaryOrderBy {
		add(f)
	}
	for _, step := range plan.Steps {
		add(step.Cond.Field)
	}
	return out
}

func zoneRowCount(reader *segment.Reader, zoneID int) int {
	for _, z := range reader.Zones() {
		if z.ZoneID == zoneID {
			return z.RowEnd - z.RowStart
		}
	}
	return 0
}

func rowAt(cols map[string][]segment.Value, i int) segment.Row {
	row := segment.Row{Fields: make(map[string]segment.Value, len(cols))}
	for name, values := range cols {
		if i < len(values) {
			row.Fields[name] = values[i]
		}
	}
	if v, ok := row.Fields["context_id"]; ok {
		row.ContextID = v.Str
	}
	if v, ok := row.Fields["timestamp"]; ok {
		row.Timestamp = v.U64
	}
	return row
}

func project(row segment.Row, fields []string) segment.Row {
	out := segment.Row{ContextID: row.ContextID, Timestamp: row.Timestamp, Fields: make(map[string]segment.Value, len(fields))}
	for _, f := range fields {
		if v, ok := row.Fields[f]; ok {
			out.Fields[f] = v
		}
	}
	return out
}

// Matches reports whether row satisfies w, for callers (the shard's
// in-memory buffer scan) that filter rows outside the zone-pruned path.
func Matches(row segment.Row, w *Where) bool {
	return matchesWhere(row, w)
}

// matchesWhere evaluates w against row; a nil where matches everything.
func matchesWhere(row segment.Row, w *Where) bool {
	if w == nil {
		return true
	}
	switch w.Op {
	case BoolNot:
		return !matchesWhere(row, w.Not)
	case BoolOr:
		for _, c := range w.Conds {
			if condMatches(row, c) {
				return true
			}
		}
		return false
	default: // BoolAnd
		for _, c := range w.Conds {
			if !condMatches(row, c) {
				return false
			}
		}
		return true
	}
}

func condMatches(row segment.Row, c Cond) bool {
	v, ok := row.Fields[c.Field]
	if !ok {
		return false
	}
	if v.Kind == segment.KindNull {
		return false
	}
	cmp := segment.CompareValues(v, c.Value)
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNeq:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	default:
		return false
	}
}
