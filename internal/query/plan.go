package query

import "sort"

// FilterStep is one leaf comparison scheduled for zone pruning.
type FilterStep struct {
	Cond Cond
	// Prunable is false once the plan has decided progressive pruning
	// must stop restricting the candidate set (spec §4.F step 1: "Under
	// OR/NOT, subsequent steps cannot restrict the candidate segment
	// set").
	Prunable bool
}

// QueryPlan is the per-shard decomposition of a Query's where clause
// into ordered filter steps, built by the ZoneStepPlanner.
type QueryPlan struct {
	Query *Query
	Steps []FilterStep
}

// Plan builds a QueryPlan from q, reordering leaf conditions under the
// ZoneStepPlanner rule (spec §4.F step 1): a pure AND pushes the
// context_id equality first as the cheapest, most selective predicate;
// any other shape keeps the original order and disables progressive
// pruning for every step.
func Plan(q *Query) *QueryPlan {
	p := &QueryPlan{Query: q}
	if q.Where == nil {
		return p
	}

	if q.Where.IsPureAnd() {
		conds := append([]Cond(nil), q.Where.Conds...)
		sort.SliceStable(conds, func(i, j int) bool {
			iFirst := conds[i].Field == "context_id" && conds[i].Op == OpEq
			jFirst := conds[j].Field == "context_id" && conds[j].Op == OpEq
			return iFirst && !jFirst
		})
		p.Steps = make([]FilterStep, len(conds))
		for i, c := range conds {
			p.Steps[i] = FilterStep{Cond: c, Prunable: true}
		}
		return p
	}

	p.Steps = flattenConds(q.Where, nil)
	for i := range p.Steps {
		p.Steps[i].Prunable = false
	}
	return p
}

// flattenConds walks a non-pure-AND where tree collecting every leaf
// condition, preserving original encounter order, for correctness-only
// (unpruned) evaluation.
func flattenConds(w *Where, out []FilterStep) []FilterStep {
	if w == nil {
		return out
	}
	for _, c := range w.Conds {
		out = append(out, FilterStep{Cond: c})
	}
	if w.Not != nil {
		out = flattenConds(w.Not, out)
	}
	return out
}
