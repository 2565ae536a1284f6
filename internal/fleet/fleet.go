// Package fleet coordinates N independently-actored shards: routing
// writes and context-scoped queries by a hash of context_id (spec §5,
// "A process owns N shards, each a self-contained event store whose
// context-id hash routes writes"), fanning unscoped queries out across
// every shard, merging ordered/aggregated results back into one global
// answer, and joining EventSequence chains across shard boundaries
// since a link_field join is never scoped to one shard's hash space
// (spec §4.F "Event Sequences"). Grounded on marselester-hastydb's
// errgroup-supervised worker startup (hastydb.go's Open), generalized
// from two background workers (sstWriter, segMerger) to N shard actors
// started concurrently plus an optional periodic compaction ticker.
package fleet

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaysix/zonedb/internal/query"
	"github.com/relaysix/zonedb/internal/segment"
	"github.com/relaysix/zonedb/internal/shard"
)

// Fleet owns every shard in the store and is the only component that
// knows how a context_id maps to a shard index.
type Fleet struct {
	shards []*shard.Shard
	cfg    Config
	logger *zap.Logger

	tickerQuit context.CancelFunc
	tickerG    *errgroup.Group
}

// QueryResult is the fleet-level answer to a Query: exactly one of
// Rows, Groups, or Sequences is populated, mirroring which of
// Query.Aggs/Query.Sequence was set.
type QueryResult struct {
	Rows      []segment.Row
	Groups    []FinalGroup
	Sequences []query.SequenceMatch
}

// FinalGroup is one aggregated group with its Aggs finalized into
// output values, ready to hand back to a caller (as opposed to
// query.GroupResult, whose AggState is still mid-merge).
type FinalGroup struct {
	KeyValues []segment.Value
	Bucket    uint64
	Values    []segment.Value
}

// Open starts every shard concurrently (spec §5: N independent shard
// actors share nothing but the schema registry) and, if
// cfg.CompactionInterval is set, launches a background goroutine that
// ticks CompactNow across every shard. The returned close func stops
// the ticker and shuts down every shard in turn.
func Open(shardConfigs []shard.Config, cfg Config) (f *Fleet, close func() error, err error) {
	if len(shardConfigs) == 0 {
		return nil, nil, ErrNoShards
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	shards := make([]*shard.Shard, len(shardConfigs))
	g, _ := errgroup.WithContext(context.Background())
	for i, sc := range shardConfigs {
		i, sc := i, sc
		g.Go(func() error {
			sh, err := shard.Open(i, sc)
			if err != nil {
				return fmt.Errorf("fleet: open shard %d: %w", i, err)
			}
			shards[i] = sh
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sh := range shards {
			if sh != nil {
				sh.Handle(context.Background(), shard.ShutdownCommand{})
			}
		}
		return nil, nil, err
	}

	f = &Fleet{shards: shards, cfg: cfg, logger: cfg.Logger}

	tickerCtx, quit := context.WithCancel(context.Background())
	tg, tgctx := errgroup.WithContext(tickerCtx)
	f.tickerQuit = quit
	f.tickerG = tg
	if cfg.CompactionInterval > 0 {
		tg.Go(func() error { return f.runCompactionTicker(tgctx) })
	}

	close = func() error {
		f.tickerQuit()
		if err := f.tickerG.Wait(); err != nil {
			return err
		}
		var firstErr error
		for _, sh := range f.shards {
			if _, err := sh.Handle(context.Background(), shard.ShutdownCommand{}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return f, close, nil
}

// ShardCount reports how many shards the fleet owns.
func (f *Fleet) ShardCount() int { return len(f.shards) }

// route maps a context_id to a shard index by FNV-1a hash modulo the
// shard count, the stable partitioning spec §5 calls for.
func (f *Fleet) route(contextID string) int {
	h := fnv.New32a()
	h.Write([]byte(contextID))
	return int(h.Sum32() % uint32(len(f.shards)))
}

// Store routes e to the shard owning its context_id and appends it.
func (f *Fleet) Store(ctx context.Context, e shard.Event) (shard.StoreResult, error) {
	idx := f.route(e.ContextID)
	res, err := f.shards[idx].Handle(ctx, shard.StoreCommand{Event: e})
	if err != nil {
		return shard.StoreResult{}, err
	}
	return res.(shard.StoreResult), nil
}

// Query executes q against eventType. A query pinned to one context_id
// routes to a single shard; everything else fans out across every
// shard and merges the results (spec §4.F step 5). EventSequence
// queries are handled separately by querySequence, since a link_field
// join spans every shard regardless of context_id.
func (f *Fleet) Query(ctx context.Context, eventType string, q *query.Query) (QueryResult, error) {
	if q.Sequence != nil {
		return f.querySequence(ctx, q)
	}

	if q.ContextID != "" {
		idx := f.route(q.ContextID)
		res, err := f.shards[idx].Handle(ctx, shard.QueryCommand{EventType: eventType, Query: q})
		if err != nil {
			return QueryResult{}, err
		}
		sr := res.(shard.QueryResult)
		if len(sr.Groups) > 0 {
			return QueryResult{Groups: finalizeGroups(sr.Groups, q.Aggs)}, nil
		}
		return QueryResult{Rows: sr.Rows}, nil
	}

	perShard, err := f.fanOutQuery(ctx, eventType, q)
	if err != nil {
		return QueryResult{}, err
	}

	if len(q.Aggs) > 0 {
		return QueryResult{Groups: mergeGroups(perShard, q.Aggs)}, nil
	}

	rowsByShard := make([][]segment.Row, len(perShard))
	for i, sr := range perShard {
		rowsByShard[i] = sr.Rows
	}
	if q.OrderBy != "" {
		cmp := query.RowComparator{OrderBy: q.OrderBy, Asc: q.OrderAsc, SecondaryOrderBy: q.SecondaryOrderBy}
		return QueryResult{Rows: query.MergeOrdered(rowsByShard, cmp, q.Limit, q.Offset)}, nil
	}

	var all []segment.Row
	for _, rows := range rowsByShard {
		all = append(all, rows...)
	}
	return QueryResult{Rows: query.ApplyLimitOffset(all, q.Limit, q.Offset)}, nil
}

// fanOutQuery sends q to every shard concurrently, one goroutine per
// shard, and fails the whole call if any shard errors (a partial
// answer is not a safe substitute for a denominator-bearing
// aggregation or a globally ordered top-K).
func (f *Fleet) fanOutQuery(ctx context.Context, eventType string, q *query.Query) ([]shard.QueryResult, error) {
	out := make([]shard.QueryResult, len(f.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, sh := range f.shards {
		i, sh := i, sh
		g.Go(func() error {
			res, err := sh.Handle(gctx, shard.QueryCommand{EventType: eventType, Query: q})
			if err != nil {
				return fmt.Errorf("fleet: query shard %d: %w", i, err)
			}
			out[i] = res.(shard.QueryResult)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// querySequence splits q into one sub-query per hop, fans each hop out
// across every shard, then joins the pooled per-hop rows into chains
// by link_field equality and temporal order (spec §4.F "Event
// Sequences"). sequence_time_field is not exposed as a distinct Query
// field: every spec example orders a sequence by plain event
// timestamp, so an empty time field falls back to row.Timestamp.
func (f *Fleet) querySequence(ctx context.Context, q *query.Query) (QueryResult, error) {
	seq := q.Sequence
	subQueries := query.SplitSequenceQuery(q)

	hopRows := make([][]segment.Row, len(subQueries))
	for i, sub := range subQueries {
		perShard, err := f.fanOutQuery(ctx, sub.EventType, sub)
		if err != nil {
			return QueryResult{}, err
		}
		var rows []segment.Row
		for _, sr := range perShard {
			rows = append(rows, sr.Rows...)
		}
		hopRows[i] = rows
	}

	matches := query.MatchSequences(seq, hopRows, q.LinkField, "")
	matches = query.LimitSequenceMatches(matches, q.Limit)
	return QueryResult{Sequences: matches}, nil
}

// finalizeGroups turns a shard's still-mergeable groups into output
// values, for the single-shard (context_id-pinned) query path where no
// cross-shard merge is needed.
func finalizeGroups(groups []*query.GroupResult, aggs []query.Agg) []FinalGroup {
	out := make([]FinalGroup, len(groups))
	for i, g := range groups {
		out[i] = FinalGroup{KeyValues: g.KeyValues, Bucket: g.Bucket, Values: query.Finalize(g.State, aggs)}
	}
	return out
}

// mergeGroups combines every shard's partial groups by key (spec §8's
// fleet aggregation property: merge is associative and commutative, so
// shard order never affects the result) and finalizes the merged state.
func mergeGroups(perShard []shard.QueryResult, aggs []query.Agg) []FinalGroup {
	partials := make([]map[string]*query.GroupResult, len(perShard))
	for i, sr := range perShard {
		m := make(map[string]*query.GroupResult, len(sr.Groups))
		for _, g := range sr.Groups {
			m[g.Key] = g
		}
		partials[i] = m
	}
	merged := query.MergeGroupMaps(partials)
	return finalizeGroups(query.SortGroups(merged), aggs)
}

// Flush forces every shard to freeze and flush its active memtable,
// regardless of capacity (used for operator-triggered checkpoints and
// by tests that need deterministic on-disk state).
func (f *Fleet) Flush(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range f.shards {
		sh := sh
		g.Go(func() error {
			_, err := sh.Handle(gctx, shard.FlushCommand{})
			return err
		})
	}
	return g.Wait()
}

// CompactNow runs one round of compaction at each of levels (level 0
// only, if levels is empty) across every shard. Exposed for an
// operator-triggered compaction in addition to the periodic ticker.
func (f *Fleet) CompactNow(levels ...int) {
	if len(levels) == 0 {
		levels = []int{0}
	}
	for _, sh := range f.shards {
		for _, level := range levels {
			if _, err := sh.CompactOnce(level); err != nil {
				f.logger.Warn("fleet: compaction failed", zap.Error(err))
			}
		}
	}
}

func (f *Fleet) runCompactionTicker(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.CompactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.CompactNow(f.cfg.CompactionLevels...)
		}
	}
}
