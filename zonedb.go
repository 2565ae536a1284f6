// Package zonedb is a zone-indexed, columnar event store: an
// LSM-style write path (WAL + memtable + passive buffer ring) feeding
// per-zone columnar segments with XOR filters, enum bitmaps, range
// surfs, and RLTE top-K ladders, queried through a pruning planner
// fanned out across a fleet of hash-routed shards. Grounded on
// marselester-hastydb's single-writer DB (hastydb.go), generalized
// from one memtable and one KV keyspace into N shard actors over an
// append-only event log.
package zonedb

import (
	"context"
	"fmt"

	"github.com/relaysix/zonedb/internal/fleet"
	"github.com/relaysix/zonedb/internal/schema"
	"github.com/relaysix/zonedb/internal/segment"
	"github.com/relaysix/zonedb/internal/shard"
)

// Store is a zonedb database: a fleet of independently-actored shards
// sharing one schema registry, opened at a single root directory.
type Store struct {
	cfg    StoreConfig
	schema *schema.Registry
	fleet  *fleet.Fleet
	close  func() error
}

// Open opens (or creates) a zonedb database rooted at path, mirroring
// hasty.Open's (db, close, err) shape. Each shard gets its own
// subdirectory under path; the schema registry and codec are shared
// across every shard.
func Open(path string, opts ...StoreOption) (db *Store, close func() error, err error) {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ShardCount < 1 {
		return nil, nil, fmt.Errorf("zonedb: shard count must be >= 1, got %d", cfg.ShardCount)
	}

	codec, err := segment.NewCodec(segment.CodecName(cfg.Codec))
	if err != nil {
		return nil, nil, fmt.Errorf("zonedb: %w", err)
	}

	reg := schema.NewRegistry()
	shardCfgs := make([]shard.Config, cfg.ShardCount)
	for i := range shardCfgs {
		shardCfgs[i] = shard.Config{
			Root:             fmt.Sprintf("%s/shard-%03d", path, i),
			Schema:           reg,
			MemtableCapacity: cfg.MemtableCapacity,
			ZoneSize:         cfg.ZoneSize,
			ChannelCapacity:  cfg.ChannelCapacity,
			PassiveSlots:     cfg.PassiveSlots,
			RLTEFactor:       cfg.RLTEFactor,
			CompactionFanIn:  cfg.CompactionFanIn,
			BackpressureFrac: cfg.BackpressureFrac,
			Codec:            codec,
			CacheShards:      cfg.BlockCacheSegments,
			Logger:           cfg.Logger,
		}
	}

	fl, fleetClose, err := fleet.Open(shardCfgs, fleet.Config{Logger: cfg.Logger})
	if err != nil {
		return nil, nil, fmt.Errorf("zonedb: open fleet: %w", err)
	}

	db = &Store{cfg: cfg, schema: reg, fleet: fl, close: fleetClose}
	return db, db.shutdown, nil
}

func (s *Store) shutdown() error { return s.close() }

// Store appends e to the store, routed by hash(e.ContextID) to its
// owning shard.
func (s *Store) Store(ctx context.Context, e Event) (string, error) {
	res, err := s.fleet.Store(ctx, toShardEvent(e))
	if err != nil {
		return "", err
	}
	return res.UID, nil
}

// Query runs q against eventType, merging results across every shard
// it touches (spec §4.F).
func (s *Store) Query(ctx context.Context, eventType string, q *Query) (QueryResult, error) {
	res, err := s.fleet.Query(ctx, eventType, toInternalQuery(q))
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		Rows:      fromSegmentRows(res.Rows),
		Groups:    fromFinalGroups(res.Groups),
		Sequences: fromSequenceMatches(res.Sequences),
	}, nil
}

// Flush forces every shard to freeze and flush its active memtable.
func (s *Store) Flush(ctx context.Context) error {
	return s.fleet.Flush(ctx)
}

// CompactNow runs one round of compaction at each of levels (level 0
// only, if empty) across every shard.
func (s *Store) CompactNow(levels ...int) {
	s.fleet.CompactNow(levels...)
}

// Handle dispatches cmd to the operation it names, the Go-concrete
// form of spec §6's language-neutral Command shape (Store, Query,
// Flush, Shutdown; Replay has no public command, it only ever runs
// internally during a shard's own recovery).
func (s *Store) Handle(ctx context.Context, cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case StoreCmd:
		uid, err := s.Store(ctx, c.Event)
		if err != nil {
			return nil, err
		}
		return StoreResult{UID: uid}, nil
	case QueryCmd:
		res, err := s.Query(ctx, c.EventType, c.Query)
		if err != nil {
			return nil, err
		}
		return res, nil
	case FlushCmd:
		if err := s.Flush(ctx); err != nil {
			return nil, err
		}
		return FlushResult{}, nil
	case CompactCmd:
		s.CompactNow(c.Levels...)
		return CompactResult{}, nil
	case ShutdownCmd:
		if err := s.close(); err != nil {
			return nil, err
		}
		return ShutdownResult{}, nil
	default:
		return nil, fmt.Errorf("zonedb: unknown command %T", cmd)
	}
}
