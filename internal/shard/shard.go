// Package shard implements the per-shard actor described in spec §4
// and §5: one goroutine serializes every Store/Query/Flush/Shutdown
// command against a shard's WAL, memtable, passive buffer set, segment
// catalog, block cache, and compactor. Grounded on
// marselester-hastydb's single-writer DB (hastydb.go) generalized from
// a lone memtable+flushingMemtable pair to the spec's ring of passive
// slots. Flushes run on background goroutines, one per frozen slot,
// tracked by a sync.WaitGroup; compaction runs when the fleet calls
// CompactOnce.
package shard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/relaysix/zonedb/internal/cache"
	"github.com/relaysix/zonedb/internal/catalog"
	"github.com/relaysix/zonedb/internal/compaction"
	"github.com/relaysix/zonedb/internal/memtable"
	"github.com/relaysix/zonedb/internal/schema"
	"github.com/relaysix/zonedb/internal/segment"
	"github.com/relaysix/zonedb/internal/wal"
)

// Shard owns one partition of the store's context_id hash space: its
// own WAL, memtable, segment catalog, block cache, and compactor. The
// schema registry is the one piece of state shared across every shard
// (spec §5).
type Shard struct {
	id     int
	root   string
	cfg    Config
	logger *zap.Logger

	schema *schema.Registry

	wal       *wal.Log
	cat       *catalog.SegmentIndex
	blocks    *cache.BlockCache
	compactor *compaction.Compactor
	flusher   *segment.Flusher
	codec     segment.Codec

	active  *memtable.MemTable
	passive *memtable.PassiveBufferSet

	nextSegID atomic.Uint32

	cmdCh  chan envelope
	halted atomic.Bool
	haltMu sync.Mutex
	haltErr error

	flushWG sync.WaitGroup

	done chan struct{}
}

type envelope struct {
	cmd  Command
	ctx  context.Context
	resp chan response
}

type response struct {
	result Result
	err    error
}

// Open creates (or reopens) a shard rooted at cfg.Root, recovers its
// WAL into the active memtable, and starts its actor goroutine.
func Open(id int, cfg Config) (*Shard, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Root, 0o700); err != nil {
		return nil, fmt.Errorf("shard %d: create root: %w", id, err)
	}

	segRoot := filepath.Join(cfg.Root, "segments")
	if err := os.MkdirAll(segRoot, 0o700); err != nil {
		return nil, fmt.Errorf("shard %d: create segments dir: %w", id, err)
	}

	walDir := filepath.Join(cfg.Root, "wal")
	records, err := wal.Recover(walDir, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("shard %d: wal recover: %w", id, err)
	}

	log, err := wal.Open(walDir, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("shard %d: wal open: %w", id, err)
	}

	cat, err := catalog.Open(filepath.Join(cfg.Root, "segments.idx"))
	if err != nil {
		return nil, fmt.Errorf("shard %d: catalog open: %w", id, err)
	}

	blocks := cache.New(cfg.CacheShards)
	compactor := compaction.NewCompactor(segRoot, cat, cfg.CompactionFanIn, cfg.ZoneSize, cfg.Codec, cfg.Logger)
	compactor.OnRetire = blocks.InvalidateSegment

	nextSeg := uint32(0)
	for _, e := range cat.IterAll() {
		if e.Level == 0 && e.SegmentID >= nextSeg {
			nextSeg = e.SegmentID + 1
		}
	}

	s := &Shard{
		id:        id,
		root:      cfg.Root,
		cfg:       cfg,
		logger:    cfg.Logger,
		schema:    cfg.Schema,
		wal:       log,
		cat:       cat,
		blocks:    blocks,
		compactor: compactor,
		flusher:   segment.NewFlusher(cfg.ZoneSize, cfg.Codec, cfg.Logger),
		codec:     cfg.Codec,
		active:    memtable.New(cfg.MemtableCapacity),
		passive:   memtable.NewPassiveBufferSet(cfg.PassiveSlots),
		cmdCh:     make(chan envelope, cfg.ChannelCapacity),
		done:      make(chan struct{}),
	}
	s.nextSegID.Store(nextSeg)

	go s.run()

	if _, err := s.Handle(context.Background(), ReplayCommand{records: records}); err != nil {
		return nil, fmt.Errorf("shard %d: replay: %w", id, err)
	}
	return s, nil
}

// run is the actor loop: the sole goroutine that mutates active/passive
// memtable state and the sole caller into the WAL's synchronous Append,
// per spec §5 ("no synchronous disk IO on the actor goroutine" refers
// to flush/compaction, which this loop only ever schedules, never runs
// inline).
func (s *Shard) run() {
	defer close(s.done)
	for env := range s.cmdCh {
		result, err := s.dispatch(env.ctx, env.cmd)
		env.resp <- response{result: result, err: err}
		if _, ok := env.cmd.(ShutdownCommand); ok {
			return
		}
	}
}

func (s *Shard) dispatch(ctx context.Context, cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case StoreCommand:
		return s.handleStore(ctx, c)
	case QueryCommand:
		return s.handleQuery(c)
	case FlushCommand:
		return s.handleFlush()
	case ReplayCommand:
		return s.handleReplay(c)
	case ShutdownCommand:
		return s.handleShutdown()
	default:
		return nil, fmt.Errorf("shard: unknown command %T", cmd)
	}
}

// Handle submits cmd to the actor and blocks for its result. Advisory
// back-pressure (spec §5: triggered at BackpressureFrac channel fill)
// is logged but never rejects the call outright; the hard back-pressure
// path lives in handleStore, surfaced as ErrBufferFull.
func (s *Shard) Handle(ctx context.Context, cmd Command) (Result, error) {
	if s.halted.Load() {
		if _, ok := cmd.(ShutdownCommand); !ok {
			s.haltMu.Lock()
			err := s.haltErr
			s.haltMu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrHalted, err)
		}
	}

	if _, ok := cmd.(StoreCommand); ok {
		if fill := float64(len(s.cmdCh)) / float64(cap(s.cmdCh)); fill >= s.cfg.BackpressureFrac {
			s.logger.Warn("shard: back-pressure threshold reached",
				zap.Int("shard", s.id), zap.Float64("fill", fill))
		}
	}

	env := envelope{cmd: cmd, ctx: ctx, resp: make(chan response, 1)}
	select {
	case s.cmdCh <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}

	select {
	case r := <-env.resp:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

// halt marks the shard unusable after a fatal error (spec §7: WAL
// append failure and catalog corruption both halt the owning shard).
func (s *Shard) halt(err error) {
	s.haltMu.Lock()
	s.haltErr = err
	s.haltMu.Unlock()
	s.halted.Store(true)
	s.logger.Error("shard: halted on fatal error", zap.Int("shard", s.id), zap.Error(err))
}

func (s *Shard) handleShutdown() (Result, error) {
	if _, err := s.freezeActive(context.Background()); err != nil && err != ErrBufferFull {
		s.logger.Warn("shard: shutdown flush of active memtable failed", zap.Error(err))
	}
	s.flushWG.Wait()
	if err := s.wal.Close(); err != nil {
		return nil, fmt.Errorf("shard %d: wal close: %w", s.id, err)
	}
	if err := s.cat.Close(); err != nil {
		return nil, fmt.Errorf("shard %d: catalog close: %w", s.id, err)
	}
	return ShutdownResult{}, nil
}

func (s *Shard) handleFlush() (Result, error) {
	if s.active.Len() == 0 {
		return FlushResult{Flushed: false}, nil
	}
	if _, err := s.freezeActive(context.Background()); err != nil {
		return FlushResult{Flushed: false}, err
	}
	s.flushWG.Wait()
	return FlushResult{Flushed: true}, nil
}

// CompactOnce runs one round of compaction at level for this shard,
// exposed for the fleet's periodic compaction tick (spec §4.E).
// Compactor.OnRetire invalidates the block cache as each plan commits.
func (s *Shard) CompactOnce(level int) (int, error) {
	n, err := s.compactor.RunOnce(level)
	if err != nil {
		s.logger.Warn("shard: compaction failed, retry next tick", zap.Int("shard", s.id), zap.Error(err))
	}
	return n, nil
}
