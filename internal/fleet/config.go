package fleet

import (
	"time"

	"go.uber.org/zap"
)

// Config tunes the fleet's own coordination behavior. Per-shard
// tunables (memtable capacity, zone size, codec, ...) live in each
// shard.Config the caller builds individually, one per partition root.
type Config struct {
	Logger *zap.Logger

	// CompactionInterval ticks CompactNow across every shard and level
	// in CompactionLevels. Zero disables the background ticker; the
	// caller can still trigger compaction with CompactNow directly.
	CompactionInterval time.Duration

	// CompactionLevels are the levels compacted on each tick, in order.
	// Defaults to level 0 only when left empty.
	CompactionLevels []int
}
