package zonedb

import "go.uber.org/zap"

// Default tuning values. DefaultRLTEFactor matches the source's F=10 per
// the open question in spec §9 — preserved absent evidence otherwise.
const (
	DefaultMemtableCapacity = 4096
	DefaultZoneSize         = 1024
	DefaultShardCount       = 4
	DefaultChannelCapacity  = 8096
	DefaultPassiveSlots     = 2
	DefaultRLTEFactor       = 10
	DefaultCompactionFanIn  = 4
	DefaultBackpressureFrac = 0.8
)

// Codec names a column compression strategy for .col files.
type Codec string

// Supported codecs. LZ4 is the default per spec §4.D; Snappy is offered
// as the grounded pack alternative so "configurable" is real.
const (
	CodecLZ4    Codec = "lz4"
	CodecSnappy Codec = "snappy"
)

// StoreConfig holds tunables for a zonedb Store, set via StoreOption
// functions exactly as hasty.Config is set via hasty.ConfigOption.
type StoreConfig struct {
	ShardCount         int
	MemtableCapacity   int
	ZoneSize           int
	ChannelCapacity    int
	PassiveSlots       int
	RLTEFactor         int
	CompactionFanIn    int
	BackpressureFrac   float64
	Codec              Codec
	BlockCacheSegments int
	Logger             *zap.Logger
}

// StoreOption mutates a StoreConfig, mirroring hasty.ConfigOption.
type StoreOption func(*StoreConfig)

// defaultStoreConfig returns the tunables used when no options are given.
func defaultStoreConfig() StoreConfig {
	return StoreConfig{
		ShardCount:         DefaultShardCount,
		MemtableCapacity:   DefaultMemtableCapacity,
		ZoneSize:           DefaultZoneSize,
		ChannelCapacity:    DefaultChannelCapacity,
		PassiveSlots:       DefaultPassiveSlots,
		RLTEFactor:         DefaultRLTEFactor,
		CompactionFanIn:    DefaultCompactionFanIn,
		BackpressureFrac:   DefaultBackpressureFrac,
		Codec:              CodecLZ4,
		BlockCacheSegments: 256,
		Logger:             zap.NewNop(),
	}
}

// WithShardCount sets the number of shards the fleet owns.
func WithShardCount(n int) StoreOption {
	return func(c *StoreConfig) { c.ShardCount = n }
}

// WithMemtableCapacity sets the memtable capacity C (event count) at
// which a swap is triggered.
func WithMemtableCapacity(n int) StoreOption {
	return func(c *StoreConfig) { c.MemtableCapacity = n }
}

// WithZoneSize sets the zone size Z used by the flusher and compactor.
func WithZoneSize(n int) StoreOption {
	return func(c *StoreConfig) { c.ZoneSize = n }
}

// WithChannelCapacity sets the bounded capacity of each shard's command
// channel.
func WithChannelCapacity(n int) StoreOption {
	return func(c *StoreConfig) { c.ChannelCapacity = n }
}

// WithPassiveSlots sets the size of the passive buffer ring.
func WithPassiveSlots(n int) StoreOption {
	return func(c *StoreConfig) { c.PassiveSlots = n }
}

// WithRLTEFactor sets F, the ladder-depth multiplier used for ORDER BY +
// LIMIT zone selection.
func WithRLTEFactor(f int) StoreOption {
	return func(c *StoreConfig) { c.RLTEFactor = f }
}

// WithCompactionFanIn sets K, the number of same-level segments a
// compaction plan merges at a time.
func WithCompactionFanIn(k int) StoreOption {
	return func(c *StoreConfig) { c.CompactionFanIn = k }
}

// WithCodec selects the column compression codec.
func WithCodec(codec Codec) StoreOption {
	return func(c *StoreConfig) { c.Codec = codec }
}

// WithLogger injects a structured logger used across the shard, WAL,
// flusher, and compactor.
func WithLogger(l *zap.Logger) StoreOption {
	return func(c *StoreConfig) { c.Logger = l }
}
