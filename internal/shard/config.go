package shard

import (
	"go.uber.org/zap"

	"github.com/relaysix/zonedb/internal/schema"
	"github.com/relaysix/zonedb/internal/segment"
)

// Config holds the tunables one Shard needs. The root package builds
// this from its own StoreConfig so this package never has to import
// the root (which imports shard).
type Config struct {
	Root             string
	Schema           *schema.Registry
	MemtableCapacity int
	ZoneSize         int
	ChannelCapacity  int
	PassiveSlots     int
	RLTEFactor       int
	CompactionFanIn  int
	BackpressureFrac float64
	Codec            segment.Codec
	CacheShards      int
	Logger           *zap.Logger
}
