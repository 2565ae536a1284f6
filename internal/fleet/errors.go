package fleet

// errFleet is this package's sentinel error type, following the same
// string-error pattern as schema, wal, catalog, and shard.
type errFleet string

func (e errFleet) Error() string { return string(e) }

const (
	// ErrNoShards is returned by Open when handed an empty shard config
	// slice; a fleet with zero shards cannot route anything.
	ErrNoShards = errFleet("fleet: no shard configs given")
)
