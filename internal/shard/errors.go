package shard

// errShard is this package's sentinel error type, following the same
// string-error pattern as schema, wal, and catalog.
type errShard string

func (e errShard) Error() string { return string(e) }

const (
	// ErrSchemaUnknown mirrors schema.ErrUnknown, returned to the caller
	// without retry.
	ErrSchemaUnknown = errShard("shard: event_type unknown")
	// ErrSchemaMismatch mirrors schema.ErrMismatch.
	ErrSchemaMismatch = errShard("shard: payload does not match schema")
	// ErrBufferFull is the hard back-pressure path: no passive slot was
	// free when the active memtable hit capacity.
	ErrBufferFull = errShard("shard: no passive buffer slot available")
	// ErrWalAppendFailed is fatal; the shard halts.
	ErrWalAppendFailed = errShard("shard: wal append failed")
	// ErrCatalogCorrupt is fatal; the shard halts.
	ErrCatalogCorrupt = errShard("shard: segment catalog corrupt")
	// ErrFlushFailed is non-fatal; the caller may retry the flush.
	ErrFlushFailed = errShard("shard: segment flush failed")
	// ErrHalted is returned for any command submitted after the shard
	// halted on a fatal error.
	ErrHalted = errShard("shard: halted after fatal error")
	// ErrQueryInvalid is returned to the caller without retry.
	ErrQueryInvalid = errShard("shard: query invalid")
	// ErrClosed is returned when Handle is called after a
	// ShutdownCommand has stopped the actor.
	ErrClosed = errShard("shard: closed")
)
