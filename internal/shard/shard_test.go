package shard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/relaysix/zonedb/internal/query"
	"github.com/relaysix/zonedb/internal/schema"
	"github.com/relaysix/zonedb/internal/segment"
	"github.com/relaysix/zonedb/internal/wal"
)

// noopCodec skips compression so tests exercise the shard's wiring rather
// than the lz4/snappy codecs, mirroring the compaction package's test codec.
type noopCodec struct{}

func (noopCodec) Compress(raw []byte) ([]byte, error)           { return raw, nil }
func (noopCodec) Decompress(compressed []byte) ([]byte, error) { return compressed, nil }

func orderSchema(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.Define("order_placed", map[string]schema.FieldType{
		"order_id": {Kind: schema.KindI64},
		"amount":   {Kind: schema.KindF64},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func testConfig(t *testing.T, reg *schema.Registry) Config {
	t.Helper()
	return Config{
		Root:             t.TempDir(),
		Schema:           reg,
		MemtableCapacity: 8,
		ZoneSize:         1,
		ChannelCapacity:  8,
		PassiveSlots:     2,
		RLTEFactor:       10,
		CompactionFanIn:  2,
		BackpressureFrac: 0.8,
		Codec:            noopCodec{},
		CacheShards:      1,
	}
}

func orderEvent(ctx string, ts uint64, orderID int64, amount float64) Event {
	return Event{
		EventType: "order_placed",
		ContextID: ctx,
		Timestamp: ts,
		Payload: map[string]segment.Value{
			"order_id": {Kind: segment.KindI64, I64: orderID},
			"amount":   {Kind: segment.KindF64, F64: amount},
		},
	}
}

func mustStore(t *testing.T, sh *Shard, e Event) {
	t.Helper()
	if _, err := sh.Handle(context.Background(), StoreCommand{Event: e}); err != nil {
		t.Fatalf("store %+v: %v", e, err)
	}
}

func TestShard_storeFlushQuery_roundTrip(t *testing.T) {
	cfg := testConfig(t, orderSchema(t))
	sh, err := Open(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Handle(context.Background(), ShutdownCommand{})

	mustStore(t, sh, orderEvent("ctxA", 1, 1, 9.99))
	mustStore(t, sh, orderEvent("ctxB", 2, 2, 19.99))

	res, err := sh.Handle(context.Background(), FlushCommand{})
	if err != nil {
		t.Fatal(err)
	}
	if fr := res.(FlushResult); !fr.Flushed {
		t.Fatal("expected flush to run with two buffered events")
	}

	res, err = sh.Handle(context.Background(), QueryCommand{
		EventType: "order_placed",
		Query:     &query.Query{ReturnFields: []string{"order_id", "amount"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	qr := res.(QueryResult)
	if len(qr.Rows) != 2 {
		t.Fatalf("expected 2 rows from the flushed segment, got %d: %+v", len(qr.Rows), qr.Rows)
	}
	seen := map[string]bool{}
	for _, r := range qr.Rows {
		seen[r.ContextID] = true
	}
	if !seen["ctxA"] || !seen["ctxB"] {
		t.Fatalf("expected both context ids present, got %+v", qr.Rows)
	}
}

func TestShard_orderByLimit_rlteBoundedScan(t *testing.T) {
	cfg := testConfig(t, orderSchema(t))
	sh, err := Open(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Handle(context.Background(), ShutdownCommand{})

	amounts := []float64{5, 1, 9, 3, 7}
	for i, a := range amounts {
		mustStore(t, sh, orderEvent("ctx", uint64(i), int64(i), a))
	}
	if _, err := sh.Handle(context.Background(), FlushCommand{}); err != nil {
		t.Fatal(err)
	}

	res, err := sh.Handle(context.Background(), QueryCommand{
		EventType: "order_placed",
		Query: &query.Query{
			ReturnFields: []string{"amount"},
			OrderBy:      "amount",
			OrderAsc:     false,
			Limit:        2,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	qr := res.(QueryResult)
	if len(qr.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(qr.Rows), qr.Rows)
	}
	if qr.Rows[0].Fields["amount"].F64 != 9 || qr.Rows[1].Fields["amount"].F64 != 7 {
		t.Fatalf("expected top-2 amounts [9 7], got [%v %v]",
			qr.Rows[0].Fields["amount"].F64, qr.Rows[1].Fields["amount"].F64)
	}
}

func TestShard_backpressure_noPassiveSlot(t *testing.T) {
	cfg := testConfig(t, orderSchema(t))
	cfg.MemtableCapacity = 1
	cfg.PassiveSlots = 0
	sh, err := Open(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Handle(context.Background(), ShutdownCommand{})

	mustStore(t, sh, orderEvent("ctxA", 1, 1, 1))

	_, err = sh.Handle(context.Background(), StoreCommand{Event: orderEvent("ctxB", 2, 2, 2)})
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
}

func TestShard_shutdown_flushesActiveMemtable(t *testing.T) {
	cfg := testConfig(t, orderSchema(t))
	sh, err := Open(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	mustStore(t, sh, orderEvent("ctxA", 1, 1, 1))

	if _, err := sh.Handle(context.Background(), ShutdownCommand{}); err != nil {
		t.Fatal(err)
	}

	if _, err := sh.Handle(context.Background(), FlushCommand{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestShard_crashRecovery_replaysUnflushedEvents(t *testing.T) {
	reg := orderSchema(t)
	cfg := testConfig(t, reg)

	walDir := filepath.Join(cfg.Root, "wal")
	log, err := wal.Open(walDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := []Event{
		orderEvent("ctxA", 1, 1, 11),
		orderEvent("ctxB", 2, 2, 22),
		orderEvent("ctxC", 3, 3, 33),
	}
	for _, e := range events {
		if err := log.Append(context.Background(), encodeEvent(e)); err != nil {
			t.Fatal(err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	sh, err := Open(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Handle(context.Background(), ShutdownCommand{})

	res, err := sh.Handle(context.Background(), QueryCommand{
		EventType: "order_placed",
		Query:     &query.Query{ReturnFields: []string{"order_id", "amount"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	qr := res.(QueryResult)
	if len(qr.Rows) != len(events) {
		t.Fatalf("expected %d recovered rows, got %d: %+v", len(events), len(qr.Rows), qr.Rows)
	}
}

func TestShard_store_schemaUnknown(t *testing.T) {
	cfg := testConfig(t, orderSchema(t))
	sh, err := Open(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Handle(context.Background(), ShutdownCommand{})

	_, err = sh.Handle(context.Background(), StoreCommand{Event: Event{EventType: "unknown_type", ContextID: "ctx"}})
	if !errors.Is(err, ErrSchemaUnknown) {
		t.Fatalf("expected ErrSchemaUnknown, got %v", err)
	}
}

func TestShard_store_schemaMismatch(t *testing.T) {
	cfg := testConfig(t, orderSchema(t))
	sh, err := Open(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Handle(context.Background(), ShutdownCommand{})

	bad := Event{
		EventType: "order_placed",
		ContextID: "ctx",
		Payload: map[string]segment.Value{
			"order_id": {Kind: segment.KindString, Str: "not-an-int"},
		},
	}
	_, err = sh.Handle(context.Background(), StoreCommand{Event: bad})
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestShard_query_sequenceRejected(t *testing.T) {
	cfg := testConfig(t, orderSchema(t))
	sh, err := Open(0, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Handle(context.Background(), ShutdownCommand{})

	_, err = sh.Handle(context.Background(), QueryCommand{
		EventType: "order_placed",
		Query: &query.Query{
			Sequence: &query.EventSequence{HeadEventType: "order_placed", HeadField: "order_id"},
		},
	})
	if !errors.Is(err, ErrQueryInvalid) {
		t.Fatalf("expected ErrQueryInvalid, got %v", err)
	}
}
