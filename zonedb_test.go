package zonedb_test

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaysix/zonedb"
)

func mustOpen(t *testing.T, opts ...zonedb.StoreOption) (*zonedb.Store, string) {
	t.Helper()
	dir := t.TempDir()
	db, close, err := zonedb.Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { close() })
	return db, dir
}

func mustStore(t *testing.T, db *zonedb.Store, e zonedb.Event) {
	t.Helper()
	_, err := db.Store(context.Background(), e)
	require.NoErrorf(t, err, "store %+v", e)
}

// waitFor polls cond every 10ms up to 2s, the pattern this module's own
// background flush goroutines call for: no public API blocks until a
// capacity-triggered flush lands on disk.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true")
	}
}

// TestCapacitySwap is spec §8 scenario 1: memtable capacity C=2, three
// stores under one context trigger exactly one capacity swap, leaving
// the third event live in the new active memtable. Disk holds exactly
// one segment, labelled 00000; the query still returns all 3 rows
// because the query path merges flushed segments with in-memory state.
func TestCapacitySwap(t *testing.T) {
	db, dir := mustOpen(t, zonedb.WithShardCount(1), zonedb.WithMemtableCapacity(2))
	err := db.DefineSchema("t", map[string]zonedb.FieldType{
		"id": {Kind: zonedb.FieldI64},
	})
	require.NoError(t, err)

	mustStore(t, db, zonedb.Event{EventType: "t", ContextID: "ctx1", Timestamp: 1, Payload: map[string]zonedb.Scalar{"id": zonedb.I64(1)}})
	mustStore(t, db, zonedb.Event{EventType: "t", ContextID: "ctx1", Timestamp: 2, Payload: map[string]zonedb.Scalar{"id": zonedb.I64(2)}})
	mustStore(t, db, zonedb.Event{EventType: "t", ContextID: "ctx1", Timestamp: 3, Payload: map[string]zonedb.Scalar{"id": zonedb.I64(3)}})

	segDir := filepath.Join(dir, "shard-000", "segments")
	waitFor(t, func() bool {
		entries, err := os.ReadDir(segDir)
		return err == nil && len(entries) == 1
	})
	entries, err := os.ReadDir(segDir)
	require.NoError(t, err)
	require.Lenf(t, entries, 1, "expected exactly one segment dir, got %+v", entries)
	require.Equal(t, "00000", entries[0].Name())

	res, err := db.Query(context.Background(), "t", &zonedb.Query{
		ContextID:    "ctx1",
		ReturnFields: []string{"id"},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
}

// fnvShardIndex replicates the fleet package's context_id routing
// (FNV-1a mod shard count) so the test can place an event on a chosen
// shard without reaching into an internal package.
func fnvShardIndex(contextID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(contextID))
	return int(h.Sum32() % uint32(n))
}

func ctxForShard(shardIdx, n int) string {
	for i := 0; ; i++ {
		id := fmt.Sprintf("ctx-%d", i)
		if fnvShardIndex(id, n) == shardIdx {
			return id
		}
	}
}

// TestOrderedTopK is spec §8 scenario 2: 4 shards, each with one event
// per score in [0..99]. ORDER BY score DESC LIMIT 5 returns the same
// multiset of scores regardless of shard count: four 99s and one 98.
func TestOrderedTopK(t *testing.T) {
	const shardCount = 4
	db, _ := mustOpen(t, zonedb.WithShardCount(shardCount))
	err := db.DefineSchema("score_event", map[string]zonedb.FieldType{
		"score": {Kind: zonedb.FieldI64},
	})
	require.NoError(t, err)

	for shardIdx := 0; shardIdx < shardCount; shardIdx++ {
		ctxID := ctxForShard(shardIdx, shardCount)
		for score := 0; score < 100; score++ {
			mustStore(t, db, zonedb.Event{
				EventType: "score_event",
				ContextID: ctxID,
				Timestamp: uint64(score),
				Payload:   map[string]zonedb.Scalar{"score": zonedb.I64(int64(score))},
			})
		}
	}
	require.NoError(t, db.Flush(context.Background()))

	res, err := db.Query(context.Background(), "score_event", &zonedb.Query{
		ReturnFields: []string{"score"},
		OrderBy:      "score",
		OrderAsc:     false,
		Limit:        5,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 5)
	got := make([]int64, 5)
	for i, r := range res.Rows {
		got[i] = r.Fields["score"].I64
	}
	require.Equal(t, []int64{99, 99, 99, 99, 98}, got)
}

// TestOptionalField_missingValueStoresAsNull is spec §3's Optional<T>
// rule exercised through the public API: a row that omits an optional
// string field sits between two rows that set it, flushed into one
// segment column, so a decode desync on the null would corrupt the
// row read after it.
func TestOptionalField_missingValueStoresAsNull(t *testing.T) {
	db, _ := mustOpen(t, zonedb.WithShardCount(1), zonedb.WithMemtableCapacity(8))
	err := db.DefineSchema("tagged", map[string]zonedb.FieldType{
		"tag": zonedb.Optional(zonedb.FieldType{Kind: zonedb.FieldString}),
	})
	require.NoError(t, err)

	mustStore(t, db, zonedb.Event{
		EventType: "tagged", ContextID: "ctx1", Timestamp: 0,
		Payload: map[string]zonedb.Scalar{"tag": zonedb.Str("abc")},
	})
	mustStore(t, db, zonedb.Event{
		EventType: "tagged", ContextID: "ctx1", Timestamp: 1,
		Payload: map[string]zonedb.Scalar{},
	})
	mustStore(t, db, zonedb.Event{
		EventType: "tagged", ContextID: "ctx1", Timestamp: 2,
		Payload: map[string]zonedb.Scalar{"tag": zonedb.Str("xy")},
	})
	require.NoError(t, db.Flush(context.Background()))

	res, err := db.Query(context.Background(), "tagged", &zonedb.Query{
		ContextID:    "ctx1",
		ReturnFields: []string{"tag"},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	require.Equal(t, "abc", res.Rows[0].Fields["tag"].Str)
	require.True(t, res.Rows[1].Fields["tag"].IsNull())
	require.Equal(t, "xy", res.Rows[2].Fields["tag"].Str)
}

// TestRangePruning is spec §8 scenario 3: two flushed segments, A with
// order_id {100,105} and B with {95,100}. Range and equality predicates
// must return the right count from across both segments.
func TestRangePruning(t *testing.T) {
	db, _ := mustOpen(t, zonedb.WithShardCount(1), zonedb.WithMemtableCapacity(2))
	err := db.DefineSchema("order_event", map[string]zonedb.FieldType{
		"order_id": {Kind: zonedb.FieldI64},
	})
	require.NoError(t, err)

	store := func(ctx string, ts uint64, orderID int64) {
		mustStore(t, db, zonedb.Event{
			EventType: "order_event", ContextID: ctx, Timestamp: ts,
			Payload: map[string]zonedb.Scalar{"order_id": zonedb.I64(orderID)},
		})
	}
	store("A", 1, 100)
	store("A", 2, 105)
	require.NoError(t, db.Flush(context.Background()))
	store("B", 3, 95)
	store("B", 4, 100)
	require.NoError(t, db.Flush(context.Background()))

	query := func(op zonedb.Op, v int64) int {
		res, err := db.Query(context.Background(), "order_event", &zonedb.Query{
			ReturnFields: []string{"order_id"},
			Where: &zonedb.Where{Op: zonedb.BoolAnd, Conds: []zonedb.Cond{
				{Field: "order_id", Op: op, Value: zonedb.I64(v)},
			}},
		})
		require.NoError(t, err)
		return len(res.Rows)
	}

	require.Equal(t, 4, query(zonedb.OpGt, 10), "order_id > 10")
	require.Equal(t, 1, query(zonedb.OpLt, 100), "order_id < 100")
	require.Equal(t, 2, query(zonedb.OpEq, 100), "order_id = 100")
}

// TestAggregationGroupTimeBucket is spec §8 scenario 4: 3 events in one
// month bucket, grouped by country, summing amount and counting rows.
func TestAggregationGroupTimeBucket(t *testing.T) {
	db, _ := mustOpen(t, zonedb.WithShardCount(2))
	err := db.DefineSchema("purchase", map[string]zonedb.FieldType{
		"country": {Kind: zonedb.FieldString},
		"amount":  {Kind: zonedb.FieldF64},
	})
	require.NoError(t, err)

	store := func(ctx string, ts uint64, country string, amount float64) {
		mustStore(t, db, zonedb.Event{
			EventType: "purchase", ContextID: ctx, Timestamp: ts,
			Payload: map[string]zonedb.Scalar{
				"country": zonedb.Str(country),
				"amount":  zonedb.F64(amount),
			},
		})
	}
	store("c1", 0, "US", 10)
	store("c2", 1, "US", 5)
	store("c3", 2, "DE", 3)
	require.NoError(t, db.Flush(context.Background()))

	res, err := db.Query(context.Background(), "purchase", &zonedb.Query{
		Aggs:       []zonedb.Agg{{Kind: zonedb.Sum, Field: "amount"}, {Kind: zonedb.CountAll}},
		GroupBy:    []string{"country"},
		TimeBucket: 1000,
	})
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)

	byCountry := map[string]zonedb.Group{}
	for _, g := range res.Groups {
		byCountry[g.KeyValues[0].Str] = g
	}
	us, ok := byCountry["US"]
	require.Truef(t, ok, "expected a US group, got %+v", res.Groups)
	require.Equalf(t, float64(15), us.Values[0].F64, "US sum")
	require.Equalf(t, uint64(2), us.Values[1].U64, "US count")
	de, ok := byCountry["DE"]
	require.Truef(t, ok, "expected a DE group, got %+v", res.Groups)
	require.Equalf(t, float64(3), de.Values[0].F64, "DE sum")
	require.Equalf(t, uint64(1), de.Values[1].U64, "DE count")
}

// TestSequenceMatch is spec §8 scenario 5: page_view FOLLOWED_BY
// purchase, linked by user_id, matches the pair when purchase strictly
// follows page_view and matches nothing when the times are reversed.
func TestSequenceMatch(t *testing.T) {
	db, _ := mustOpen(t, zonedb.WithShardCount(4))
	fields := map[string]zonedb.FieldType{"user_id": {Kind: zonedb.FieldString}}
	require.NoError(t, db.DefineSchema("page_view", fields))
	require.NoError(t, db.DefineSchema("purchase", fields))

	mustStore(t, db, zonedb.Event{
		EventType: "page_view", ContextID: "user-1", Timestamp: 1000,
		Payload: map[string]zonedb.Scalar{"user_id": zonedb.Str("user-1")},
	})
	mustStore(t, db, zonedb.Event{
		EventType: "purchase", ContextID: "user-1", Timestamp: 2000,
		Payload: map[string]zonedb.Scalar{"user_id": zonedb.Str("user-1")},
	})
	require.NoError(t, db.Flush(context.Background()))

	seq := &zonedb.EventSequence{
		HeadEventType: "page_view",
		Links:         []zonedb.SequenceLink{{FollowedBy: true, Target: "purchase"}},
	}
	res, err := db.Query(context.Background(), "page_view", &zonedb.Query{
		LinkField: "user_id",
		Sequence:  seq,
	})
	require.NoError(t, err)
	require.Len(t, res.Sequences, 1)
	require.Len(t, res.Sequences[0].Rows, 2)
}

func TestSequenceMatch_reversedTimesYieldsNoMatch(t *testing.T) {
	db, _ := mustOpen(t, zonedb.WithShardCount(2))
	fields := map[string]zonedb.FieldType{"user_id": {Kind: zonedb.FieldString}}
	require.NoError(t, db.DefineSchema("page_view", fields))
	require.NoError(t, db.DefineSchema("purchase", fields))

	mustStore(t, db, zonedb.Event{
		EventType: "page_view", ContextID: "user-1", Timestamp: 2000,
		Payload: map[string]zonedb.Scalar{"user_id": zonedb.Str("user-1")},
	})
	mustStore(t, db, zonedb.Event{
		EventType: "purchase", ContextID: "user-1", Timestamp: 1000,
		Payload: map[string]zonedb.Scalar{"user_id": zonedb.Str("user-1")},
	})
	require.NoError(t, db.Flush(context.Background()))

	res, err := db.Query(context.Background(), "page_view", &zonedb.Query{
		LinkField: "user_id",
		Sequence: &zonedb.EventSequence{
			HeadEventType: "page_view",
			Links:         []zonedb.SequenceLink{{FollowedBy: true, Target: "purchase"}},
		},
	})
	require.NoError(t, err)
	require.Empty(t, res.Sequences)
}

// TestCrashRecovery is spec §8 scenario 6: 1000 events stored with no
// flush, then the process is abandoned without a graceful Shutdown
// (the store's close func is never called, so its WAL is left exactly
// as a killed process would leave it) and a fresh Store opened at the
// same path replays all 1000 events in original per-context order.
func TestCrashRecovery(t *testing.T) {
	dir := t.TempDir()
	db, _, err := zonedb.Open(dir, zonedb.WithShardCount(1), zonedb.WithMemtableCapacity(2000))
	require.NoError(t, err)
	err = db.DefineSchema("t", map[string]zonedb.FieldType{
		"n": {Kind: zonedb.FieldI64},
	})
	require.NoError(t, err)

	const total = 1000
	for i := 0; i < total; i++ {
		mustStore(t, db, zonedb.Event{
			EventType: "t", ContextID: "ctx1", Timestamp: uint64(i),
			Payload: map[string]zonedb.Scalar{"n": zonedb.I64(int64(i))},
		})
	}
	// No close() call: simulates a hard kill, nothing is ever flushed.

	reopened, close, err := zonedb.Open(dir, zonedb.WithShardCount(1), zonedb.WithMemtableCapacity(2000))
	require.NoError(t, err)
	defer close()

	res, err := reopened.Query(context.Background(), "t", &zonedb.Query{
		ContextID:    "ctx1",
		ReturnFields: []string{"n"},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, total)
	for i, r := range res.Rows {
		if r.Fields["n"].I64 != int64(i) {
			t.Fatalf("expected row %d to hold n=%d in original order, got %d", i, i, r.Fields["n"].I64)
		}
	}
}
