package actor

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/louisbranch/actorstore/internal/errors"
	"github.com/louisbranch/actorstore/internal/metrics"
	"github.com/louisbranch/actorstore/internal/storage"
	"github.com/louisbranch/actorstore/internal/storage/memory"
)

func newTestStorage(t *testing.T, engineOpts memory.Options, tweak func(cfg *Config)) (*Storage, *memory.Engine, *metrics.Capture) {
	t.Helper()
	engine := memory.New(engineOpts)
	sink := &metrics.Capture{}
	cfg := Config{Engine: engine, Sink: sink}
	if tweak != nil {
		tweak(&cfg)
	}
	return New(cfg), engine, sink
}

// awaiter returns a helper that fails the test on an issue error or a
// rejected future and returns the resolved value.
func awaiter[T any](t *testing.T) func(fut *storage.Future[T], err error) T {
	return func(fut *storage.Future[T], err error) T {
		t.Helper()
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		v, aerr := fut.Await(context.Background())
		if aerr != nil {
			t.Fatalf("await: %v", aerr)
		}
		return v
	}
}

func drain(t *testing.T, s *Storage) {
	t.Helper()
	if err := s.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestGetRoundTrip(t *testing.T) {
	s, _, _ := newTestStorage(t, memory.Options{}, nil)
	ctx := context.Background()
	put := awaiter[struct{}](t)
	get := awaiter[any](t)

	put(s.Put(ctx, "greeting", "hello", PutOptions{}))
	if got := get(s.Get(ctx, "greeting", GetOptions{})); got != "hello" {
		t.Fatalf("expected hello, got %v", got)
	}
	if got := get(s.Get(ctx, "missing", GetOptions{})); got != nil {
		t.Fatalf("expected nil for missing key, got %v", got)
	}
}

func TestListPrefixBillsOneUncachedUnitCold(t *testing.T) {
	s, _, sink := newTestStorage(t, memory.Options{AsyncReads: true}, nil)
	ctx := context.Background()
	put := awaiter[struct{}](t)
	list := awaiter[[]ListEntry](t)

	put(s.Put(ctx, "a", "1", PutOptions{}))
	put(s.Put(ctx, "b", "2", PutOptions{}))

	entries := list(s.List(ctx, ListOptions{Prefix: "a"}))
	if len(entries) != 1 || entries[0].Key != "a" || entries[0].Value != "1" {
		t.Fatalf("expected [{a 1}], got %v", entries)
	}

	drain(t, s)
	cached, uncached, writes, _ := sink.Snapshot()
	if uncached != 1 || cached != 0 {
		t.Fatalf("expected exactly 1 uncached read unit, got cached=%d uncached=%d", cached, uncached)
	}
	if writes != 2 {
		t.Fatalf("expected 2 write units, got %d", writes)
	}
}

func TestListImpossibleRangeSkipsEngineAndBilling(t *testing.T) {
	s, _, sink := newTestStorage(t, memory.Options{AsyncReads: true}, nil)
	ctx := context.Background()
	put := awaiter[struct{}](t)

	put(s.Put(ctx, "a", "1", PutOptions{}))

	start, end := "b", "a"
	fut, err := s.List(ctx, ListOptions{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !fut.Ready() {
		t.Fatal("expected an impossible range to resolve without reaching the engine")
	}
	if entries, err := fut.Await(ctx); err != nil || len(entries) != 0 {
		t.Fatalf("expected empty result, got %v err=%v", entries, err)
	}

	drain(t, s)
	cached, uncached, _, _ := sink.Snapshot()
	if cached != 0 || uncached != 0 {
		t.Fatalf("expected no read units, got cached=%d uncached=%d", cached, uncached)
	}
}

func TestListConflictingStartOptions(t *testing.T) {
	s, _, _ := newTestStorage(t, memory.Options{}, nil)
	start, after := "a", "b"
	if _, err := s.List(context.Background(), ListOptions{Start: &start, StartAfter: &after}); !errors.Is(err, errors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestGetMultipleMissingKeysAreExistenceChecks(t *testing.T) {
	s, _, sink := newTestStorage(t, memory.Options{}, nil)
	ctx := context.Background()
	put := awaiter[struct{}](t)
	getMulti := awaiter[map[string]any](t)

	put(s.Put(ctx, "x", "1", PutOptions{}))

	got := getMulti(s.GetMultiple(ctx, []string{"x", "y", "y"}, GetOptions{}))
	if len(got) != 2 {
		t.Fatalf("expected both requested keys in result, got %v", got)
	}
	if got["x"] != "1" {
		t.Fatalf("expected x=1, got %v", got["x"])
	}
	if v, ok := got["y"]; !ok || v != nil {
		t.Fatalf("expected y present and nil, got %v ok=%v", v, ok)
	}

	drain(t, s)
	cached, uncached, _, _ := sink.Snapshot()
	if cached != 1 {
		t.Fatalf("expected 1 cached unit for x, got %d", cached)
	}
	// Existence checks bill per requested key, so the duplicated "y" counts
	// twice even though the engine saw it once.
	if uncached != 2 {
		t.Fatalf("expected 2 uncached existence-check units for y,y, got %d", uncached)
	}
}

func TestWriteBillingWaitsForDurability(t *testing.T) {
	s, engine, sink := newTestStorage(t, memory.Options{ManualFlush: true}, nil)
	ctx := context.Background()

	if _, err := s.Put(ctx, "a", "1", PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, _, writes, _ := sink.Snapshot(); writes != 0 {
		t.Fatalf("expected no write units before flush, got %d", writes)
	}

	engine.Flush()
	drain(t, s)
	if _, _, writes, _ := sink.Snapshot(); writes != 1 {
		t.Fatalf("expected 1 write unit after flush, got %d", writes)
	}
}

func TestShutdownDropsUnconfirmedWriteBilling(t *testing.T) {
	s, _, sink := newTestStorage(t, memory.Options{ManualFlush: true}, nil)
	ctx := context.Background()

	if _, err := s.Put(ctx, "a", "1", PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.Shutdown(stderrors.New("actor aborted"))
	drain(t, s)
	if _, _, writes, _ := sink.Snapshot(); writes != 0 {
		t.Fatalf("expected dropped billing for a write that never became durable, got %d", writes)
	}
}

func TestDeleteBilling(t *testing.T) {
	s, _, sink := newTestStorage(t, memory.Options{}, nil)
	ctx := context.Background()
	put := awaiter[struct{}](t)
	del := awaiter[bool](t)
	delMulti := awaiter[int](t)

	put(s.Put(ctx, "a", "1", PutOptions{}))

	if existed := del(s.Delete(ctx, "a", PutOptions{})); !existed {
		t.Fatal("expected delete of existing key to report true")
	}
	if existed := del(s.Delete(ctx, "a", PutOptions{})); existed {
		t.Fatal("expected delete of missing key to report false")
	}
	if count := delMulti(s.DeleteMultiple(ctx, []string{"b", "b", "c"}, PutOptions{})); count != 0 {
		t.Fatalf("expected 0 deleted, got %d", count)
	}

	drain(t, s)
	_, _, _, deletes := sink.Snapshot()
	// 1 for the real delete, 1 floor for the miss, 3 for the multi-delete:
	// the requested key count is billed as given, duplicates included.
	if deletes != 5 {
		t.Fatalf("expected 5 delete units, got %d", deletes)
	}
}

func TestDeleteAllBillsFloorOfOne(t *testing.T) {
	s, _, sink := newTestStorage(t, memory.Options{}, nil)
	delAll := awaiter[int](t)

	if count := delAll(s.DeleteAll(context.Background(), PutOptions{})); count != 0 {
		t.Fatalf("expected 0 deleted on empty actor, got %d", count)
	}
	drain(t, s)
	if _, _, _, deletes := sink.Snapshot(); deletes != 1 {
		t.Fatalf("expected floor of 1 delete unit, got %d", deletes)
	}
}

func TestSetAlarmValidation(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	s, _, _ := newTestStorage(t, memory.Options{}, nil)
	if _, err := s.SetAlarm(ctx, at, SetAlarmOptions{}); !errors.Is(err, errors.CodePreconditionFailed) {
		t.Fatalf("expected precondition failure without alarm handler, got %v", err)
	}

	s, _, _ = newTestStorage(t, memory.Options{}, func(cfg *Config) {
		cfg.HasAlarmHandler = true
	})
	if _, err := s.SetAlarm(ctx, time.Unix(0, 0), SetAlarmOptions{}); !errors.Is(err, errors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for epoch alarm, got %v", err)
	}
}

func TestSetAlarmClampsPastTimes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _, sink := newTestStorage(t, memory.Options{}, func(cfg *Config) {
		cfg.HasAlarmHandler = true
		cfg.Clock = func() time.Time { return now }
	})
	setAlarm := awaiter[struct{}](t)
	getAlarm := awaiter[*time.Time](t)

	setAlarm(s.SetAlarm(ctx, now.Add(-time.Hour), SetAlarmOptions{}))
	alarm := getAlarm(s.GetAlarm(ctx, GetAlarmOptions{}))
	if alarm == nil || !alarm.Equal(now) {
		t.Fatalf("expected past alarm clamped to now, got %v", alarm)
	}

	setAlarm(s.DeleteAlarm(ctx, SetAlarmOptions{}))
	if alarm := getAlarm(s.GetAlarm(ctx, GetAlarmOptions{})); alarm != nil {
		t.Fatalf("expected cleared alarm, got %v", alarm)
	}

	drain(t, s)
	cached, uncached, writes, _ := sink.Snapshot()
	// Only setAlarm bills; clearing the alarm is free.
	if writes != 1 {
		t.Fatalf("expected 1 write unit for setAlarm alone, got %d", writes)
	}
	// Alarm reads are not billed.
	if cached != 0 || uncached != 0 {
		t.Fatalf("expected no read units for alarm reads, got cached=%d uncached=%d", cached, uncached)
	}
}

func TestTransactionCommit(t *testing.T) {
	s, _, sink := newTestStorage(t, memory.Options{}, nil)
	ctx := context.Background()
	put := awaiter[struct{}](t)
	get := awaiter[any](t)

	err := s.Transaction(ctx, func(ctx context.Context, txn *Transaction) error {
		put(txn.Put(ctx, "a", "1", PutOptions{}))
		// The transaction observes its own staged write.
		if got := get(txn.Get(ctx, "a", GetOptions{})); got != "1" {
			t.Fatalf("expected staged value inside transaction, got %v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	if got := get(s.Get(ctx, "a", GetOptions{})); got != "1" {
		t.Fatalf("expected committed value, got %v", got)
	}
	drain(t, s)
	if _, _, writes, _ := sink.Snapshot(); writes != 1 {
		t.Fatalf("expected transaction write billed after commit, got %d", writes)
	}
}

func TestTransactionCallbackErrorRollsBack(t *testing.T) {
	s, _, sink := newTestStorage(t, memory.Options{}, nil)
	ctx := context.Background()
	get := awaiter[any](t)
	boom := stderrors.New("boom")

	err := s.Transaction(ctx, func(ctx context.Context, txn *Transaction) error {
		if _, perr := txn.Put(ctx, "a", "1", PutOptions{}); perr != nil {
			return perr
		}
		return boom
	})
	// The callback's error comes back unmodified, not wrapped.
	if err != boom {
		t.Fatalf("expected callback error unmodified, got %v", err)
	}

	if got := get(s.Get(ctx, "a", GetOptions{})); got != nil {
		t.Fatalf("expected rolled back write to be invisible, got %v", got)
	}
	drain(t, s)
	if _, _, writes, _ := sink.Snapshot(); writes != 0 {
		t.Fatalf("expected no billing for a rolled back transaction, got %d", writes)
	}
}

func TestTransactionClosedAfterRollback(t *testing.T) {
	s, _, _ := newTestStorage(t, memory.Options{}, nil)
	ctx := context.Background()

	var leaked *Transaction
	err := s.Transaction(ctx, func(ctx context.Context, txn *Transaction) error {
		leaked = txn
		if err := txn.Rollback(); err != nil {
			return err
		}
		// Rollback is idempotent.
		if err := txn.Rollback(); err != nil {
			return err
		}
		if _, err := txn.Get(ctx, "a", GetOptions{}); !errors.Is(err, errors.CodeTransactionClosed) {
			t.Fatalf("expected transaction-closed error, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if _, err := leaked.Put(ctx, "a", "1", PutOptions{}); !errors.Is(err, errors.CodeTransactionClosed) {
		t.Fatalf("expected transaction-closed error after return, got %v", err)
	}
}

func TestTransactionProhibitsDeleteAll(t *testing.T) {
	s, _, _ := newTestStorage(t, memory.Options{}, nil)
	err := s.Transaction(context.Background(), func(ctx context.Context, txn *Transaction) error {
		if _, err := txn.DeleteAll(ctx, PutOptions{}); !errors.Is(err, errors.CodePreconditionFailed) {
			t.Fatalf("expected precondition failure, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestTransactionSyncRequiresSQLEngine(t *testing.T) {
	s, _, _ := newTestStorage(t, memory.Options{}, nil)
	err := s.TransactionSync(func() error { return nil })
	if !errors.Is(err, errors.CodePreconditionFailed) {
		t.Fatalf("expected precondition failure on non-SQL engine, got %v", err)
	}
}

func TestReadBillingSurvivesShutdown(t *testing.T) {
	s, _, sink := newTestStorage(t, memory.Options{ManualFlush: true}, nil)
	ctx := context.Background()
	get := awaiter[any](t)

	if got := get(s.Get(ctx, "missing", GetOptions{})); got != nil {
		t.Fatalf("expected nil for missing key, got %v", got)
	}
	if _, err := s.Put(ctx, "a", "1", PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.Shutdown(stderrors.New("actor aborted"))

	drain(t, s)
	cached, uncached, writes, _ := sink.Snapshot()
	// The read completed and returned data to the caller before the abort,
	// so it stays billed; the never-durable write does not.
	if cached != 1 || uncached != 0 {
		t.Fatalf("expected the completed read billed, got cached=%d uncached=%d", cached, uncached)
	}
	if writes != 0 {
		t.Fatalf("expected dropped billing for the unflushed write, got %d", writes)
	}
}

func TestPutRejectsUndefinedValue(t *testing.T) {
	s, _, _ := newTestStorage(t, memory.Options{}, nil)
	if _, err := s.Put(context.Background(), "a", Undefined, PutOptions{}); !errors.Is(err, errors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for undefined value, got %v", err)
	}
}

func TestPutMultipleSkipsUndefinedValues(t *testing.T) {
	s, _, _ := newTestStorage(t, memory.Options{}, nil)
	ctx := context.Background()
	put := awaiter[struct{}](t)
	get := awaiter[any](t)

	put(s.Put(ctx, "keep", "old", PutOptions{}))
	put(s.PutMultiple(ctx, map[string]any{
		"keep": Undefined,
		"new":  "value",
	}, PutOptions{}))

	if got := get(s.Get(ctx, "keep", GetOptions{})); got != "old" {
		t.Fatalf("expected undefined entry to be skipped, got %v", got)
	}
	if got := get(s.Get(ctx, "new", GetOptions{})); got != "value" {
		t.Fatalf("expected new entry written, got %v", got)
	}
}

func TestSyncResolvesAfterFlush(t *testing.T) {
	s, engine, _ := newTestStorage(t, memory.Options{ManualFlush: true}, nil)
	ctx := context.Background()

	if _, err := s.Put(ctx, "a", "1", PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	fut := s.Sync(ctx)
	if fut.Ready() {
		t.Fatal("expected sync to wait for the pending flush")
	}
	engine.Flush()
	if _, err := fut.Await(ctx); err != nil {
		t.Fatalf("await sync: %v", err)
	}
}
