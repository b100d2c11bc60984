package memory

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/actorstore/internal/storage"
)

func await[T any](t *testing.T, res storage.Result[T]) T {
	t.Helper()
	v, err := res.Future().Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	return v
}

func TestEngineRoundTrip(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()

	e.Put(ctx, []byte("a"), []byte("1"), storage.WriteOptions{})
	e.Put(ctx, []byte("b"), []byte("2"), storage.WriteOptions{})

	got := await(t, e.Get(ctx, []byte("a"), storage.ReadOptions{}))
	if string(got) != "1" {
		t.Fatalf("expected 1, got %q", got)
	}
	if v, ok := e.Get(ctx, []byte("a"), storage.ReadOptions{}).Now(); !ok || string(v) != "1" {
		t.Fatalf("expected immediate cached read, got ok=%v v=%q", ok, v)
	}
	if got := await(t, e.Get(ctx, []byte("missing"), storage.ReadOptions{})); got != nil {
		t.Fatalf("expected nil for missing key, got %q", got)
	}
}

func TestEngineAsyncReadsArePending(t *testing.T) {
	e := New(Options{AsyncReads: true})
	ctx := context.Background()
	e.Put(ctx, []byte("a"), []byte("1"), storage.WriteOptions{})

	res := e.Get(ctx, []byte("a"), storage.ReadOptions{})
	if _, ok := res.Now(); ok {
		t.Fatal("expected pending result in async mode")
	}
	if got := await(t, res); string(got) != "1" {
		t.Fatalf("expected 1, got %q", got)
	}
}

func TestEngineListOrderAndBounds(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()
	for _, key := range []string{"b", "a", "d", "c"} {
		e.Put(ctx, []byte(key), []byte(key), storage.WriteOptions{})
	}

	entries := await(t, e.List(ctx, []byte("a"), []byte("d"), 0, storage.ReadOptions{}))
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(entries[i].Key) != want {
			t.Fatalf("entry %d: expected key %q, got %q", i, want, entries[i].Key)
		}
	}

	rev := await(t, e.ListReverse(ctx, nil, nil, 2, storage.ReadOptions{}))
	if len(rev) != 2 || string(rev[0].Key) != "d" || string(rev[1].Key) != "c" {
		t.Fatalf("unexpected reverse scan: %v", rev)
	}
}

func TestEngineDeleteCounts(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()
	e.Put(ctx, []byte("a"), []byte("1"), storage.WriteOptions{})

	if existed := await(t, e.Delete(ctx, []byte("a"), storage.WriteOptions{})); !existed {
		t.Fatal("expected delete of existing key to report true")
	}
	if existed := await(t, e.Delete(ctx, []byte("a"), storage.WriteOptions{})); existed {
		t.Fatal("expected delete of missing key to report false")
	}
}

func TestEngineManualFlush(t *testing.T) {
	e := New(Options{ManualFlush: true})
	ctx := context.Background()

	fut := e.Put(ctx, []byte("a"), []byte("1"), storage.WriteOptions{})
	if fut == nil {
		t.Fatal("expected backpressure future in manual flush mode")
	}
	if fut.Ready() {
		t.Fatal("expected write future to be pending before flush")
	}
	pendingFlush := e.OnNoPendingFlush()
	if pendingFlush == nil {
		t.Fatal("expected pending flush future")
	}

	e.Flush()
	if _, err := fut.Await(ctx); err != nil {
		t.Fatalf("await write: %v", err)
	}
	if _, err := pendingFlush.Await(ctx); err != nil {
		t.Fatalf("await flush: %v", err)
	}
	if e.OnNoPendingFlush() != nil {
		t.Fatal("expected no pending flush after flush")
	}
}

func TestEngineTransactionCommitAndRollback(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()
	e.Put(ctx, []byte("base"), []byte("0"), storage.WriteOptions{})

	txn := e.StartTransaction()
	txn.Put(ctx, []byte("a"), []byte("1"), storage.WriteOptions{})
	txn.Delete(ctx, []byte("base"), storage.WriteOptions{})

	// Staged writes are visible inside the transaction.
	if got := await(t, txn.Get(ctx, []byte("a"), storage.ReadOptions{})); string(got) != "1" {
		t.Fatalf("expected staged value, got %q", got)
	}
	if got := await(t, txn.Get(ctx, []byte("base"), storage.ReadOptions{})); got != nil {
		t.Fatalf("expected staged delete to hide key, got %q", got)
	}
	// But not outside it.
	if got := await(t, e.Get(ctx, []byte("a"), storage.ReadOptions{})); got != nil {
		t.Fatalf("expected no value before commit, got %q", got)
	}

	txn.Commit()
	if got := await(t, e.Get(ctx, []byte("a"), storage.ReadOptions{})); string(got) != "1" {
		t.Fatalf("expected committed value, got %q", got)
	}
	if got := await(t, e.Get(ctx, []byte("base"), storage.ReadOptions{})); got != nil {
		t.Fatalf("expected deleted key after commit, got %q", got)
	}

	txn2 := e.StartTransaction()
	txn2.Put(ctx, []byte("b"), []byte("2"), storage.WriteOptions{})
	if err := txn2.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	txn2.Commit()
	if got := await(t, e.Get(ctx, []byte("b"), storage.ReadOptions{})); got != nil {
		t.Fatalf("expected rolled back write to be discarded, got %q", got)
	}
}

func TestEngineDeleteAll(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()
	e.Put(ctx, []byte("a"), []byte("1"), storage.WriteOptions{})
	e.Put(ctx, []byte("b"), []byte("2"), storage.WriteOptions{})
	at := time.Now().Add(time.Hour)
	e.SetAlarm(ctx, &at, storage.WriteOptions{})

	result := e.DeleteAll(ctx, storage.WriteOptions{})
	if count := await(t, result.Count); count != 2 {
		t.Fatalf("expected 2 deleted, got %d", count)
	}
	if e.Len() != 0 {
		t.Fatalf("expected empty store, got %d keys", e.Len())
	}
	// deleteAll does not clear the alarm.
	if alarm := await(t, e.GetAlarm(ctx, storage.ReadOptions{})); alarm == nil {
		t.Fatal("expected alarm to survive deleteAll")
	}
}

func TestEngineShutdownBreaksOperations(t *testing.T) {
	e := New(Options{})
	ctx := context.Background()
	e.Shutdown(context.Canceled)

	res := e.Get(ctx, []byte("a"), storage.ReadOptions{})
	if _, err := res.Future().Await(ctx); err == nil {
		t.Fatal("expected read to fail after shutdown")
	}
	if fut := e.Put(ctx, []byte("a"), []byte("1"), storage.WriteOptions{}); fut == nil {
		t.Fatal("expected failed write future after shutdown")
	} else if _, err := fut.Await(ctx); err == nil {
		t.Fatal("expected write to fail after shutdown")
	}
}
