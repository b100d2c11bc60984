package bolt

import (
	"context"
	"sort"
	"time"

	"github.com/louisbranch/actorstore/internal/storage"
)

// txn stages operations until commit. Reads observe the transaction's own
// staged writes overlaid on the engine's live view.
type txn struct {
	engine *Engine

	puts     map[string][]byte
	deletes  map[string]bool
	alarm    *time.Time
	alarmSet bool
}

func (e *Engine) StartTransaction() storage.TransactionHandle {
	return &txn{
		engine:  e,
		puts:    map[string][]byte{},
		deletes: map[string]bool{},
	}
}

func (t *txn) lookup(key string) ([]byte, bool) {
	if t.deletes[key] {
		return nil, true
	}
	if v, ok := t.puts[key]; ok {
		return v, true
	}
	return nil, false
}

func (t *txn) Get(ctx context.Context, key []byte, opts storage.ReadOptions) storage.Result[[]byte] {
	if v, staged := t.lookup(string(key)); staged {
		if v == nil {
			return storage.Immediate[[]byte](nil)
		}
		return storage.Immediate(append([]byte(nil), v...))
	}
	return t.engine.Get(ctx, key, opts)
}

func (t *txn) GetMultiple(ctx context.Context, keys [][]byte, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	var out []storage.Entry
	var passthrough [][]byte
	for _, key := range keys {
		if v, staged := t.lookup(string(key)); staged {
			if v != nil {
				out = append(out, storage.Entry{Key: append([]byte(nil), key...), Value: append([]byte(nil), v...), Status: storage.Cached})
			}
			continue
		}
		passthrough = append(passthrough, key)
	}
	if len(passthrough) > 0 {
		res := t.engine.GetMultiple(ctx, passthrough, opts)
		entries, err := res.Future().Await(ctx)
		if err != nil {
			return storage.Pending(storage.Failed[[]storage.Entry](err))
		}
		out = append(out, entries...)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return storage.Pending(storage.Resolved(out))
}

func (t *txn) scan(ctx context.Context, start, end []byte, limit int, reverse bool) storage.Result[[]storage.Entry] {
	res := t.engine.list(start, end, 0, false)
	entries, err := res.Future().Await(ctx)
	if err != nil {
		return storage.Pending(storage.Failed[[]storage.Entry](err))
	}

	inRange := func(key string) bool {
		if key < string(start) {
			return false
		}
		return end == nil || key < string(end)
	}
	merged := entries[:0]
	for _, entry := range entries {
		if _, staged := t.lookup(string(entry.Key)); staged {
			continue
		}
		merged = append(merged, entry)
	}
	for key, value := range t.puts {
		if t.deletes[key] || !inRange(key) {
			continue
		}
		merged = append(merged, storage.Entry{Key: []byte(key), Value: append([]byte(nil), value...), Status: storage.Cached})
	}
	sort.Slice(merged, func(i, j int) bool { return string(merged[i].Key) < string(merged[j].Key) })
	if reverse {
		for i, j := 0, len(merged)-1; i < j; i, j = i+1, j-1 {
			merged[i], merged[j] = merged[j], merged[i]
		}
	}
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return storage.Pending(storage.Resolved(merged))
}

func (t *txn) List(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return t.scan(ctx, start, end, limit, false)
}

func (t *txn) ListReverse(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return t.scan(ctx, start, end, limit, true)
}

func (t *txn) GetAlarm(ctx context.Context, opts storage.ReadOptions) storage.Result[*time.Time] {
	if t.alarmSet {
		if t.alarm == nil {
			return storage.Immediate[*time.Time](nil)
		}
		at := *t.alarm
		return storage.Immediate(&at)
	}
	return t.engine.GetAlarm(ctx, opts)
}

func (t *txn) Put(ctx context.Context, key, value []byte, opts storage.WriteOptions) *storage.Future[struct{}] {
	k := string(key)
	t.puts[k] = append([]byte(nil), value...)
	delete(t.deletes, k)
	return nil
}

func (t *txn) PutMultiple(ctx context.Context, entries []storage.KeyValue, opts storage.WriteOptions) *storage.Future[struct{}] {
	for _, entry := range entries {
		t.Put(ctx, entry.Key, entry.Value, opts)
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, key []byte, opts storage.WriteOptions) storage.Result[bool] {
	k := string(key)
	var existed bool
	if v, staged := t.lookup(k); staged {
		existed = v != nil
	} else {
		var err error
		existed, err = t.engine.exists(k)
		if err != nil {
			return storage.Pending(storage.Failed[bool](err))
		}
	}
	delete(t.puts, k)
	t.deletes[k] = true
	return storage.Immediate(existed)
}

func (t *txn) DeleteMultiple(ctx context.Context, keys [][]byte, opts storage.WriteOptions) storage.Result[int] {
	count := 0
	for _, key := range keys {
		res := t.Delete(ctx, key, opts)
		existed, ok := res.Now()
		if !ok {
			var err error
			existed, err = res.Future().Await(ctx)
			if err != nil {
				return storage.Pending(storage.Failed[int](err))
			}
		}
		if existed {
			count++
		}
	}
	return storage.Immediate(count)
}

func (t *txn) SetAlarm(ctx context.Context, at *time.Time, opts storage.WriteOptions) *storage.Future[struct{}] {
	t.alarmSet = true
	if at == nil {
		t.alarm = nil
	} else {
		v := at.UTC()
		t.alarm = &v
	}
	return nil
}

// Commit applies the staged operations to the engine's dirty buffer in one
// step, so a flush can never observe a partial transaction.
func (t *txn) Commit() *storage.Future[struct{}] {
	e := t.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	for key := range t.deletes {
		e.dirty[key] = dirtyEntry{}
	}
	for key, value := range t.puts {
		if t.deletes[key] {
			continue
		}
		e.dirty[key] = dirtyEntry{value: append([]byte(nil), value...)}
	}
	if t.alarmSet {
		e.alarm = t.alarm
		e.alarmDirty = true
	}
	return e.writeFuture()
}

func (t *txn) Rollback() error {
	t.puts = map[string][]byte{}
	t.deletes = map[string]bool{}
	t.alarm = nil
	t.alarmSet = false
	return nil
}
