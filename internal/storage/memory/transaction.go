package memory

import (
	"context"
	"sort"
	"time"

	"github.com/louisbranch/actorstore/internal/storage"
)

// txn stages operations against the engine until commit. Reads observe the
// transaction's own staged writes overlaid on the engine state.
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
	return read(t.engine, func() ([]storage.Entry, error) {
		var out []storage.Entry
		for _, key := range keys {
			k := string(key)
			if v, staged := t.lookup(k); staged {
				if v != nil {
					out = append(out, storage.Entry{Key: []byte(k), Value: append([]byte(nil), v...), Status: storage.Cached})
				}
				continue
			}
			if i, ok := t.engine.find(k); ok {
				out = append(out, storage.Entry{
					Key:    []byte(k),
					Value:  append([]byte(nil), t.engine.entries[i].value...),
					Status: t.engine.status(),
				})
			}
		}
		sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
		return out, nil
	})
}

func (t *txn) merged() []kv {
	var out []kv
	for _, entry := range t.engine.entries {
		if _, staged := t.lookup(entry.key); staged {
			continue
		}
		out = append(out, entry)
	}
	for key, value := range t.puts {
		if t.deletes[key] {
			continue
		}
		out = append(out, kv{key: key, value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (t *txn) scan(start, end []byte, limit int, reverse bool) []storage.Entry {
	entries := t.merged()
	lo := sort.Search(len(entries), func(i int) bool { return entries[i].key >= string(start) })
	hi := len(entries)
	if end != nil {
		hi = sort.Search(len(entries), func(i int) bool { return entries[i].key >= string(end) })
	}
	var out []storage.Entry
	if reverse {
		for i := hi - 1; i >= lo; i-- {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, storage.Entry{Key: []byte(entries[i].key), Value: append([]byte(nil), entries[i].value...), Status: t.engine.status()})
		}
		return out
	}
	for i := lo; i < hi; i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, storage.Entry{Key: []byte(entries[i].key), Value: append([]byte(nil), entries[i].value...), Status: t.engine.status()})
	}
	return out
}

func (t *txn) List(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return read(t.engine, func() ([]storage.Entry, error) {
		return t.scan(start, end, limit, false), nil
	})
}

func (t *txn) ListReverse(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return read(t.engine, func() ([]storage.Entry, error) {
		return t.scan(start, end, limit, true), nil
	})
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
	existed := false
	if v, staged := t.lookup(k); staged {
		existed = v != nil
	} else {
		t.engine.mu.Lock()
		_, existed = t.engine.find(k)
		t.engine.mu.Unlock()
	}
	delete(t.puts, k)
	t.deletes[k] = true
	return storage.Immediate(existed)
}

func (t *txn) DeleteMultiple(ctx context.Context, keys [][]byte, opts storage.WriteOptions) storage.Result[int] {
	count := 0
	for _, key := range keys {
		if existed, _ := t.Delete(ctx, key, opts).Now(); existed {
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
		v := *at
		t.alarm = &v
	}
	return nil
}

func (t *txn) Commit() *storage.Future[struct{}] {
	e := t.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	for key := range t.deletes {
		e.deleteLocked(key)
	}
	for key, value := range t.puts {
		if t.deletes[key] {
			continue
		}
		e.putLocked(key, value)
	}
	if t.alarmSet {
		e.alarm = t.alarm
	}
	e.seq++
	return e.writeFuture()
}

func (t *txn) Rollback() error {
	t.puts = map[string][]byte{}
	t.deletes = map[string]bool{}
	t.alarm = nil
	t.alarmSet = false
	return nil
}
