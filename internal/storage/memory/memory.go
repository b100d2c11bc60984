// Package memory provides an in-memory storage engine.
//
// It implements the full engine contract with deterministic behavior and
// two knobs used heavily by facade tests: AsyncReads answers reads as
// pending futures tagged uncached (simulating a cold cache), and
// ManualFlush holds write durability futures open until Flush is called
// (simulating a write-back cache with an output gate).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/actorstore/internal/storage"
)

// Options configure engine behavior.
type Options struct {
	// AsyncReads answers every read with a pending future and uncached
	// status instead of an immediate cached result.
	AsyncReads bool

	// ManualFlush keeps write futures pending until Flush is called.
	ManualFlush bool
}

type kv struct {
	key   string
	value []byte
}

// Engine is an in-memory storage engine.
type Engine struct {
	opts Options

	mu      sync.Mutex
	entries []kv
	alarm   *time.Time
	seq     uint64
	broken  error

	flushWaiters []*storage.Promise[struct{}]
}

// New creates an empty engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

func (e *Engine) find(key string) (int, bool) {
	i := sort.Search(len(e.entries), func(i int) bool { return e.entries[i].key >= key })
	return i, i < len(e.entries) && e.entries[i].key == key
}

func (e *Engine) status() storage.CacheStatus {
	if e.opts.AsyncReads {
		return storage.Uncached
	}
	return storage.Cached
}

func read[T any](e *Engine, fn func() (T, error)) storage.Result[T] {
	e.mu.Lock()
	broken := e.broken
	var value T
	var err error
	if broken != nil {
		err = broken
	} else {
		value, err = fn()
	}
	e.mu.Unlock()

	if !e.opts.AsyncReads {
		if err != nil {
			return storage.Pending(storage.Failed[T](err))
		}
		return storage.Immediate(value)
	}
	if err != nil {
		return storage.Pending(storage.Failed[T](err))
	}
	return storage.Pending(storage.Resolved(value))
}

func (e *Engine) writeFuture() *storage.Future[struct{}] {
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	if !e.opts.ManualFlush {
		return nil
	}
	p := storage.NewPromise[struct{}]()
	e.flushWaiters = append(e.flushWaiters, p)
	return p.Future()
}

// Flush resolves all pending write futures. No-op without ManualFlush.
func (e *Engine) Flush() {
	e.mu.Lock()
	waiters := e.flushWaiters
	e.flushWaiters = nil
	e.mu.Unlock()
	for _, p := range waiters {
		p.Resolve(struct{}{})
	}
}

// Len reports the number of stored keys.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Engine) Get(ctx context.Context, key []byte, opts storage.ReadOptions) storage.Result[[]byte] {
	return read(e, func() ([]byte, error) {
		if i, ok := e.find(string(key)); ok {
			return append([]byte(nil), e.entries[i].value...), nil
		}
		return nil, nil
	})
}

func (e *Engine) GetMultiple(ctx context.Context, keys [][]byte, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return read(e, func() ([]storage.Entry, error) {
		var out []storage.Entry
		for _, key := range keys {
			if i, ok := e.find(string(key)); ok {
				out = append(out, storage.Entry{
					Key:    append([]byte(nil), key...),
					Value:  append([]byte(nil), e.entries[i].value...),
					Status: e.status(),
				})
			}
		}
		sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
		return out, nil
	})
}

func (e *Engine) scan(start, end []byte, limit int, reverse bool) []storage.Entry {
	var out []storage.Entry
	lo, _ := e.find(string(start))
	hi := len(e.entries)
	if end != nil {
		hi, _ = e.find(string(end))
	}
	if reverse {
		for i := hi - 1; i >= lo; i-- {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, storage.Entry{
				Key:    []byte(e.entries[i].key),
				Value:  append([]byte(nil), e.entries[i].value...),
				Status: e.status(),
			})
		}
		return out
	}
	for i := lo; i < hi; i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, storage.Entry{
			Key:    []byte(e.entries[i].key),
			Value:  append([]byte(nil), e.entries[i].value...),
			Status: e.status(),
		})
	}
	return out
}

func (e *Engine) List(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return read(e, func() ([]storage.Entry, error) {
		return e.scan(start, end, limit, false), nil
	})
}

func (e *Engine) ListReverse(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return read(e, func() ([]storage.Entry, error) {
		return e.scan(start, end, limit, true), nil
	})
}

func (e *Engine) GetAlarm(ctx context.Context, opts storage.ReadOptions) storage.Result[*time.Time] {
	return read(e, func() (*time.Time, error) {
		if e.alarm == nil {
			return nil, nil
		}
		t := *e.alarm
		return &t, nil
	})
}

func (e *Engine) putLocked(key string, value []byte) {
	i, ok := e.find(key)
	if ok {
		e.entries[i].value = append([]byte(nil), value...)
		return
	}
	e.entries = append(e.entries, kv{})
	copy(e.entries[i+1:], e.entries[i:])
	e.entries[i] = kv{key: key, value: append([]byte(nil), value...)}
}

func (e *Engine) deleteLocked(key string) bool {
	i, ok := e.find(key)
	if !ok {
		return false
	}
	e.entries = append(e.entries[:i], e.entries[i+1:]...)
	return true
}

func (e *Engine) Put(ctx context.Context, key, value []byte, opts storage.WriteOptions) *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken == nil {
		e.putLocked(string(key), value)
		e.seq++
	}
	return e.writeFuture()
}

func (e *Engine) PutMultiple(ctx context.Context, entries []storage.KeyValue, opts storage.WriteOptions) *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken == nil {
		for _, entry := range entries {
			e.putLocked(string(entry.Key), entry.Value)
		}
		e.seq++
	}
	return e.writeFuture()
}

func (e *Engine) Delete(ctx context.Context, key []byte, opts storage.WriteOptions) storage.Result[bool] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Pending(storage.Failed[bool](e.broken))
	}
	existed := e.deleteLocked(string(key))
	e.seq++
	if e.opts.AsyncReads {
		return storage.Pending(storage.Resolved(existed))
	}
	return storage.Immediate(existed)
}

func (e *Engine) DeleteMultiple(ctx context.Context, keys [][]byte, opts storage.WriteOptions) storage.Result[int] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Pending(storage.Failed[int](e.broken))
	}
	count := 0
	for _, key := range keys {
		if e.deleteLocked(string(key)) {
			count++
		}
	}
	e.seq++
	if e.opts.AsyncReads {
		return storage.Pending(storage.Resolved(count))
	}
	return storage.Immediate(count)
}

func (e *Engine) SetAlarm(ctx context.Context, t *time.Time, opts storage.WriteOptions) *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken == nil {
		if t == nil {
			e.alarm = nil
		} else {
			at := *t
			e.alarm = &at
		}
		e.seq++
	}
	return e.writeFuture()
}

func (e *Engine) DeleteAll(ctx context.Context, opts storage.WriteOptions) storage.DeleteAllResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.DeleteAllResult{Count: storage.Pending(storage.Failed[int](e.broken))}
	}
	count := len(e.entries)
	e.entries = nil
	e.seq++
	return storage.DeleteAllResult{
		Count:        storage.Immediate(count),
		Backpressure: e.writeFuture(),
	}
}

func (e *Engine) OnNoPendingFlush() *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.flushWaiters) == 0 {
		return nil
	}
	p := storage.NewPromise[struct{}]()
	e.flushWaiters = append(e.flushWaiters, p)
	return p.Future()
}

// SQL reports that the engine is not SQL-backed.
func (e *Engine) SQL() storage.SQLHandle { return nil }

func (e *Engine) GetCurrentBookmark(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return "", e.broken
	}
	return fmt.Sprintf("bookmark-%016d", e.seq), nil
}

func (e *Engine) GetBookmarkForTime(ctx context.Context, t time.Time) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return "", e.broken
	}
	return fmt.Sprintf("bookmark-%016d", 0), nil
}

func (e *Engine) OnNextSessionRestoreBookmark(ctx context.Context, bookmark string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return "", e.broken
	}
	return bookmark, nil
}

func (e *Engine) WaitForBookmark(ctx context.Context, bookmark string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broken
}

func (e *Engine) EnsureReplicas(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broken
}

// Shutdown breaks the engine: all later operations fail with err.
func (e *Engine) Shutdown(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken == nil {
		e.broken = err
	}
}

var _ storage.Engine = (*Engine)(nil)
