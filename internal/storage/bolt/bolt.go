// Package bolt provides a bbolt-backed storage engine with a write-back
// cache: writes land in an in-memory dirty buffer and a background flusher
// commits them in batches. Reads served from the dirty buffer are cached;
// reads that reach the database are uncached.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/actorstore/internal/storage"
)

const (
	dataBucket = "data"
	metaBucket = "meta"

	alarmKey = "alarm"
)

const defaultFlushInterval = 100 * time.Millisecond

// Options configure engine behavior.
type Options struct {
	// FlushInterval is the write-back flush cadence. Defaults to 100ms.
	FlushInterval time.Duration
}

// dirtyEntry is a buffered write. A nil value is a buffered delete.
type dirtyEntry struct {
	value []byte
}

// Engine is a bbolt-backed storage engine.
type Engine struct {
	db   *bbolt.DB
	opts Options

	mu         sync.Mutex
	dirty      map[string]dirtyEntry
	alarm      *time.Time
	alarmDirty bool
	waiters    []*storage.Promise[struct{}]
	seq        uint64
	broken     error

	kick  chan struct{}
	done  chan struct{}
	tasks errgroup.Group
}

// Open opens a bbolt-backed engine at the provided path and starts its
// flush loop.
func Open(path string, opts Options) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	e := &Engine{
		db:    db,
		opts:  opts,
		dirty: map[string]dirtyEntry{},
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	if err := e.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.loadAlarm(); err != nil {
		_ = db.Close()
		return nil, err
	}
	e.tasks.Go(e.flushLoop)
	return e, nil
}

// Close flushes buffered writes, stops the flush loop, and closes the
// database.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.broken == nil {
		close(e.done)
		e.broken = fmt.Errorf("engine is closed")
	}
	e.mu.Unlock()

	flushErr := e.flush()
	_ = e.tasks.Wait()
	if err := e.db.Close(); err != nil {
		return err
	}
	return flushErr
}

func (e *Engine) ensureBuckets() error {
	return e.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(dataBucket)); err != nil {
			return fmt.Errorf("create data bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
}

func (e *Engine) loadAlarm() error {
	return e.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket([]byte(metaBucket)).Get([]byte(alarmKey))
		if len(payload) == 8 {
			at := time.Unix(0, int64(binary.BigEndian.Uint64(payload))).UTC()
			e.alarm = &at
		}
		return nil
	})
}

func (e *Engine) flushLoop() error {
	ticker := time.NewTicker(e.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return nil
		case <-ticker.C:
		case <-e.kick:
		}
		if err := e.flush(); err != nil {
			return nil
		}
	}
}

// flush commits the current dirty buffer in one bbolt transaction and
// resolves the futures of every write buffered before it started. A commit
// failure breaks the engine: buffered writes may be lost, so no later write
// may be accepted.
func (e *Engine) flush() error {
	e.mu.Lock()
	dirty := e.dirty
	alarm, alarmDirty := e.alarm, e.alarmDirty
	waiters := e.waiters
	e.dirty = map[string]dirtyEntry{}
	e.alarmDirty = false
	e.waiters = nil
	e.mu.Unlock()

	if len(dirty) == 0 && !alarmDirty {
		for _, p := range waiters {
			p.Resolve(struct{}{})
		}
		return nil
	}

	err := e.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dataBucket))
		for key, entry := range dirty {
			if entry.value == nil {
				if err := bucket.Delete([]byte(key)); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put([]byte(key), entry.value); err != nil {
				return err
			}
		}
		if alarmDirty {
			meta := tx.Bucket([]byte(metaBucket))
			if alarm == nil {
				return meta.Delete([]byte(alarmKey))
			}
			payload := make([]byte, 8)
			binary.BigEndian.PutUint64(payload, uint64(alarm.UnixNano()))
			return meta.Put([]byte(alarmKey), payload)
		}
		return nil
	})
	if err != nil {
		e.mu.Lock()
		if e.broken == nil {
			e.broken = fmt.Errorf("flush buffered writes: %w", err)
		}
		broken := e.broken
		e.mu.Unlock()
		for _, p := range waiters {
			p.Reject(broken)
		}
		return broken
	}

	e.mu.Lock()
	e.seq++
	e.mu.Unlock()
	for _, p := range waiters {
		p.Resolve(struct{}{})
	}
	return nil
}

// writeFuture registers a promise resolved by the next successful flush.
// Callers hold e.mu.
func (e *Engine) writeFuture() *storage.Future[struct{}] {
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	p := storage.NewPromise[struct{}]()
	e.waiters = append(e.waiters, p)
	return p.Future()
}

// kickFlush nudges the flush loop ahead of its next tick. Callers hold
// e.mu.
func (e *Engine) kickFlush() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// lookupDirty reports the buffered state of a key: (value, buffered). A nil
// value with buffered=true is a buffered delete.
func (e *Engine) lookupDirty(key string) ([]byte, bool) {
	entry, ok := e.dirty[key]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

func (e *Engine) readDB(key string) ([]byte, error) {
	var value []byte
	err := e.db.View(func(tx *bbolt.Tx) error {
		if payload := tx.Bucket([]byte(dataBucket)).Get([]byte(key)); payload != nil {
			value = append([]byte(nil), payload...)
		}
		return nil
	})
	return value, err
}

func (e *Engine) Get(ctx context.Context, key []byte, opts storage.ReadOptions) storage.Result[[]byte] {
	e.mu.Lock()
	if e.broken != nil {
		defer e.mu.Unlock()
		return storage.Pending(storage.Failed[[]byte](e.broken))
	}
	if value, buffered := e.lookupDirty(string(key)); buffered {
		e.mu.Unlock()
		return storage.Immediate(append([]byte(nil), value...))
	}
	e.mu.Unlock()

	value, err := e.readDB(string(key))
	if err != nil {
		return storage.Pending(storage.Failed[[]byte](err))
	}
	return storage.Pending(storage.Resolved(value))
}

func (e *Engine) GetMultiple(ctx context.Context, keys [][]byte, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	var out []storage.Entry
	uncached := false
	for _, key := range keys {
		res := e.Get(ctx, key, opts)
		value, ok := res.Now()
		status := storage.Cached
		if !ok {
			var err error
			if value, err = res.Future().Await(ctx); err != nil {
				return storage.Pending(storage.Failed[[]storage.Entry](err))
			}
			status = storage.Uncached
			uncached = true
		}
		if value == nil {
			continue
		}
		out = append(out, storage.Entry{Key: append([]byte(nil), key...), Value: value, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	if uncached {
		return storage.Pending(storage.Resolved(out))
	}
	return storage.Immediate(out)
}

// merged returns the live view of [start, end): the persisted keys overlaid
// with the dirty buffer.
func (e *Engine) merged(start, end []byte) ([]storage.Entry, error) {
	e.mu.Lock()
	dirty := make(map[string]dirtyEntry, len(e.dirty))
	for key, entry := range e.dirty {
		dirty[key] = entry
	}
	e.mu.Unlock()

	inRange := func(key string) bool {
		if key < string(start) {
			return false
		}
		return end == nil || key < string(end)
	}

	var out []storage.Entry
	err := e.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(dataBucket)).Cursor()
		for k, v := cursor.Seek(start); k != nil; k, v = cursor.Next() {
			if !inRange(string(k)) {
				break
			}
			if _, buffered := dirty[string(k)]; buffered {
				continue
			}
			out = append(out, storage.Entry{
				Key:    append([]byte(nil), k...),
				Value:  append([]byte(nil), v...),
				Status: storage.Uncached,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for key, entry := range dirty {
		if entry.value == nil || !inRange(key) {
			continue
		}
		out = append(out, storage.Entry{
			Key:    []byte(key),
			Value:  append([]byte(nil), entry.value...),
			Status: storage.Cached,
		})
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out, nil
}

func (e *Engine) list(start, end []byte, limit int, reverse bool) storage.Result[[]storage.Entry] {
	e.mu.Lock()
	if e.broken != nil {
		defer e.mu.Unlock()
		return storage.Pending(storage.Failed[[]storage.Entry](e.broken))
	}
	e.mu.Unlock()

	entries, err := e.merged(start, end)
	if err != nil {
		return storage.Pending(storage.Failed[[]storage.Entry](err))
	}
	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return storage.Pending(storage.Resolved(entries))
}

func (e *Engine) List(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return e.list(start, end, limit, false)
}

func (e *Engine) ListReverse(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return e.list(start, end, limit, true)
}

func (e *Engine) GetAlarm(ctx context.Context, opts storage.ReadOptions) storage.Result[*time.Time] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Pending(storage.Failed[*time.Time](e.broken))
	}
	if e.alarm == nil {
		return storage.Immediate[*time.Time](nil)
	}
	at := *e.alarm
	return storage.Immediate(&at)
}

func (e *Engine) Put(ctx context.Context, key, value []byte, opts storage.WriteOptions) *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	e.dirty[string(key)] = dirtyEntry{value: append([]byte(nil), value...)}
	return e.writeFuture()
}

func (e *Engine) PutMultiple(ctx context.Context, entries []storage.KeyValue, opts storage.WriteOptions) *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	for _, entry := range entries {
		e.dirty[string(entry.Key)] = dirtyEntry{value: append([]byte(nil), entry.Value...)}
	}
	return e.writeFuture()
}

func (e *Engine) exists(key string) (bool, error) {
	e.mu.Lock()
	if value, buffered := e.lookupDirty(key); buffered {
		e.mu.Unlock()
		return value != nil, nil
	}
	e.mu.Unlock()
	value, err := e.readDB(key)
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

func (e *Engine) Delete(ctx context.Context, key []byte, opts storage.WriteOptions) storage.Result[bool] {
	e.mu.Lock()
	if e.broken != nil {
		defer e.mu.Unlock()
		return storage.Pending(storage.Failed[bool](e.broken))
	}
	e.mu.Unlock()

	existed, err := e.exists(string(key))
	if err != nil {
		return storage.Pending(storage.Failed[bool](err))
	}
	e.mu.Lock()
	e.dirty[string(key)] = dirtyEntry{}
	e.mu.Unlock()
	return storage.Pending(storage.Resolved(existed))
}

func (e *Engine) DeleteMultiple(ctx context.Context, keys [][]byte, opts storage.WriteOptions) storage.Result[int] {
	e.mu.Lock()
	if e.broken != nil {
		defer e.mu.Unlock()
		return storage.Pending(storage.Failed[int](e.broken))
	}
	e.mu.Unlock()

	count := 0
	for _, key := range keys {
		existed, err := e.exists(string(key))
		if err != nil {
			return storage.Pending(storage.Failed[int](err))
		}
		if existed {
			count++
		}
		e.mu.Lock()
		e.dirty[string(key)] = dirtyEntry{}
		e.mu.Unlock()
	}
	return storage.Pending(storage.Resolved(count))
}

func (e *Engine) SetAlarm(ctx context.Context, t *time.Time, opts storage.WriteOptions) *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	if t == nil {
		e.alarm = nil
	} else {
		at := t.UTC()
		e.alarm = &at
	}
	e.alarmDirty = true
	return e.writeFuture()
}

func (e *Engine) DeleteAll(ctx context.Context, opts storage.WriteOptions) storage.DeleteAllResult {
	e.mu.Lock()
	if e.broken != nil {
		defer e.mu.Unlock()
		return storage.DeleteAllResult{Count: storage.Pending(storage.Failed[int](e.broken))}
	}
	e.mu.Unlock()

	entries, err := e.merged(nil, nil)
	if err != nil {
		return storage.DeleteAllResult{Count: storage.Pending(storage.Failed[int](err))}
	}

	e.mu.Lock()
	for _, entry := range entries {
		e.dirty[string(entry.Key)] = dirtyEntry{}
	}
	backpressure := e.writeFuture()
	e.mu.Unlock()
	return storage.DeleteAllResult{
		Count:        storage.Pending(storage.Resolved(len(entries))),
		Backpressure: backpressure,
	}
}

func (e *Engine) OnNoPendingFlush() *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.dirty) == 0 && !e.alarmDirty && len(e.waiters) == 0 {
		return nil
	}
	fut := e.writeFuture()
	e.kickFlush()
	return fut
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

// Shutdown breaks the engine without flushing: buffered writes are
// abandoned and all later operations fail with err.
func (e *Engine) Shutdown(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return
	}
	e.broken = err
	close(e.done)
	for _, p := range e.waiters {
		p.Reject(err)
	}
	e.waiters = nil
	e.dirty = map[string]dirtyEntry{}
	e.alarmDirty = false
}

var _ storage.Engine = (*Engine)(nil)
