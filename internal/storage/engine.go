package storage

import (
	"context"
	"time"
)

// CacheStatus reports whether an entry was served from cache.
type CacheStatus int

const (
	// Cached means the entry was answered without consulting the backend.
	Cached CacheStatus = iota
	// Uncached means the backend had to be consulted.
	Uncached
)

// Entry is a key/value pair returned by a read, tagged with cache status.
type Entry struct {
	Key    []byte
	Value  []byte
	Status CacheStatus
}

// KeyValue is a key/value pair submitted by a write.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// ReadOptions control read-like operations.
type ReadOptions struct {
	// AllowConcurrency lets other actor turns run while this read is
	// suspended. When false the continuation is serialized behind the
	// actor's ordering gate.
	AllowConcurrency bool
	// NoCache asks the engine not to retain the result in cache.
	NoCache bool
}

// WriteOptions control write-like operations.
type WriteOptions struct {
	AllowConcurrency bool
	NoCache          bool
	// AllowUnconfirmed lets the write complete without waiting for
	// durability confirmation.
	AllowUnconfirmed bool
}

// Ops is the operation set shared by an engine and its transactions.
//
// Read results are immediate when answered from cache and pending
// otherwise. Write methods return an optional backpressure future; a nil
// future means the write was absorbed without backpressure. Failures are
// always delivered through futures, never panics.
type Ops interface {
	Get(ctx context.Context, key []byte, opts ReadOptions) Result[[]byte]
	GetMultiple(ctx context.Context, keys [][]byte, opts ReadOptions) Result[[]Entry]

	// List returns entries in [start, end) ascending; ListReverse returns
	// them descending. A nil end means no upper bound. limit <= 0 means no
	// limit. Returned entries are ordered and within range; the facade
	// relies on both.
	List(ctx context.Context, start, end []byte, limit int, opts ReadOptions) Result[[]Entry]
	ListReverse(ctx context.Context, start, end []byte, limit int, opts ReadOptions) Result[[]Entry]

	GetAlarm(ctx context.Context, opts ReadOptions) Result[*time.Time]

	Put(ctx context.Context, key, value []byte, opts WriteOptions) *Future[struct{}]
	PutMultiple(ctx context.Context, entries []KeyValue, opts WriteOptions) *Future[struct{}]

	// Delete reports whether the key existed. DeleteMultiple reports how
	// many of the keys existed.
	Delete(ctx context.Context, key []byte, opts WriteOptions) Result[bool]
	DeleteMultiple(ctx context.Context, keys [][]byte, opts WriteOptions) Result[int]

	// SetAlarm schedules, reschedules, or (with a nil time) clears the
	// actor's alarm.
	SetAlarm(ctx context.Context, t *time.Time, opts WriteOptions) *Future[struct{}]
}

// DeleteAllResult carries the two halves of a deleteAll: the eventual count
// of deleted keys and an optional backpressure future.
type DeleteAllResult struct {
	Count        Result[int]
	Backpressure *Future[struct{}]
}

// TransactionHandle is an engine-level transaction. All Ops issued through
// the handle are staged until Commit.
type TransactionHandle interface {
	Ops

	// Commit atomically applies the staged operations. The returned future
	// resolves once the commit is durable; nil means there was nothing to
	// flush.
	Commit() *Future[struct{}]

	// Rollback discards the staged operations.
	Rollback() error
}

// TrustLevel describes the provenance of a SQL statement.
type TrustLevel int

const (
	// Trusted statements originate from this module, never from callers.
	Trusted TrustLevel = iota
	// Untrusted statements originate from caller input.
	Untrusted
)

// SQLHandle exposes the raw SQL session of a SQL-backed engine. Used for
// savepoint management by synchronous transactions.
type SQLHandle interface {
	Run(level TrustLevel, statement string) error

	// NotifyWrite records write intent so an outer transaction context
	// exists before a savepoint is created.
	NotifyWrite()
}

// Engine is the full cache/storage engine contract consumed by the facade.
type Engine interface {
	Ops

	// StartTransaction begins a transaction. For SQL-backed engines this is
	// the point where the underlying transaction begins, so callers must
	// already hold any exclusivity they need.
	StartTransaction() TransactionHandle

	DeleteAll(ctx context.Context, opts WriteOptions) DeleteAllResult

	// OnNoPendingFlush returns a future resolving once all previously
	// issued writes have flushed, or nil when nothing is pending.
	OnNoPendingFlush() *Future[struct{}]

	// SQL returns the engine's SQL session, or nil when the engine is not
	// SQL-backed.
	SQL() SQLHandle

	// Consistency bookmark primitives.
	GetCurrentBookmark(ctx context.Context) (string, error)
	GetBookmarkForTime(ctx context.Context, t time.Time) (string, error)
	OnNextSessionRestoreBookmark(ctx context.Context, bookmark string) (string, error)
	WaitForBookmark(ctx context.Context, bookmark string) error

	// EnsureReplicas asks the backend to provision read replicas.
	EnsureReplicas(ctx context.Context) error

	// Shutdown synchronously breaks the engine: in-flight futures reject
	// and no further writes are accepted.
	Shutdown(err error)
}
