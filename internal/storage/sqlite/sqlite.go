// Package sqlite provides a SQLite-backed storage engine. It is the only
// engine exposing a SQL handle, which enables synchronous savepoint
// transactions on top of it.
//
// The engine runs every statement on a single dedicated connection so
// engine transactions and savepoints share one SQL session. It keeps no
// cache layer: reads are always uncached.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/actorstore/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/actorstore/internal/storage"
	"github.com/louisbranch/actorstore/internal/storage/sqlite/migrations"
)

const alarmMeta = "alarm"

// Engine is a SQLite-backed storage engine.
type Engine struct {
	db   *sql.DB
	conn *sql.Conn

	mu     sync.Mutex
	seq    uint64
	broken error
}

// Open opens a SQLite engine at the provided path and applies embedded
// migrations.
func Open(path string) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("acquire sqlite session: %w", err)
	}
	return &Engine{db: sqlDB, conn: conn}, nil
}

// Close releases the SQL session and closes the database.
func (e *Engine) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	if e.conn != nil {
		_ = e.conn.Close()
	}
	return e.db.Close()
}

func (e *Engine) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return e.conn.ExecContext(ctx, query, args...)
}

func failedRead[T any](err error) storage.Result[T] {
	return storage.Pending(storage.Failed[T](err))
}

func (e *Engine) Get(ctx context.Context, key []byte, opts storage.ReadOptions) storage.Result[[]byte] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return failedRead[[]byte](e.broken)
	}
	var value []byte
	err := e.conn.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return storage.Pending(storage.Resolved[[]byte](nil))
	}
	if err != nil {
		return failedRead[[]byte](err)
	}
	return storage.Pending(storage.Resolved(value))
}

func (e *Engine) GetMultiple(ctx context.Context, keys [][]byte, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return failedRead[[]storage.Entry](e.broken)
	}
	var out []storage.Entry
	for _, key := range keys {
		var value []byte
		err := e.conn.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return failedRead[[]storage.Entry](err)
		}
		out = append(out, storage.Entry{Key: append([]byte(nil), key...), Value: value, Status: storage.Uncached})
	}
	return storage.Pending(storage.Resolved(out))
}

func (e *Engine) list(ctx context.Context, start, end []byte, limit int, reverse bool) storage.Result[[]storage.Entry] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return failedRead[[]storage.Entry](e.broken)
	}

	query := "SELECT key, value FROM kv WHERE key >= ?"
	args := []any{append([]byte{}, start...)}
	if end != nil {
		query += " AND key < ?"
		args = append(args, end)
	}
	query += " ORDER BY key"
	if reverse {
		query += " DESC"
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := e.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return failedRead[[]storage.Entry](err)
	}
	defer rows.Close()

	var out []storage.Entry
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return failedRead[[]storage.Entry](err)
		}
		out = append(out, storage.Entry{Key: key, Value: value, Status: storage.Uncached})
	}
	if err := rows.Err(); err != nil {
		return failedRead[[]storage.Entry](err)
	}
	return storage.Pending(storage.Resolved(out))
}

func (e *Engine) List(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return e.list(ctx, start, end, limit, false)
}

func (e *Engine) ListReverse(ctx context.Context, start, end []byte, limit int, opts storage.ReadOptions) storage.Result[[]storage.Entry] {
	return e.list(ctx, start, end, limit, true)
}

func (e *Engine) GetAlarm(ctx context.Context, opts storage.ReadOptions) storage.Result[*time.Time] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return failedRead[*time.Time](e.broken)
	}
	var millis int64
	err := e.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = ?", alarmMeta).Scan(&millis)
	if err == sql.ErrNoRows {
		return storage.Pending(storage.Resolved[*time.Time](nil))
	}
	if err != nil {
		return failedRead[*time.Time](err)
	}
	at := time.UnixMilli(millis).UTC()
	return storage.Pending(storage.Resolved(&at))
}

func (e *Engine) Put(ctx context.Context, key, value []byte, opts storage.WriteOptions) *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	if _, err := e.exec(ctx, "INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)", key, value); err != nil {
		return storage.Failed[struct{}](err)
	}
	e.seq++
	return nil
}

func (e *Engine) PutMultiple(ctx context.Context, entries []storage.KeyValue, opts storage.WriteOptions) *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	for _, entry := range entries {
		if _, err := e.exec(ctx, "INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)", entry.Key, entry.Value); err != nil {
			return storage.Failed[struct{}](err)
		}
	}
	e.seq++
	return nil
}

func (e *Engine) Delete(ctx context.Context, key []byte, opts storage.WriteOptions) storage.Result[bool] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return failedRead[bool](e.broken)
	}
	result, err := e.exec(ctx, "DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return failedRead[bool](err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return failedRead[bool](err)
	}
	e.seq++
	return storage.Pending(storage.Resolved(affected > 0))
}

func (e *Engine) DeleteMultiple(ctx context.Context, keys [][]byte, opts storage.WriteOptions) storage.Result[int] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return failedRead[int](e.broken)
	}
	count := 0
	for _, key := range keys {
		result, err := e.exec(ctx, "DELETE FROM kv WHERE key = ?", key)
		if err != nil {
			return failedRead[int](err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return failedRead[int](err)
		}
		count += int(affected)
	}
	e.seq++
	return storage.Pending(storage.Resolved(count))
}

func (e *Engine) SetAlarm(ctx context.Context, t *time.Time, opts storage.WriteOptions) *storage.Future[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.Failed[struct{}](e.broken)
	}
	var err error
	if t == nil {
		_, err = e.exec(ctx, "DELETE FROM meta WHERE name = ?", alarmMeta)
	} else {
		_, err = e.exec(ctx, "INSERT OR REPLACE INTO meta (name, value) VALUES (?, ?)", alarmMeta, t.UTC().UnixMilli())
	}
	if err != nil {
		return storage.Failed[struct{}](err)
	}
	e.seq++
	return nil
}

func (e *Engine) DeleteAll(ctx context.Context, opts storage.WriteOptions) storage.DeleteAllResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return storage.DeleteAllResult{Count: failedRead[int](e.broken)}
	}
	result, err := e.exec(ctx, "DELETE FROM kv")
	if err != nil {
		return storage.DeleteAllResult{Count: failedRead[int](err)}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.DeleteAllResult{Count: failedRead[int](err)}
	}
	e.seq++
	return storage.DeleteAllResult{Count: storage.Pending(storage.Resolved(int(affected)))}
}

// OnNoPendingFlush always reports a clean state: every write commits before
// its call returns.
func (e *Engine) OnNoPendingFlush() *storage.Future[struct{}] { return nil }

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
