package sqlite

import (
	"context"
	"fmt"

	"github.com/louisbranch/actorstore/internal/storage"
)

// txn is an engine transaction mapped onto a SQL transaction on the
// engine's session. Operations run through the engine directly; inside
// BEGIN they observe and produce uncommitted state on the shared
// connection.
type txn struct {
	*Engine
}

// StartTransaction begins a SQL transaction on the engine's session. The
// caller must already hold any exclusivity it needs: everything executed on
// the session until commit or rollback becomes part of the transaction.
func (e *Engine) StartTransaction() storage.TransactionHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken == nil {
		if _, err := e.exec(context.Background(), "BEGIN IMMEDIATE"); err != nil {
			e.broken = fmt.Errorf("begin transaction: %w", err)
		}
	}
	return &txn{Engine: e}
}

func (t *txn) Commit() *storage.Future[struct{}] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken != nil {
		return storage.Failed[struct{}](t.broken)
	}
	if _, err := t.exec(context.Background(), "COMMIT"); err != nil {
		return storage.Failed[struct{}](fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (t *txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken != nil {
		return t.broken
	}
	if _, err := t.exec(context.Background(), "ROLLBACK"); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// sqlHandle exposes the engine's SQL session for savepoint management.
type sqlHandle struct {
	engine *Engine
}

// SQL returns the engine's SQL session.
func (e *Engine) SQL() storage.SQLHandle {
	return sqlHandle{engine: e}
}

// Run executes one statement on the session. Statements are only accepted
// from this module; caller-authored SQL is rejected.
func (h sqlHandle) Run(level storage.TrustLevel, statement string) error {
	if level != storage.Trusted {
		return fmt.Errorf("untrusted statements are not accepted")
	}
	e := h.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken != nil {
		return e.broken
	}
	if _, err := e.exec(context.Background(), statement); err != nil {
		return err
	}
	return nil
}

// NotifyWrite records write intent. SQLite opens an implicit transaction
// for a bare SAVEPOINT, so no statement is needed here.
func (h sqlHandle) NotifyWrite() {
	h.engine.mu.Lock()
	h.engine.seq++
	h.engine.mu.Unlock()
}
