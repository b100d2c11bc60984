package actor

import (
	"context"
	"sync"

	"github.com/louisbranch/actorstore/internal/billing"
	"github.com/louisbranch/actorstore/internal/errors"
	"github.com/louisbranch/actorstore/internal/storage"
)

type txnState int

const (
	txnActive txnState = iota
	txnCommitted
	txnRolledBack
)

// Transaction is a batch of operations staged against the engine. It exposes
// the same operation set as Storage; operations issued after commit or
// rollback fail with a transaction-closed error.
type Transaction struct {
	ops

	mu      sync.Mutex
	handle  storage.TransactionHandle
	state   txnState
	reports []func(m *billing.Meter)
}

// Transaction runs fn inside an engine transaction under the actor's
// exclusivity gate: no other transaction or gated operation runs while the
// callback does. The engine transaction begins only after the gate is held,
// so it cannot capture unrelated concurrent activity.
//
// A callback error rolls the transaction back before the gate is released
// and is returned unmodified. On success the commit is awaited behind the
// ordering gate, after exclusivity is released; accumulated billing is
// emitted only once the commit is durable.
func (s *Storage) Transaction(ctx context.Context, fn func(ctx context.Context, txn *Transaction) error) error {
	cs, err := s.inputGate.Enter(ctx)
	if err != nil {
		return err
	}
	released := false
	release := func() {
		if !released {
			released = true
			cs.Done()
		}
	}
	defer release()

	txn := &Transaction{handle: s.engine.StartTransaction()}
	txn.ops = ops{s: s, cache: txn.target, bill: txn.accumulate}

	defer func() {
		if r := recover(); r != nil {
			txn.Rollback()
			release()
			panic(r)
		}
	}()

	if err := fn(ctx, txn); err != nil {
		// The callback's error is the caller's error; a rollback failure on
		// top of it would only obscure the cause.
		txn.Rollback()
		return err
	}

	txn.mu.Lock()
	if txn.state != txnActive {
		// The callback rolled back explicitly and still returned success.
		txn.mu.Unlock()
		return nil
	}
	txn.state = txnCommitted
	reports := txn.reports
	txn.reports = nil
	txn.mu.Unlock()

	commit := txn.handle.Commit()
	if commit != nil {
		s.outputGate.Lock(commit)
	}

	// Reserve the next gate slot while still exclusive, then release and
	// await the commit behind it: the transaction's effects land in issue
	// order relative to later gated operations.
	next := s.inputGate.Reserve()
	release()
	if commit != nil {
		if _, aerr := commit.Await(ctx); aerr != nil {
			next.Done()
			return engineFailure(aerr)
		}
	}
	if werr := next.Wait(ctx); werr != nil {
		return werr
	}
	next.Done()

	for _, report := range reports {
		s.deferBilling(report)
	}
	return nil
}

// Rollback discards the transaction's staged operations and its accumulated
// billing. Rolling back twice is a no-op; rolling back after commit fails.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case txnRolledBack:
		return nil
	case txnCommitted:
		return errors.New(errors.CodeTransactionClosed,
			"cannot call %s on a transaction that has already committed", opRollback)
	}
	t.state = txnRolledBack
	t.reports = nil
	return t.handle.Rollback()
}

// DeleteAll cannot run inside a transaction: the engine-level wipe is not
// stageable.
func (t *Transaction) DeleteAll(ctx context.Context, opts PutOptions) (*storage.Future[int], error) {
	return nil, errors.New(errors.CodePreconditionFailed,
		"%s is not supported within a transaction", opDeleteAll)
}

func (t *Transaction) target(op opName) (storage.Ops, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case txnCommitted:
		return nil, errors.New(errors.CodeTransactionClosed,
			"cannot call %s on a transaction that has already committed", op)
	case txnRolledBack:
		return nil, errors.New(errors.CodeTransactionClosed,
			"cannot call %s on a transaction that has already been rolled back", op)
	}
	return t.handle, nil
}

func (t *Transaction) accumulate(report func(m *billing.Meter)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txnActive {
		return
	}
	t.reports = append(t.reports, report)
}
