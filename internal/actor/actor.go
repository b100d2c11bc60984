// Package actor implements the per-actor storage facade.
//
// A Storage instance normalizes get/put/delete/list/alarm operations over a
// cache/storage engine, enforces transactional atomicity, and computes
// usage-billing units. One Storage is constructed per actor instance and
// lives for its duration.
package actor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/actorstore/internal/billing"
	"github.com/louisbranch/actorstore/internal/gate"
	"github.com/louisbranch/actorstore/internal/metrics"
	"github.com/louisbranch/actorstore/internal/storage"
)

// Config configures a Storage instance.
type Config struct {
	// Engine is the underlying cache/storage engine. Required.
	Engine storage.Engine

	// Sink receives billing units. Defaults to a no-op sink.
	Sink metrics.Sink

	// HasAlarmHandler declares that the actor can handle alarms. SetAlarm
	// fails without it.
	HasAlarmHandler bool

	// Clock overrides the wall clock, for tests.
	Clock func() time.Time
}

// Storage is the caller-visible storage facade for one actor instance.
type Storage struct {
	ops

	engine storage.Engine
	meter  *billing.Meter
	clock  func() time.Time

	hasAlarmHandler bool

	inputGate  gate.InputGate
	outputGate gate.OutputGate

	ctx    context.Context
	cancel context.CancelFunc
	tasks  errgroup.Group

	// Savepoint depth for nested synchronous transactions. Per instance,
	// never global: actor instances must not share savepoint names.
	txnSyncDepth int
}

// New creates the storage facade for an actor instance.
func New(cfg Config) *Storage {
	sink := cfg.Sink
	if sink == nil {
		sink = metrics.Noop{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		engine: cfg.Engine,
		meter:  billing.NewMeter(sink),
		clock:  clock,

		hasAlarmHandler: cfg.HasAlarmHandler,

		ctx:    ctx,
		cancel: cancel,
	}
	s.ops = ops{
		s:     s,
		cache: func(op opName) (storage.Ops, error) { return s.engine, nil },
		bill:  s.deferBilling,
	}
	return s
}

// deferBilling runs a write/delete billing report as a background accounting
// task once the durability gate resolves. Billing is never attributed to a
// write that could still be dropped: a broken gate drops the report. Reads
// never come through here.
func (s *Storage) deferBilling(report func(m *billing.Meter)) {
	s.tasks.Go(func() error {
		if err := s.outputGate.Wait(s.ctx); err != nil {
			return nil
		}
		report(s.meter)
		return nil
	})
}

// Drain waits for all background accounting tasks issued so far. Intended
// for tests and orderly teardown.
func (s *Storage) Drain() error {
	return s.tasks.Wait()
}

// Shutdown synchronously breaks the facade and its engine. In-flight
// transactions cannot silently commit afterwards, and no further write is
// billed.
func (s *Storage) Shutdown(err error) {
	s.outputGate.Break(err)
	s.engine.Shutdown(err)
	s.cancel()
}
