// Package gate provides the per-actor serialization primitives.
//
// The input gate orders continuations: a critical section is reserved at
// issue time and granted strictly in reservation order, so a continuation
// that waits on its section runs after every earlier gated operation. An
// exclusive section (used by transactions) is just a section that is held
// across the whole callback, forcing later reservations to queue.
//
// The output gate delays externally observable completion until buffered
// writes are durable: callers register pending write futures and waiters
// block until every write registered before the wait has resolved.
package gate

import (
	"context"
	"sync"

	"github.com/louisbranch/actorstore/internal/storage"
)

// InputGate is a FIFO ordering gate.
type InputGate struct {
	mu      sync.Mutex
	current *CriticalSection
	waiters []*CriticalSection
}

// CriticalSection is a reserved slot in the gate's order.
type CriticalSection struct {
	gate      *InputGate
	ready     chan struct{}
	cancelled bool
	finished  bool
}

// Reserve claims the next slot in gate order. The returned section must be
// completed with Done (or abandoned via a failed Wait) exactly once.
func (g *InputGate) Reserve() *CriticalSection {
	cs := &CriticalSection{gate: g, ready: make(chan struct{})}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		g.current = cs
		close(cs.ready)
	} else {
		g.waiters = append(g.waiters, cs)
	}
	return cs
}

// Enter reserves a slot and waits for it. Shorthand for exclusive sections.
func (g *InputGate) Enter(ctx context.Context) (*CriticalSection, error) {
	cs := g.Reserve()
	if err := cs.Wait(ctx); err != nil {
		return nil, err
	}
	return cs, nil
}

// Wait blocks until every earlier section has completed. On context
// cancellation the reservation is abandoned and must not be used again.
func (cs *CriticalSection) Wait(ctx context.Context) error {
	select {
	case <-cs.ready:
		return nil
	case <-ctx.Done():
		cs.abandon()
		return ctx.Err()
	}
}

// Done releases the section, granting the next reservation.
func (cs *CriticalSection) Done() {
	g := cs.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	if cs.finished {
		return
	}
	cs.finished = true
	if g.current == cs {
		g.advance()
	} else {
		cs.cancelled = true
	}
}

func (cs *CriticalSection) abandon() {
	g := cs.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	if cs.finished {
		return
	}
	cs.finished = true
	if g.current == cs {
		// The grant raced with the cancellation; hand the slot on.
		g.advance()
	} else {
		cs.cancelled = true
	}
}

// advance grants the next live reservation. Callers hold g.mu.
func (g *InputGate) advance() {
	g.current = nil
	for len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		if next.cancelled {
			continue
		}
		g.current = next
		close(next.ready)
		return
	}
}

// OutputGate tracks writes whose durability is still pending.
type OutputGate struct {
	mu      sync.Mutex
	pending []*storage.Future[struct{}]
	broken  error
}

// Lock registers a pending write. A nil future is ignored.
func (g *OutputGate) Lock(fut *storage.Future[struct{}]) {
	if fut == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	// Drop already-resolved futures while we are here.
	kept := g.pending[:0]
	for _, f := range g.pending {
		if !f.Ready() {
			kept = append(kept, f)
		}
	}
	g.pending = append(kept, fut)
}

// Wait blocks until every write registered before the call is durable. A
// write failure breaks the gate permanently: all current and future waits
// report the failure.
func (g *OutputGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.broken != nil {
		g.mu.Unlock()
		return g.broken
	}
	snapshot := make([]*storage.Future[struct{}], len(g.pending))
	copy(snapshot, g.pending)
	g.mu.Unlock()

	for _, f := range snapshot {
		if _, err := f.Await(ctx); err != nil {
			if ctx.Err() == nil {
				g.Break(err)
			}
			return err
		}
	}
	return nil
}

// Break marks the gate permanently broken.
func (g *OutputGate) Break(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.broken == nil {
		g.broken = err
	}
}

// Err returns the breakage error, if any.
func (g *OutputGate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.broken
}
