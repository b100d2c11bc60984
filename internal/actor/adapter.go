package actor

import (
	"context"
	stderrors "errors"

	"github.com/louisbranch/actorstore/internal/errors"
	"github.com/louisbranch/actorstore/internal/gate"
	"github.com/louisbranch/actorstore/internal/storage"
)

func (o GetOptions) read() storage.ReadOptions {
	return storage.ReadOptions{AllowConcurrency: o.AllowConcurrency, NoCache: o.NoCache}
}

func (o ListOptions) read() storage.ReadOptions {
	return storage.ReadOptions{AllowConcurrency: o.AllowConcurrency, NoCache: o.NoCache}
}

func (o GetAlarmOptions) read() storage.ReadOptions {
	return storage.ReadOptions{AllowConcurrency: o.AllowConcurrency}
}

func (o PutOptions) write() storage.WriteOptions {
	return storage.WriteOptions{
		AllowConcurrency: o.AllowConcurrency,
		AllowUnconfirmed: o.AllowUnconfirmed,
		NoCache:          o.NoCache,
	}
}

func (o SetAlarmOptions) write() storage.WriteOptions {
	return storage.WriteOptions{
		AllowConcurrency: o.AllowConcurrency,
		AllowUnconfirmed: o.AllowUnconfirmed,
	}
}

// adaptWithStatus normalizes an immediate-or-pending engine result into a
// future. An immediate result runs the continuation synchronously with
// cached=true. A pending result runs it with cached=false once the engine
// answers; without allowConcurrency the continuation is placed behind the
// actor's ordering gate, reserved at issue time so it runs strictly after
// all earlier gated operations.
func adaptWithStatus[T, R any](s *Storage, res storage.Result[T], allowConcurrency bool, fn func(value T, cached bool) (R, error)) *storage.Future[R] {
	if v, ok := res.Now(); ok {
		r, err := fn(v, true)
		if err != nil {
			return storage.Failed[R](err)
		}
		return storage.Resolved(r)
	}

	var cs *gate.CriticalSection
	if !allowConcurrency {
		cs = s.inputGate.Reserve()
	}
	p := storage.NewPromise[R]()
	go func() {
		v, err := res.Future().Await(s.ctx)
		if cs != nil {
			if gerr := cs.Wait(s.ctx); gerr != nil {
				p.Reject(gerr)
				return
			}
			defer cs.Done()
		}
		if err != nil {
			p.Reject(engineFailure(err))
			return
		}
		r, err := fn(v, false)
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(r)
	}()
	return p.Future()
}

// adapt is the variant without the cache-status parameter, for call sites
// that don't need it.
func adapt[T, R any](s *Storage, res storage.Result[T], allowConcurrency bool, fn func(value T) (R, error)) *storage.Future[R] {
	return adaptWithStatus(s, res, allowConcurrency, func(v T, _ bool) (R, error) {
		return fn(v)
	})
}

// adaptBackpressure turns an optional engine backpressure future into a
// facade future. Awaiting it is optional for callers; it only throttles.
func adaptBackpressure(s *Storage, fut *storage.Future[struct{}], allowConcurrency bool) *storage.Future[struct{}] {
	if fut == nil {
		return storage.Resolved(struct{}{})
	}
	return adapt(s, storage.Pending(fut), allowConcurrency, func(v struct{}) (struct{}, error) {
		return v, nil
	})
}

// engineFailure marks a pass-through engine failure, preserving errors that
// already carry a code or are context cancellations.
func engineFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.CodeOf(err) != errors.CodeUnknown {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Wrap(errors.CodeEngine, err, "storage engine failure")
}
