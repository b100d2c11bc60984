package actor

import (
	"context"
	"time"

	"github.com/louisbranch/actorstore/internal/billing"
	"github.com/louisbranch/actorstore/internal/storage"
)

// DeleteAll removes every key. The alarm, if any, survives. The deleted
// count is billed with a floor of one, so wiping an empty actor is not free.
func (s *Storage) DeleteAll(ctx context.Context, opts PutOptions) (*storage.Future[int], error) {
	result := s.engine.DeleteAll(ctx, opts.write())
	s.confirm(result.Backpressure, opts)
	return adapt(s, result.Count, opts.AllowConcurrency, func(count int) (int, error) {
		s.bill(func(m *billing.Meter) { m.RecordDelete(count) })
		return count, nil
	}), nil
}

// Sync returns a future resolving once every write issued strictly before
// this call has flushed. It observes flushing; it does not trigger one.
func (s *Storage) Sync(ctx context.Context) *storage.Future[struct{}] {
	return adaptBackpressure(s, s.engine.OnNoPendingFlush(), true)
}

// Consistency bookmark passthroughs. The bookmark format is owned by the
// engine; the facade treats bookmarks as opaque tokens.

func (s *Storage) GetCurrentBookmark(ctx context.Context) (string, error) {
	return s.engine.GetCurrentBookmark(ctx)
}

func (s *Storage) GetBookmarkForTime(ctx context.Context, t time.Time) (string, error) {
	return s.engine.GetBookmarkForTime(ctx, t)
}

func (s *Storage) OnNextSessionRestoreBookmark(ctx context.Context, bookmark string) (string, error) {
	return s.engine.OnNextSessionRestoreBookmark(ctx, bookmark)
}

func (s *Storage) WaitForBookmark(ctx context.Context, bookmark string) error {
	return s.engine.WaitForBookmark(ctx, bookmark)
}

// EnsureReplicas asks the engine to provision read replicas.
func (s *Storage) EnsureReplicas(ctx context.Context) error {
	return s.engine.EnsureReplicas(ctx)
}
