package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"kblocks/internal/api"
	"kblocks/internal/retry"
)

// fakeDispatcher records dispatched events. The first failures calls fail.
type fakeDispatcher struct {
	mu       sync.Mutex
	events   []api.ChangeEvent
	failures int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev api.ChangeEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return -1, &api.PartitionRouteError{Partition: 0, Err: errors.New("queue unavailable")}
	}
	f.events = append(f.events, ev)
	return 0, nil
}

func (f *fakeDispatcher) Events() []api.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.ChangeEvent(nil), f.events...)
}

// fastPolicy retries like the delivery policy without waiting.
func fastPolicy() retry.Policy {
	p := retry.DeliveryPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}
