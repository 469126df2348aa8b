package store

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

type subscription struct {
	path       string
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	metrics    *Metrics
	closed     atomic.Bool
	cancel     context.CancelFunc
}

func newSubscription(path string, onSnapshot SnapshotFunc, onError ErrorFunc, metrics *Metrics, cancel context.CancelFunc) *subscription {
	metrics.subscribed()
	return &subscription{
		path:       path,
		onSnapshot: onSnapshot,
		onError:    onError,
		metrics:    metrics,
		cancel:     cancel,
	}
}

func (s *subscription) deliver(snapshot Snapshot) {
	if s.closed.Load() || s.onSnapshot == nil {
		return
	}
	s.metrics.RecordDelivery()
	s.onSnapshot(snapshot)
}

func (s *subscription) fail(err error) {
	if s.closed.Load() || errors.Is(err, context.Canceled) {
		return
	}
	s.metrics.RecordError()
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *subscription) unsubscribe() {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
		s.metrics.unsubscribed()
	}
}

// run delivers an initial snapshot and then one per signal on changes until ctx is done.
// Signals arriving while a load is in progress collapse into a single reload. load is
// told whether it follows a change signal.
func (s *subscription) run(ctx context.Context, changes <-chan struct{}, load func(changed bool) (Snapshot, error)) {
	reload := func(changed bool) {
		snapshot, err := load(changed)
		if err != nil {
			s.fail(err)
			return
		}
		s.deliver(snapshot)
	}

	reload(false)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			reload(true)
		}
	}
}

// notify performs a non-blocking send on a buffered signal channel.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// sharedLoad coalesces concurrent reads of path. A load that follows a change signal
// drops any read already in flight, since that read may predate the change.
func sharedLoad(loads *singleflight.Group, path string, changed bool, get func() (Snapshot, error)) (Snapshot, error) {
	if changed {
		loads.Forget(path)
	}
	v, err, _ := loads.Do(path, func() (any, error) {
		return get()
	})
	if err != nil {
		return nil, err
	}
	snapshot, _ := v.(Snapshot)
	return snapshot, nil
}
