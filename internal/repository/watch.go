package repository

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/serani/backend/internal/models"
)

// The watch layer gives callers subscribe-by-query semantics over the store:
// a callback fired with a fresh result set whenever the query result changes,
// and a cancellation token whose Cancel guarantees no further callbacks.
// Implemented by polling; the interval trades latency for load.

const DefaultWatchInterval = 2 * time.Second

// WatchHandle is the cancellation token owned by the subscriber. After
// Cancel returns, no new callback starts; one already executing may finish.
type WatchHandle struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// Cancel is safe to call from inside onChange or onError; it takes no lock
// the callbacks run under.
func (h *WatchHandle) Cancel() {
	h.stopped.Store(true)
	h.cancel()
}

func (h *WatchHandle) deliver(fn func()) {
	if h.stopped.Load() {
		return
	}
	fn()
}

// AvailableRunnerLister is the query behind the client-side subscription.
type AvailableRunnerLister interface {
	ListAvailable(ctx context.Context) ([]*models.Runner, error)
}

// PendingTaskLister is the query behind the runner-side subscription.
type PendingTaskLister interface {
	ListPending(ctx context.Context) ([]*models.Task, error)
}

// WatchAvailableRunners polls the available-runner query and calls onChange
// whenever the result set differs from the previous poll. Query errors go to
// onError; the watcher keeps polling, so a transient failure never tears the
// subscription down.
func WatchAvailableRunners(ctx context.Context, lister AvailableRunnerLister, interval time.Duration, onChange func([]*models.Runner), onError func(error)) *WatchHandle {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	wctx, cancel := context.WithCancel(ctx)
	h := &WatchHandle{cancel: cancel}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var last string
		poll := func() {
			runners, err := lister.ListAvailable(wctx)
			if err != nil {
				if wctx.Err() == nil {
					h.deliver(func() { onError(err) })
				}
				return
			}
			fp := runnerFingerprint(runners)
			if fp == last {
				return
			}
			last = fp
			h.deliver(func() { onChange(runners) })
		}
		poll()
		for {
			select {
			case <-wctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()
	return h
}

// WatchPendingTasks is the runner-side counterpart of WatchAvailableRunners.
func WatchPendingTasks(ctx context.Context, lister PendingTaskLister, interval time.Duration, onChange func([]*models.Task), onError func(error)) *WatchHandle {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	wctx, cancel := context.WithCancel(ctx)
	h := &WatchHandle{cancel: cancel}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var last string
		poll := func() {
			tasks, err := lister.ListPending(wctx)
			if err != nil {
				if wctx.Err() == nil {
					h.deliver(func() { onError(err) })
				}
				return
			}
			fp := taskFingerprint(tasks)
			if fp == last {
				return
			}
			last = fp
			h.deliver(func() { onChange(tasks) })
		}
		poll()
		for {
			select {
			case <-wctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()
	return h
}

func runnerFingerprint(runners []*models.Runner) string {
	var b strings.Builder
	for _, r := range runners {
		fmt.Fprintf(&b, "%s@%d;", r.ID, r.LastUpdated.UnixNano())
	}
	return b.String()
}

func taskFingerprint(tasks []*models.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s@%d;", t.ID, t.UpdatedAt.UnixNano())
	}
	return b.String()
}
