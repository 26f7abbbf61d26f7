// Package matching holds the per-role view controllers that keep a filtered
// candidate set current as position fixes and store updates arrive.
package matching

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/serani/backend/internal/geo"
	"github.com/serani/backend/internal/location"
	"github.com/serani/backend/internal/models"
	"github.com/serani/backend/internal/repository"
)

// PositionStream is the slice of location.Adapter the controllers need.
type PositionStream interface {
	Start(ctx context.Context, onUpdate func(location.Fix), onError func(error)) (*location.Subscription, error)
}

// ClientController tracks a client's position and the set of available
// runners, recomputing the eligible subset whenever either input changes.
// Position fixes and store pushes arrive on independent streams in any
// relative order; each one simply triggers a recompute.
type ClientController struct {
	Positions PositionStream
	Runners   repository.AvailableRunnerLister
	MaxKm     float64
	Interval  time.Duration
	Preferred []string
	Logger    *slog.Logger

	// OnView receives the recomputed eligible set after every change.
	OnView func([]*models.Runner)
	// OnError receives terminal location errors and transient
	// subscription errors. Transient errors never clear the view.
	OnError func(error)

	mu         sync.Mutex
	origin     *models.LatLng
	candidates []*models.Runner
	view       []*models.Runner

	sub   *location.Subscription
	watch *repository.WatchHandle
}

// Start begins the position stream and the runner watch. A permission or
// acquisition failure is returned directly and is terminal for the session.
func (c *ClientController) Start(ctx context.Context) error {
	sub, err := c.Positions.Start(ctx, c.onFix, c.fail)
	if err != nil {
		return err
	}
	c.sub = sub
	c.watch = repository.WatchAvailableRunners(ctx, c.Runners, c.interval(), c.onRunners, c.onWatchError)
	return nil
}

// Stop tears down both subscriptions. No new callbacks start after it
// returns.
func (c *ClientController) Stop() {
	if c.sub != nil {
		c.sub.Stop()
	}
	if c.watch != nil {
		c.watch.Cancel()
	}
}

// View returns the current eligible runner set.
func (c *ClientController) View() []*models.Runner {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Runner, len(c.view))
	copy(out, c.view)
	return out
}

// Origin returns the last known client position, nil before the first fix.
func (c *ClientController) Origin() *models.LatLng {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.origin == nil {
		return nil
	}
	cp := *c.origin
	return &cp
}

func (c *ClientController) onFix(fix location.Fix) {
	c.mu.Lock()
	coords := fix.Coords
	c.origin = &coords
	c.mu.Unlock()
	c.recompute()
}

func (c *ClientController) onRunners(runners []*models.Runner) {
	c.mu.Lock()
	c.candidates = runners
	c.mu.Unlock()
	c.recompute()
}

// onWatchError keeps the last good candidate set. A transient store error
// must not blank the view.
func (c *ClientController) onWatchError(err error) {
	c.logger().Warn("runner subscription error, retaining stale view", "error", err)
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c *ClientController) fail(err error) {
	c.logger().Error("position stream failed", "error", err)
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c *ClientController) recompute() {
	c.mu.Lock()
	var next []*models.Runner
	if c.origin != nil {
		next = geo.EligibleRunners(c.origin, c.candidates, c.maxKm(), c.Preferred)
	}
	c.view = next
	out := make([]*models.Runner, len(next))
	copy(out, next)
	c.mu.Unlock()
	if c.OnView != nil {
		c.OnView(out)
	}
}

func (c *ClientController) maxKm() float64 {
	if c.MaxKm > 0 {
		return c.MaxKm
	}
	return geo.DefaultMaxDistanceKm
}

func (c *ClientController) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return repository.DefaultWatchInterval
}

func (c *ClientController) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// RunnerController is the runner-side mirror: it tracks the runner's own
// position and the pool of pending tasks, filtered by radius and by the
// runner's declared skills.
type RunnerController struct {
	Positions PositionStream
	Tasks     repository.PendingTaskLister
	MaxKm     float64
	Interval  time.Duration
	Skills    []string
	Logger    *slog.Logger

	OnView  func([]*models.Task)
	OnError func(error)

	mu         sync.Mutex
	origin     *models.LatLng
	candidates []*models.Task
	view       []*models.Task

	sub   *location.Subscription
	watch *repository.WatchHandle
}

func (r *RunnerController) Start(ctx context.Context) error {
	sub, err := r.Positions.Start(ctx, r.onFix, r.fail)
	if err != nil {
		return err
	}
	r.sub = sub
	r.watch = repository.WatchPendingTasks(ctx, r.Tasks, r.interval(), r.onTasks, r.onWatchError)
	return nil
}

func (r *RunnerController) Stop() {
	if r.sub != nil {
		r.sub.Stop()
	}
	if r.watch != nil {
		r.watch.Cancel()
	}
}

func (r *RunnerController) View() []*models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Task, len(r.view))
	copy(out, r.view)
	return out
}

func (r *RunnerController) Origin() *models.LatLng {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.origin == nil {
		return nil
	}
	cp := *r.origin
	return &cp
}

func (r *RunnerController) onFix(fix location.Fix) {
	r.mu.Lock()
	coords := fix.Coords
	r.origin = &coords
	r.mu.Unlock()
	r.recompute()
}

func (r *RunnerController) onTasks(tasks []*models.Task) {
	r.mu.Lock()
	r.candidates = tasks
	r.mu.Unlock()
	r.recompute()
}

func (r *RunnerController) onWatchError(err error) {
	r.logger().Warn("task subscription error, retaining stale view", "error", err)
	if r.OnError != nil {
		r.OnError(err)
	}
}

func (r *RunnerController) fail(err error) {
	r.logger().Error("position stream failed", "error", err)
	if r.OnError != nil {
		r.OnError(err)
	}
}

func (r *RunnerController) recompute() {
	r.mu.Lock()
	var next []*models.Task
	if r.origin != nil {
		next = geo.EligibleTasks(r.origin, r.candidates, r.maxKm(), r.Skills)
	}
	r.view = next
	out := make([]*models.Task, len(next))
	copy(out, next)
	r.mu.Unlock()
	if r.OnView != nil {
		r.OnView(out)
	}
}

func (r *RunnerController) maxKm() float64 {
	if r.MaxKm > 0 {
		return r.MaxKm
	}
	return geo.DefaultMaxDistanceKm
}

func (r *RunnerController) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return repository.DefaultWatchInterval
}

func (r *RunnerController) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
