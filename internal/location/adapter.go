// Package location wraps device position acquisition behind a cancellable
// subscription: one initial fix immediately, then continuous fixes throttled
// by a minimum interval or a minimum displacement, whichever triggers first.
package location

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/serani/backend/internal/geo"
	"github.com/serani/backend/internal/models"
)

// ErrPermissionDenied means the user refused foreground location permission.
// Terminal for the session: callers surface it once and do not retry.
var ErrPermissionDenied = errors.New("location permission denied")

// ErrLocationUnavailable means the position stream could not be established.
var ErrLocationUnavailable = errors.New("location unavailable")

// Fix is one position sample.
type Fix struct {
	Coords    models.LatLng
	Timestamp time.Time
}

// Source abstracts the device (or simulated) position provider.
// Watch must deliver the current position as its first element.
type Source interface {
	RequestPermission(ctx context.Context) error
	Watch(ctx context.Context) (<-chan Fix, error)
}

const (
	defaultMinInterval     = 5 * time.Second
	defaultMinDisplacement = 10.0 // meters
)

// Adapter throttles a Source's raw stream down to the update cadence the
// matching and presence layers want.
type Adapter struct {
	src             Source
	minInterval     time.Duration
	minDisplacement float64
	logger          *slog.Logger
}

func NewAdapter(src Source, logger *slog.Logger) *Adapter {
	return &Adapter{
		src:             src,
		minInterval:     defaultMinInterval,
		minDisplacement: defaultMinDisplacement,
		logger:          logger,
	}
}

// Subscription is the handle returned by Start. After Stop returns, no new
// callback starts; a callback already executing may finish.
type Subscription struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// Stop tears the stream down. Safe to call more than once, and safe to call
// from inside onUpdate or onError; it takes no lock the callbacks run under.
func (s *Subscription) Stop() {
	s.stopped.Store(true)
	s.cancel()
}

// deliver runs fn unless the subscription has been stopped.
func (s *Subscription) deliver(fn func()) {
	if s.stopped.Load() {
		return
	}
	fn()
}

// Start requests permission and begins delivering fixes. The first fix is
// delivered as soon as the source produces it; subsequent fixes only when at
// least minInterval has elapsed OR the position moved at least
// minDisplacement meters since the last delivered fix.
func (a *Adapter) Start(ctx context.Context, onUpdate func(Fix), onError func(error)) (*Subscription, error) {
	if err := a.src.RequestPermission(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		return nil, errors.Join(ErrLocationUnavailable, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	fixes, err := a.src.Watch(streamCtx)
	if err != nil {
		cancel()
		return nil, errors.Join(ErrLocationUnavailable, err)
	}

	sub := &Subscription{cancel: cancel}
	go a.pump(streamCtx, fixes, sub, onUpdate, onError)
	return sub, nil
}

func (a *Adapter) pump(ctx context.Context, fixes <-chan Fix, sub *Subscription, onUpdate func(Fix), onError func(error)) {
	var last *Fix
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				a.logger.Warn("position stream closed by source")
				sub.deliver(func() { onError(ErrLocationUnavailable) })
				return
			}
			if last != nil && !a.shouldEmit(*last, fix) {
				continue
			}
			emitted := fix
			last = &emitted
			sub.deliver(func() { onUpdate(emitted) })
		}
	}
}

func (a *Adapter) shouldEmit(last, next Fix) bool {
	if next.Timestamp.Sub(last.Timestamp) >= a.minInterval {
		return true
	}
	movedM := geo.HaversineKm(&last.Coords, &next.Coords) * 1000
	return movedM >= a.minDisplacement
}
