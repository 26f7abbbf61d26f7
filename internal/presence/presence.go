// Package presence maintains a runner's live location and availability flag
// in the store. A runner's presence record is written only by that runner's
// own manager; clients read it, they never write it.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/serani/backend/internal/location"
	"github.com/serani/backend/internal/models"
)

// ErrPresenceWrite wraps store failures. Non-fatal: the caller surfaces a
// "failed to share location, try again" message and keeps going. No
// automatic retry.
var ErrPresenceWrite = errors.New("failed to share location")

// Store is the merge-upsert surface the manager needs. UpdatePresence must
// only touch the presence columns, never the runner's profile fields.
type Store interface {
	UpdatePresence(ctx context.Context, id uuid.UUID, loc models.LatLng, available bool, at time.Time) error
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
}

// Manager tracks one runner's availability and last known position.
type Manager struct {
	runnerID uuid.UUID
	store    Store
	logger   *slog.Logger

	mu        sync.Mutex
	available bool
	lastKnown *models.LatLng
}

func NewManager(runnerID uuid.UUID, store Store, logger *slog.Logger) *Manager {
	return &Manager{runnerID: runnerID, store: store, logger: logger}
}

// UpdatePresence persists a new position along with the current availability
// flag and a fresh beacon timestamp.
func (m *Manager) UpdatePresence(ctx context.Context, coords models.LatLng, at time.Time) error {
	m.mu.Lock()
	m.lastKnown = &coords
	available := m.available
	m.mu.Unlock()

	if err := m.store.UpdatePresence(ctx, m.runnerID, coords, available, at); err != nil {
		m.logger.Warn("presence write failed", "runner_id", m.runnerID, "error", err)
		return fmt.Errorf("%w: %v", ErrPresenceWrite, err)
	}
	return nil
}

// SetAvailability flips the local flag and pushes it immediately; it does not
// wait for the next location tick.
func (m *Manager) SetAvailability(ctx context.Context, available bool) error {
	m.mu.Lock()
	m.available = available
	m.mu.Unlock()

	if err := m.store.SetAvailability(ctx, m.runnerID, available); err != nil {
		m.logger.Warn("availability write failed", "runner_id", m.runnerID, "error", err)
		return fmt.Errorf("%w: %v", ErrPresenceWrite, err)
	}
	return nil
}

// Available reports the current local flag.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// LastKnown returns the most recent position pushed through this manager, or
// nil before the first fix.
func (m *Manager) LastKnown() *models.LatLng {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastKnown == nil {
		return nil
	}
	cp := *m.lastKnown
	return &cp
}

// Track wires the manager to a geolocation stream: every emitted fix becomes
// a presence write. Write failures are logged and do not stop the stream.
// The returned subscription must be stopped when the runner's view goes away.
func (m *Manager) Track(ctx context.Context, adapter *location.Adapter, onError func(error)) (*location.Subscription, error) {
	return adapter.Start(ctx,
		func(fix location.Fix) {
			if err := m.UpdatePresence(ctx, fix.Coords, fix.Timestamp); err != nil {
				onError(err)
			}
		},
		onError,
	)
}
