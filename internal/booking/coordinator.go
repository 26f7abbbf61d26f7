// Package booking implements the commit path of the marketplace: given a
// selected runner, re-validate availability and distance at the moment of
// booking, then establish (or reuse) the task record and its chat channel.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/serani/backend/internal/geo"
	"github.com/serani/backend/internal/models"
)

var (
	// ErrRunnerNotFound: the re-fetched presence record does not exist.
	ErrRunnerNotFound = errors.New("runner not found")
	// ErrRunnerUnavailable: the runner went unavailable since the marker was rendered.
	ErrRunnerUnavailable = errors.New("runner is no longer available")
	// ErrOutOfServiceArea: the runner moved outside the service radius.
	ErrOutOfServiceArea = errors.New("runner is outside the service area")
	// ErrBookingFailed: a store failure; retryable, the whole operation is
	// safe to re-run.
	ErrBookingFailed = errors.New("booking failed")
	// ErrBookingTimeout: the operation exceeded its deadline. Distinct from
	// ErrBookingFailed so callers can message it separately.
	ErrBookingTimeout = errors.New("booking timed out")
	// ErrBookingInProgress guards against double-submission: a second call
	// while one is in flight is rejected instead of racing it.
	ErrBookingInProgress = errors.New("a booking is already in progress")
)

const defaultTimeout = 10 * time.Second

// RunnerDirectory provides the fresh point lookup used at commit time.
// Subscription-derived cache is never consulted here.
type RunnerDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Runner, error)
}

// TaskStore is the task query/create surface.
type TaskStore interface {
	FindPendingPair(ctx context.Context, runnerID, clientID uuid.UUID) (*models.Task, error)
	Create(ctx context.Context, t *models.Task) error
}

// ChatStore creates the chat channel keyed by task id, at most once.
type ChatStore interface {
	CreateIfAbsent(ctx context.Context, c *models.Chat) (bool, error)
}

// Confirmation carries the data shown to the user before they commit. All of
// it comes from the re-fetched record, never from cached subscription state.
type Confirmation struct {
	Runner         *models.Runner `json:"runner"`
	RunnerName     string         `json:"runner_name"`
	Rating         float64        `json:"rating"`
	CompletedTasks int            `json:"completed_tasks"`
	DistanceKm     float64        `json:"distance_km"`
}

// Booking is the result of a completed InitiateBooking. ChatID always equals
// TaskID: one chat channel per task.
type Booking struct {
	TaskID   uuid.UUID `json:"task_id"`
	ChatID   uuid.UUID `json:"chat_id"`
	RunnerID uuid.UUID `json:"runner_id"`
	ClientID uuid.UUID `json:"client_id"`
	Reused   bool      `json:"reused"`
}

// Coordinator owns the booking state machines, one per client. The
// in-flight guard and the selection are keyed by client id: a client's
// rapid repeated taps are rejected while their booking runs, while bookings
// from different clients proceed concurrently.
type Coordinator struct {
	Runners RunnerDirectory
	Tasks   TaskStore
	Chats   ChatStore
	MaxKm   float64
	Timeout time.Duration
	Logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]bool
	selected map[uuid.UUID]uuid.UUID
}

func NewCoordinator(runners RunnerDirectory, tasks TaskStore, chats ChatStore, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Runners:  runners,
		Tasks:    tasks,
		Chats:    chats,
		MaxKm:    geo.DefaultMaxDistanceKm,
		Timeout:  defaultTimeout,
		Logger:   logger,
		inFlight: make(map[uuid.UUID]bool),
		selected: make(map[uuid.UUID]uuid.UUID),
	}
}

// Select records the client's tapped candidate. Failed bookings clear it.
func (c *Coordinator) Select(clientID, runnerID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected[clientID] = runnerID
}

// Selection returns the client's currently selected runner, or nil.
func (c *Coordinator) Selection(clientID uuid.UUID) *uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.selected[clientID]
	if !ok {
		return nil
	}
	return &id
}

func (c *Coordinator) clearSelection(clientID uuid.UUID) {
	c.mu.Lock()
	delete(c.selected, clientID)
	c.mu.Unlock()
}

// begin flips the client's in-flight flag; the second of two rapid taps
// fails fast. Other clients' flags are untouched.
func (c *Coordinator) begin(clientID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[clientID] {
		return ErrBookingInProgress
	}
	c.inFlight[clientID] = true
	return nil
}

func (c *Coordinator) end(clientID uuid.UUID) {
	c.mu.Lock()
	delete(c.inFlight, clientID)
	c.mu.Unlock()
}

// BookRunner re-validates the selected runner at commit time. The ordering
// is deliberate: existence, then availability, then distance, each against
// the freshly fetched record, closing the gap between marker render and tap.
// On success it returns the confirmation data for the final user prompt.
func (c *Coordinator) BookRunner(ctx context.Context, runnerID, clientID uuid.UUID, clientLoc models.LatLng) (*Confirmation, error) {
	if err := c.begin(clientID); err != nil {
		return nil, err
	}
	defer c.end(clientID)

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	c.Select(clientID, runnerID)

	runner, err := c.Runners.GetByID(ctx, runnerID)
	if err != nil {
		c.clearSelection(clientID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunnerNotFound
		}
		return nil, c.storeFailure(ctx, clientID, "re-fetch runner", err)
	}

	if !runner.IsAvailable {
		c.clearSelection(clientID)
		return nil, ErrRunnerUnavailable
	}

	dist := geo.HaversineKm(&clientLoc, runner.Coords())
	if dist > c.MaxKm {
		c.clearSelection(clientID)
		return nil, ErrOutOfServiceArea
	}

	return &Confirmation{
		Runner:         runner,
		RunnerName:     runner.Name,
		Rating:         runner.Rating,
		CompletedTasks: runner.CompletedTasks,
		DistanceKm:     dist,
	}, nil
}

// InitiateBooking establishes the task and chat pair after the user
// confirms. Idempotent: an existing pending task for (runner, client) is
// reused, and the chat is created only if absent, so a retry after a partial
// failure completes the remainder without duplicating anything.
func (c *Coordinator) InitiateBooking(ctx context.Context, runnerID, clientID uuid.UUID, clientLoc models.LatLng, spec models.TaskSpec) (*Booking, error) {
	if err := c.begin(clientID); err != nil {
		return nil, err
	}
	defer c.end(clientID)

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	task, err := c.Tasks.FindPendingPair(ctx, runnerID, clientID)
	if err != nil {
		return nil, c.storeFailure(ctx, clientID, "find pending task", err)
	}

	reused := task != nil
	if task == nil {
		task = &models.Task{
			ID:          uuid.New(),
			ClientID:    clientID,
			RunnerID:    &runnerID,
			Status:      models.TaskStatusPending,
			Category:    spec.Category,
			ServiceName: spec.ServiceName,
			Description: spec.Description,
			Price:       spec.Price,
			Location: models.TaskLocation{
				Address:     spec.Address,
				Coordinates: &models.LatLng{Latitude: clientLoc.Latitude, Longitude: clientLoc.Longitude},
			},
			CreatedAt: time.Now(),
		}
		if err := c.Tasks.Create(ctx, task); err != nil {
			// A concurrent booking for the same pair can win the insert via
			// the partial unique index; fall back to reusing its task.
			if isUniqueViolation(err) {
				existing, ferr := c.Tasks.FindPendingPair(ctx, runnerID, clientID)
				if ferr != nil || existing == nil {
					return nil, c.storeFailure(ctx, clientID, "re-find pending task", err)
				}
				task = existing
				reused = true
			} else {
				return nil, c.storeFailure(ctx, clientID, "create task", err)
			}
		}
	}

	created, err := c.Chats.CreateIfAbsent(ctx, &models.Chat{
		TaskID:   task.ID,
		RunnerID: runnerID,
		ClientID: clientID,
	})
	if err != nil {
		// The task exists; a retry of the whole operation will find it in
		// step 1 and only re-attempt the chat.
		return nil, c.storeFailure(ctx, clientID, "create chat", err)
	}
	if created {
		c.Logger.Info("chat created", "task_id", task.ID, "runner_id", runnerID, "client_id", clientID)
	}

	c.clearSelection(clientID)
	return &Booking{
		TaskID:   task.ID,
		ChatID:   task.ID,
		RunnerID: runnerID,
		ClientID: clientID,
		Reused:   reused,
	}, nil
}

// storeFailure maps a store error to the user-facing taxonomy: timeout when
// the deadline expired, retryable BookingFailed otherwise.
func (c *Coordinator) storeFailure(ctx context.Context, clientID uuid.UUID, op string, err error) error {
	c.clearSelection(clientID)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		c.Logger.Warn("booking step timed out", "op", op, "error", err)
		return fmt.Errorf("%w: %s", ErrBookingTimeout, op)
	}
	c.Logger.Error("booking step failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrBookingFailed, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
