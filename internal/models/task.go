package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enum. "in_progress" with an underscore is the canonical
// spelling; NormalizeTaskStatus converts legacy hyphenated values at the
// store boundary so the rest of the code never sees "in-progress".
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

// NormalizeTaskStatus maps legacy status spellings onto the canonical enum.
func NormalizeTaskStatus(s string) string {
	switch s {
	case "in-progress", "in progress":
		return TaskStatusInProgress
	default:
		return s
	}
}

// CanTransitionTaskStatus reports whether a task may move from one status to
// another. Pending tasks start or get cancelled; in-progress tasks settle as
// completed or cancelled. Completed and cancelled are terminal.
func CanTransitionTaskStatus(from, to string) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusInProgress || to == TaskStatusCancelled
	case TaskStatusInProgress:
		return to == TaskStatusCompleted || to == TaskStatusCancelled
	default:
		return false
	}
}

// LatLng is a geographic coordinate pair. A nil *LatLng means the entity has
// no known position and must be treated as infinitely far away, never as
// (0, 0).
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TaskLocation is the human-readable address plus optional coordinates.
type TaskLocation struct {
	Address     string  `json:"address"`
	Coordinates *LatLng `json:"coordinates,omitempty"`
}

type Task struct {
	ID          uuid.UUID    `json:"id"`
	ClientID    uuid.UUID    `json:"client_id"`
	RunnerID    *uuid.UUID   `json:"runner_id,omitempty"`
	Status      string       `json:"status"`
	Category    string       `json:"category"`
	ServiceName string       `json:"service_name"`
	Description string       `json:"description"`
	Price       float64      `json:"price"`
	Location    TaskLocation `json:"location"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TaskSpec carries the client-supplied request fields into task creation so a
// booked task is never persisted with only the minimal coordinate subset.
type TaskSpec struct {
	Category    string  `json:"category"`
	ServiceName string  `json:"service_name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Address     string  `json:"address"`
}
