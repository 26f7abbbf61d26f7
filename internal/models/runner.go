package models

import (
	"time"

	"github.com/google/uuid"
)

// RunnerLocation is a runner's last reported position. Timestamp is the
// moment the fix was taken on the device, not the write time.
type RunnerLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Runner is a service provider's presence record. It is a mutable
// last-write-wins beacon: mutated on every location tick and availability
// toggle, never hard-deleted in normal operation.
type Runner struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	Location          *RunnerLocation `json:"location,omitempty"`
	IsAvailable       bool            `json:"is_available"`
	Rating            float64         `json:"rating"`
	CompletedTasks    int             `json:"completed_tasks"`
	Skills            []string        `json:"skills"`
	ServiceCategories []string        `json:"service_categories"`
	LastUpdated       time.Time       `json:"last_updated"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Coords returns the runner's coordinates or nil when no fix has been shared.
func (r *Runner) Coords() *LatLng {
	if r == nil || r.Location == nil {
		return nil
	}
	return &LatLng{Latitude: r.Location.Latitude, Longitude: r.Location.Longitude}
}

// CapabilityTags is the union of skills and service categories; either field
// may carry a runner's declared capabilities depending on signup path.
func (r *Runner) CapabilityTags() []string {
	out := make([]string, 0, len(r.Skills)+len(r.ServiceCategories))
	out = append(out, r.Skills...)
	out = append(out, r.ServiceCategories...)
	return out
}
