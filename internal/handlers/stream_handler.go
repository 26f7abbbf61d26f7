package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/serani/backend/internal/geo"
	"github.com/serani/backend/internal/middleware"
	"github.com/serani/backend/internal/models"
	"github.com/serani/backend/internal/repository"
)

// StreamHandler serves server-sent-event feeds of the candidate sets. Each
// push is the full recomputed eligible list for the caller's position; the
// client replaces its view rather than patching it.
type StreamHandler struct {
	Runners  repository.AvailableRunnerLister
	Tasks    repository.PendingTaskLister
	Profiles ClientProfileStore
	Skills   RunnerProfileStore
	MaxKm    float64
	Interval time.Duration
	Logger   *slog.Logger
}

// NearbyRunnersStream handles GET /v1/runners/nearby/stream?lat=&lng=.
func (h *StreamHandler) NearbyRunnersStream(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleClient {
		http.Error(w, `{"error":"clients only"}`, http.StatusForbidden)
		return
	}
	origin, ok := parseOrigin(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	var preferred []string
	if user, err := h.Profiles.GetByID(r.Context(), id.UserID); err == nil {
		preferred = user.PreferredCategories
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	events := make(chan []byte, 4)
	handle := repository.WatchAvailableRunners(r.Context(), h.Runners, h.Interval,
		func(runners []*models.Runner) {
			eligible := geo.EligibleRunners(origin, runners, h.maxKm(), preferred)
			payload, err := json.Marshal(eligible)
			if err != nil {
				return
			}
			select {
			case events <- payload:
			default: // drop when the client is slow; next poll resends the full set
			}
		},
		func(err error) {
			// Transient query errors keep the subscription alive; the client
			// keeps its last delivered set.
			h.Logger.Warn("runner stream poll failed", "error", err)
		},
	)
	defer handle.Cancel()

	h.pump(w, r, flusher, events)
}

// NearbyTasksStream handles GET /v1/tasks/nearby/stream?lat=&lng= for runners.
func (h *StreamHandler) NearbyTasksStream(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleRunner {
		http.Error(w, `{"error":"runners only"}`, http.StatusForbidden)
		return
	}
	origin, ok := parseOrigin(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	var skills []string
	if runner, err := h.Skills.GetByID(r.Context(), id.UserID); err == nil {
		skills = runner.CapabilityTags()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	events := make(chan []byte, 4)
	handle := repository.WatchPendingTasks(r.Context(), h.Tasks, h.Interval,
		func(tasks []*models.Task) {
			eligible := geo.EligibleTasks(origin, tasks, h.maxKm(), skills)
			payload, err := json.Marshal(eligible)
			if err != nil {
				return
			}
			select {
			case events <- payload:
			default:
			}
		},
		func(err error) {
			h.Logger.Warn("task stream poll failed", "error", err)
		},
	)
	defer handle.Cancel()

	h.pump(w, r, flusher, events)
}

func (h *StreamHandler) pump(w http.ResponseWriter, r *http.Request, flusher http.Flusher, events <-chan []byte) {
	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-events:
			// One write per frame; a partial write ends the stream instead
			// of being followed by more frames.
			frame := make([]byte, 0, len(payload)+8)
			frame = append(frame, "data: "...)
			frame = append(frame, payload...)
			frame = append(frame, "\n\n"...)
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) maxKm() float64 {
	if h.MaxKm > 0 {
		return h.MaxKm
	}
	return geo.DefaultMaxDistanceKm
}
