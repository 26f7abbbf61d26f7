package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/serani/backend/internal/geo"
	"github.com/serani/backend/internal/middleware"
	"github.com/serani/backend/internal/models"
)

// RunnerStore is the runner repository subset the handler needs.
type RunnerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Runner, error)
	ListAvailable(ctx context.Context) ([]*models.Runner, error)
	UpdatePresence(ctx context.Context, id uuid.UUID, loc models.LatLng, available bool, at time.Time) error
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
}

// ClientProfileStore resolves a client's preferred categories for the nearby
// filter.
type ClientProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// RunnerHandler serves /v1/runners endpoints.
type RunnerHandler struct {
	Runners RunnerStore
	Users   ClientProfileStore
	MaxKm   float64
	Logger  *slog.Logger
}

// --- PUT /v1/runners/{id}/presence ---

type presenceRequest struct {
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	IsAvailable bool       `json:"is_available"`
}

// UpdatePresence handles PUT /v1/runners/{id}/presence. A runner may only
// write its own presence beacon.
func (h *RunnerHandler) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleRunner {
		http.Error(w, `{"error":"runners only"}`, http.StatusForbidden)
		return
	}
	runnerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid runner id"}`, http.StatusBadRequest)
		return
	}
	if runnerID != id.UserID {
		http.Error(w, `{"error":"cannot update another runner's presence"}`, http.StatusForbidden)
		return
	}

	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	at := time.Now()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	loc := models.LatLng{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := h.Runners.UpdatePresence(r.Context(), runnerID, loc, req.IsAvailable, at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"runner not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("update presence", "runner_id", runnerID, "error", err)
		http.Error(w, `{"error":"failed to share location, try again"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- PUT /v1/runners/{id}/availability ---

type availabilityRequest struct {
	IsAvailable bool `json:"is_available"`
}

// SetAvailability handles PUT /v1/runners/{id}/availability. Going offline
// flips the flag; the presence record itself is never deleted.
func (h *RunnerHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleRunner {
		http.Error(w, `{"error":"runners only"}`, http.StatusForbidden)
		return
	}
	runnerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid runner id"}`, http.StatusBadRequest)
		return
	}
	if runnerID != id.UserID {
		http.Error(w, `{"error":"cannot update another runner's availability"}`, http.StatusForbidden)
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Runners.SetAvailability(r.Context(), runnerID, req.IsAvailable); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"runner not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("set availability", "runner_id", runnerID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- GET /v1/runners/nearby ---

type nearbyRunner struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Rating         float64 `json:"rating"`
	CompletedTasks int     `json:"completed_tasks"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	DistanceKm     float64 `json:"distance_km"`
}

// NearbyRunners handles GET /v1/runners/nearby?lat=&lng=[&max_km=]. The
// result is filtered by radius and by the client's preferred categories,
// falling back to the distance-only set when no category matches.
func (h *RunnerHandler) NearbyRunners(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleClient {
		http.Error(w, `{"error":"clients only"}`, http.StatusForbidden)
		return
	}

	origin, ok := parseOrigin(w, r)
	if !ok {
		return
	}
	maxKm := h.maxKm()
	if raw := r.URL.Query().Get("max_km"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			http.Error(w, `{"error":"invalid max_km"}`, http.StatusBadRequest)
			return
		}
		maxKm = v
	}

	var preferred []string
	user, err := h.Users.GetByID(r.Context(), id.UserID)
	if err == nil {
		preferred = user.PreferredCategories
	} else if !errors.Is(err, pgx.ErrNoRows) {
		h.Logger.Error("load client profile", "user_id", id.UserID, "error", err)
	}

	runners, err := h.Runners.ListAvailable(r.Context())
	if err != nil {
		h.Logger.Error("list available runners", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	eligible := geo.EligibleRunners(origin, runners, maxKm, preferred)
	out := make([]nearbyRunner, 0, len(eligible))
	for _, rn := range eligible {
		out = append(out, nearbyRunner{
			ID:             rn.ID.String(),
			Name:           rn.Name,
			Rating:         rn.Rating,
			CompletedTasks: rn.CompletedTasks,
			Latitude:       rn.Location.Latitude,
			Longitude:      rn.Location.Longitude,
			DistanceKm:     geo.HaversineKm(origin, rn.Coords()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *RunnerHandler) maxKm() float64 {
	if h.MaxKm > 0 {
		return h.MaxKm
	}
	return geo.DefaultMaxDistanceKm
}

// parseOrigin reads required lat/lng query parameters.
func parseOrigin(w http.ResponseWriter, r *http.Request) (*models.LatLng, bool) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		http.Error(w, `{"error":"lat and lng query parameters are required"}`, http.StatusBadRequest)
		return nil, false
	}
	return &models.LatLng{Latitude: lat, Longitude: lng}, true
}
