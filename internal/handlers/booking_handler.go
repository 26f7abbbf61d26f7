package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/serani/backend/internal/booking"
	"github.com/serani/backend/internal/middleware"
	"github.com/serani/backend/internal/models"
	"github.com/serani/backend/internal/services"
)

// BookingService is the subset of the booking coordinator the handler needs.
type BookingService interface {
	BookRunner(ctx context.Context, runnerID, clientID uuid.UUID, clientLoc models.LatLng) (*booking.Confirmation, error)
	InitiateBooking(ctx context.Context, runnerID, clientID uuid.UUID, clientLoc models.LatLng, spec models.TaskSpec) (*booking.Booking, error)
}

// BookingHandler serves /v1/bookings endpoints.
type BookingHandler struct {
	Bookings  BookingService
	Validator *services.RequestValidator
	Logger    *slog.Logger
}

// --- POST /v1/bookings/preview ---

type bookingPreviewRequest struct {
	RunnerID  string  `json:"runner_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type bookingPreviewResponse struct {
	RunnerID       string  `json:"runner_id"`
	RunnerName     string  `json:"runner_name"`
	Rating         float64 `json:"rating"`
	CompletedTasks int     `json:"completed_tasks"`
	DistanceKm     float64 `json:"distance_km"`
}

// Preview handles POST /v1/bookings/preview: the pre-confirmation step. The
// returned name/rating/completed-count/distance come from a fresh fetch of
// the runner record, never from whatever the client last rendered.
func (h *BookingHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleClient {
		http.Error(w, `{"error":"clients only"}`, http.StatusForbidden)
		return
	}

	var req bookingPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	runnerID, err := uuid.Parse(req.RunnerID)
	if err != nil {
		http.Error(w, `{"error":"invalid runner_id"}`, http.StatusBadRequest)
		return
	}

	loc := models.LatLng{Latitude: req.Latitude, Longitude: req.Longitude}
	conf, err := h.Bookings.BookRunner(r.Context(), runnerID, id.UserID, loc)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bookingPreviewResponse{
		RunnerID:       conf.Runner.ID.String(),
		RunnerName:     conf.RunnerName,
		Rating:         conf.Rating,
		CompletedTasks: conf.CompletedTasks,
		DistanceKm:     conf.DistanceKm,
	})
}

// --- POST /v1/bookings ---

type createBookingRequest struct {
	RunnerID  string          `json:"runner_id"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Request   json.RawMessage `json:"request"`
}

type createBookingResponse struct {
	TaskID   string `json:"task_id"`
	ChatID   string `json:"chat_id"`
	RunnerID string `json:"runner_id"`
	ClientID string `json:"client_id"`
	Reused   bool   `json:"reused"`
}

// Create handles POST /v1/bookings. Booking the same runner twice for the
// same client reuses the pending task rather than duplicating it, so the
// response is 200 with reused=true instead of 201.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleClient {
		http.Error(w, `{"error":"clients only"}`, http.StatusForbidden)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	runnerID, err := uuid.Parse(req.RunnerID)
	if err != nil {
		http.Error(w, `{"error":"invalid runner_id"}`, http.StatusBadRequest)
		return
	}
	if len(req.Request) == 0 {
		http.Error(w, `{"error":"request is required"}`, http.StatusBadRequest)
		return
	}

	// Hard reject malformed errand requests before any store write.
	if err := h.Validator.ValidateErrandRequest(req.Request); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		http.Error(w, `{"error":"invalid request payload"}`, http.StatusBadRequest)
		return
	}

	var spec struct {
		Category    string  `json:"category"`
		ServiceName string  `json:"service_name"`
		Description string  `json:"description"`
		Price       float64 `json:"price"`
		Location    struct {
			Address string `json:"address"`
		} `json:"location"`
	}
	if err := json.Unmarshal(req.Request, &spec); err != nil {
		http.Error(w, `{"error":"invalid request payload"}`, http.StatusBadRequest)
		return
	}

	loc := models.LatLng{Latitude: req.Latitude, Longitude: req.Longitude}
	b, err := h.Bookings.InitiateBooking(r.Context(), runnerID, id.UserID, loc, models.TaskSpec{
		Category:    spec.Category,
		ServiceName: spec.ServiceName,
		Description: spec.Description,
		Price:       spec.Price,
		Address:     spec.Location.Address,
	})
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	status := http.StatusCreated
	if b.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, createBookingResponse{
		TaskID:   b.TaskID.String(),
		ChatID:   b.ChatID.String(),
		RunnerID: b.RunnerID.String(),
		ClientID: b.ClientID.String(),
		Reused:   b.Reused,
	})
}

func (h *BookingHandler) writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrRunnerNotFound):
		http.Error(w, `{"error":"runner not found"}`, http.StatusNotFound)
	case errors.Is(err, booking.ErrRunnerUnavailable):
		http.Error(w, `{"error":"runner is no longer available"}`, http.StatusConflict)
	case errors.Is(err, booking.ErrOutOfServiceArea):
		http.Error(w, `{"error":"runner is outside the service area"}`, http.StatusUnprocessableEntity)
	case errors.Is(err, booking.ErrBookingInProgress):
		http.Error(w, `{"error":"a booking is already in progress"}`, http.StatusConflict)
	case errors.Is(err, booking.ErrBookingTimeout):
		http.Error(w, `{"error":"booking timed out, try again"}`, http.StatusGatewayTimeout)
	default:
		h.Logger.Error("booking failed", "error", err)
		http.Error(w, `{"error":"booking failed, try again"}`, http.StatusInternalServerError)
	}
}
