package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/serani/backend/internal/geo"
	"github.com/serani/backend/internal/middleware"
	"github.com/serani/backend/internal/models"
	"github.com/serani/backend/internal/services"
)

// TaskStore is the task repository subset the handler needs.
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Update(ctx context.Context, t *models.Task) error
	ListPending(ctx context.Context) ([]*models.Task, error)
	ListByClientID(ctx context.Context, clientID uuid.UUID) ([]*models.Task, error)
}

// RunnerProfileStore resolves a runner's declared skills for the nearby
// task filter.
type RunnerProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Runner, error)
}

// RunnerStatsStore settles a completed task onto the runner's record.
type RunnerStatsStore interface {
	IncrementCompleted(ctx context.Context, id uuid.UUID) error
}

// TaskHandler serves /v1/tasks endpoints.
type TaskHandler struct {
	Tasks     TaskStore
	Runners   RunnerProfileStore
	Stats     RunnerStatsStore
	Validator *services.RequestValidator
	MaxKm     float64
	Logger    *slog.Logger
}

// --- POST /v1/tasks ---

type createTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// CreateTask handles POST /v1/tasks: a client posts an open errand request
// with no runner attached. Runners discover it via the nearby feed; booking
// a specific runner goes through /v1/bookings instead.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleClient {
		http.Error(w, `{"error":"clients only"}`, http.StatusForbidden)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.ValidateErrandRequest(raw); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		http.Error(w, `{"error":"invalid request payload"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Category    string  `json:"category"`
		ServiceName string  `json:"service_name"`
		Description string  `json:"description"`
		Price       float64 `json:"price"`
		Location    struct {
			Address     string         `json:"address"`
			Coordinates *models.LatLng `json:"coordinates"`
		} `json:"location"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, `{"error":"invalid request payload"}`, http.StatusBadRequest)
		return
	}

	task := &models.Task{
		ID:          uuid.New(),
		ClientID:    id.UserID,
		Status:      models.TaskStatusPending,
		Category:    req.Category,
		ServiceName: req.ServiceName,
		Description: req.Description,
		Price:       req.Price,
		Location: models.TaskLocation{
			Address:     req.Location.Address,
			Coordinates: req.Location.Coordinates,
		},
	}
	if err := h.Tasks.Create(r.Context(), task); err != nil {
		h.Logger.Error("create task", "error", err)
		http.Error(w, `{"error":"failed to create task"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createTaskResponse{
		TaskID: task.ID.String(),
		Status: task.Status,
	})
}

// --- GET /v1/tasks/{id} ---

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get task", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- PUT /v1/tasks/{id}/status ---

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles PUT /v1/tasks/{id}/status. Only the task's client or
// its assigned runner may move it, and only along the lifecycle: pending to
// in_progress or cancelled, in_progress to completed or cancelled.
// Completing a task bumps the runner's completed count.
func (h *TaskHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	next := models.NormalizeTaskStatus(req.Status)
	switch next {
	case models.TaskStatusInProgress, models.TaskStatusCompleted, models.TaskStatusCancelled:
	default:
		http.Error(w, `{"error":"unknown status"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get task", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	participant := task.ClientID == id.UserID ||
		(task.RunnerID != nil && *task.RunnerID == id.UserID)
	if !participant {
		http.Error(w, `{"error":"not a participant in this task"}`, http.StatusForbidden)
		return
	}

	if !models.CanTransitionTaskStatus(task.Status, next) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "cannot move task from " + task.Status + " to " + next,
		})
		return
	}

	task.Status = next
	if err := h.Tasks.Update(r.Context(), task); err != nil {
		h.Logger.Error("update task status", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	if next == models.TaskStatusCompleted && task.RunnerID != nil {
		if err := h.Stats.IncrementCompleted(r.Context(), *task.RunnerID); err != nil {
			// The status change already landed, so this is not a failure of
			// the request itself.
			h.Logger.Error("increment completed tasks", "runner_id", *task.RunnerID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, createTaskResponse{
		TaskID: task.ID.String(),
		Status: task.Status,
	})
}

// --- GET /v1/tasks ---

// ListTasks returns the authenticated client's own tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleClient {
		http.Error(w, `{"error":"clients only"}`, http.StatusForbidden)
		return
	}
	tasks, err := h.Tasks.ListByClientID(r.Context(), id.UserID)
	if err != nil {
		h.Logger.Error("list tasks", "client_id", id.UserID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- GET /v1/tasks/nearby ---

type nearbyTask struct {
	ID          string  `json:"id"`
	Category    string  `json:"category"`
	ServiceName string  `json:"service_name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Address     string  `json:"address"`
	DistanceKm  float64 `json:"distance_km"`
}

// NearbyTasks handles GET /v1/tasks/nearby?lat=&lng= for runners: pending
// tasks within radius, filtered by the runner's skills with fallback to the
// distance-only set when nothing matches.
func (h *TaskHandler) NearbyTasks(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleRunner {
		http.Error(w, `{"error":"runners only"}`, http.StatusForbidden)
		return
	}

	origin, ok := parseOrigin(w, r)
	if !ok {
		return
	}

	var skills []string
	runner, err := h.Runners.GetByID(r.Context(), id.UserID)
	if err == nil {
		skills = runner.CapabilityTags()
	} else if !errors.Is(err, pgx.ErrNoRows) {
		h.Logger.Error("load runner profile", "runner_id", id.UserID, "error", err)
	}

	pending, err := h.Tasks.ListPending(r.Context())
	if err != nil {
		h.Logger.Error("list pending tasks", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	maxKm := h.MaxKm
	if maxKm <= 0 {
		maxKm = geo.DefaultMaxDistanceKm
	}
	eligible := geo.EligibleTasks(origin, pending, maxKm, skills)
	out := make([]nearbyTask, 0, len(eligible))
	for _, t := range eligible {
		out = append(out, nearbyTask{
			ID:          t.ID.String(),
			Category:    t.Category,
			ServiceName: t.ServiceName,
			Description: t.Description,
			Price:       t.Price,
			Address:     t.Location.Address,
			DistanceKm:  geo.HaversineKm(origin, t.Location.Coordinates),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
