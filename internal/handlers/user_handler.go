package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/serani/backend/internal/middleware"
	"github.com/serani/backend/internal/models"
	"github.com/serani/backend/internal/services"
)

// UserPreferenceStore persists a client's preferred errand categories.
type UserPreferenceStore interface {
	UpdatePreferredCategories(ctx context.Context, id uuid.UUID, categories []string) error
}

// UserHandler serves /v1/users endpoints.
type UserHandler struct {
	Users  UserPreferenceStore
	Logger *slog.Logger
}

// --- PUT /v1/users/{id}/preferences ---

type preferencesRequest struct {
	PreferredCategories []string `json:"preferred_categories"`
}

// UpdatePreferences handles PUT /v1/users/{id}/preferences. A client may
// only write its own preferences; the categories feed the nearby-runner
// capability filter.
func (h *UserHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil || id.Role != models.RoleClient {
		http.Error(w, `{"error":"clients only"}`, http.StatusForbidden)
		return
	}
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
		return
	}
	if userID != id.UserID {
		http.Error(w, `{"error":"cannot update another user's preferences"}`, http.StatusForbidden)
		return
	}

	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	for _, c := range req.PreferredCategories {
		if !services.IsServiceCategory(c) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "unknown category: " + c,
			})
			return
		}
	}

	if err := h.Users.UpdatePreferredCategories(r.Context(), userID, req.PreferredCategories); err != nil {
		h.Logger.Error("update preferred categories", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
