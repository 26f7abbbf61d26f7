package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/serani/backend/internal/identity"
	"github.com/serani/backend/internal/middleware"
)

// IdentityHandler serves GET /v1/me: the role-resolution step a client runs
// after login to decide which experience to boot. The role comes from
// probing the store, not from the token claim, so a stale token cannot
// misroute a user whose profile moved collections.
type IdentityHandler struct {
	Resolver *identity.Resolver
	Logger   *slog.Logger
}

type meResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	resolved, err := h.Resolver.Resolve(r.Context(), id.UserID)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUnauthenticated):
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		case errors.Is(err, identity.ErrUserNotFound):
			http.Error(w, `{"error":"no profile for this identity"}`, http.StatusNotFound)
		default:
			h.Logger.Error("resolve identity", "user_id", id.UserID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		UserID: resolved.UserID.String(),
		Role:   resolved.Role,
	})
}
