package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/serani/backend/internal/middleware"
	"github.com/serani/backend/internal/models"
)

// ChatStore is the chat repository subset the handler needs.
type ChatStore interface {
	Get(ctx context.Context, taskID uuid.UUID) (*models.Chat, error)
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, taskID uuid.UUID) ([]*models.Message, error)
}

// ChatHandler serves /v1/chats endpoints. Only the two booking participants
// may read or write a chat.
type ChatHandler struct {
	Chats  ChatStore
	Logger *slog.Logger
}

// resolveChat loads the chat and rejects callers who are not a participant.
func (h *ChatHandler) resolveChat(w http.ResponseWriter, r *http.Request) (*models.Chat, bool) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return nil, false
	}
	taskID, err := uuid.Parse(r.PathValue("taskId"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return nil, false
	}

	chat, err := h.Chats.Get(r.Context(), taskID)
	if err != nil {
		h.Logger.Error("load chat", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return nil, false
	}
	if chat == nil {
		http.Error(w, `{"error":"chat not found"}`, http.StatusNotFound)
		return nil, false
	}
	if id.UserID != chat.ClientID && id.UserID != chat.RunnerID {
		http.Error(w, `{"error":"not a participant"}`, http.StatusForbidden)
		return nil, false
	}
	return chat, true
}

// --- GET /v1/chats/{taskId}/messages ---

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.resolveChat(w, r)
	if !ok {
		return
	}
	messages, err := h.Chats.ListMessages(r.Context(), chat.TaskID)
	if err != nil {
		h.Logger.Error("list messages", "task_id", chat.TaskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// --- POST /v1/chats/{taskId}/messages ---

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.resolveChat(w, r)
	if !ok {
		return
	}
	id := middleware.IdentityFromCtx(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
		return
	}

	msg := &models.Message{
		ID:         uuid.New(),
		TaskID:     chat.TaskID,
		Text:       req.Text,
		SenderID:   id.UserID,
		SenderType: id.Role,
	}
	if err := h.Chats.AppendMessage(r.Context(), msg); err != nil {
		h.Logger.Error("append message", "task_id", chat.TaskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
