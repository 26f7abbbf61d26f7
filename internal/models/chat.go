package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat is the channel attached to a booking. It is keyed by the task ID:
// one chat per task, created at most once.
type Chat struct {
	TaskID          uuid.UUID  `json:"task_id"`
	RunnerID        uuid.UUID  `json:"runner_id"`
	ClientID        uuid.UUID  `json:"client_id"`
	CreatedAt       time.Time  `json:"created_at"`
	LastMessage     *string    `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
}

// Message is one entry in a chat's append-only message log, ordered by
// timestamp ascending.
type Message struct {
	ID         uuid.UUID `json:"id"`
	TaskID     uuid.UUID `json:"task_id"`
	Text       string    `json:"text"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderType string    `json:"sender_type"` // client | runner
	Timestamp  time.Time `json:"timestamp"`
}
