package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serani/backend/internal/models"
)

type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

func (r *ChatRepo) Get(ctx context.Context, taskID uuid.UUID) (*models.Chat, error) {
	var c models.Chat
	err := r.pool.QueryRow(ctx, `
		SELECT task_id, runner_id, client_id, created_at, last_message, last_message_time
		FROM chats WHERE task_id = $1
	`, taskID).Scan(&c.TaskID, &c.RunnerID, &c.ClientID, &c.CreatedAt, &c.LastMessage, &c.LastMessageTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateIfAbsent creates the chat for the task unless one already exists.
// chats.task_id is the primary key, so concurrent creations collapse to one
// row; returns whether this call created it.
func (r *ChatRepo) CreateIfAbsent(ctx context.Context, c *models.Chat) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO chats (task_id, runner_id, client_id, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (task_id) DO NOTHING
	`, c.TaskID, c.RunnerID, c.ClientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AppendMessage inserts the message and refreshes the chat's last_message
// denormalization in one transaction.
func (r *ChatRepo) AppendMessage(ctx context.Context, m *models.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `
		INSERT INTO chat_messages (id, chat_task_id, text, sender_id, sender_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ts
	`, m.ID, m.TaskID, m.Text, m.SenderID, m.SenderType).Scan(&m.Timestamp); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE chats SET last_message = $2, last_message_time = $3 WHERE task_id = $1
	`, m.TaskID, m.Text, m.Timestamp); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListMessages returns the chat's messages ordered by timestamp ascending.
func (r *ChatRepo) ListMessages(ctx context.Context, taskID uuid.UUID) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, chat_task_id, text, sender_id, sender_type, ts
		FROM chat_messages WHERE chat_task_id = $1
		ORDER BY ts ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Text, &m.SenderID, &m.SenderType, &m.Timestamp); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}
