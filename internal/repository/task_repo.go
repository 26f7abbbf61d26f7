package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serani/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, client_id, runner_id, status, category, service_name, description, price, address, latitude, longitude, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		t        models.Task
		lat, lon *float64
	)
	err := row.Scan(&t.ID, &t.ClientID, &t.RunnerID, &t.Status, &t.Category, &t.ServiceName, &t.Description, &t.Price, &t.Location.Address, &lat, &lon, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	// Legacy rows may carry the hyphenated status spelling.
	t.Status = models.NormalizeTaskStatus(t.Status)
	if lat != nil && lon != nil {
		t.Location.Coordinates = &models.LatLng{Latitude: *lat, Longitude: *lon}
	}
	return &t, nil
}

func taskCoords(t *models.Task) (lat, lon *float64) {
	if c := t.Location.Coordinates; c != nil {
		return &c.Latitude, &c.Longitude
	}
	return nil, nil
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	lat, lon := taskCoords(t)
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, client_id, runner_id, status, category, service_name, description, price, address, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, t.ID, t.ClientID, t.RunnerID, models.NormalizeTaskStatus(t.Status), t.Category, t.ServiceName, t.Description, t.Price, t.Location.Address, lat, lon).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1
	`, id))
}

func (r *TaskRepo) Update(ctx context.Context, t *models.Task) error {
	lat, lon := taskCoords(t)
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET runner_id = $2, status = $3, category = $4, service_name = $5, description = $6, price = $7, address = $8, latitude = $9, longitude = $10, updated_at = now()
		WHERE id = $1
	`, t.ID, t.RunnerID, models.NormalizeTaskStatus(t.Status), t.Category, t.ServiceName, t.Description, t.Price, t.Location.Address, lat, lon)
	return err
}

// ListPending returns all pending tasks, newest first. This backs the runner
// side of the matching view.
func (r *TaskRepo) ListPending(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE status = 'pending' ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ListByClientID(ctx context.Context, clientID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE client_id = $1 ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// FindPendingPair returns the pending task for (runner, client), or nil when
// none exists. This lookup is what makes booking idempotent: at most one
// pending task per pair. A partial unique index on
// (runner_id, client_id) WHERE status = 'pending' backs it server-side.
func (r *TaskRepo) FindPendingPair(ctx context.Context, runnerID, clientID uuid.UUID) (*models.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE runner_id = $1 AND client_id = $2 AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
	`, runnerID, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
