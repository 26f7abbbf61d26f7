package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serani/backend/internal/models"
)

type RunnerRepo struct {
	pool *pgxpool.Pool
}

func NewRunnerRepo(pool *pgxpool.Pool) *RunnerRepo {
	return &RunnerRepo{pool: pool}
}

const runnerColumns = `id, name, email, latitude, longitude, location_ts, is_available, rating, completed_tasks, skills, service_categories, last_updated, created_at, updated_at`

func scanRunner(row interface{ Scan(...any) error }) (*models.Runner, error) {
	var (
		r        models.Runner
		lat, lon *float64
		locTS    *time.Time
	)
	err := row.Scan(&r.ID, &r.Name, &r.Email, &lat, &lon, &locTS, &r.IsAvailable, &r.Rating, &r.CompletedTasks, &r.Skills, &r.ServiceCategories, &r.LastUpdated, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		loc := models.RunnerLocation{Latitude: *lat, Longitude: *lon}
		if locTS != nil {
			loc.Timestamp = *locTS
		}
		r.Location = &loc
	}
	return &r, nil
}

func (r *RunnerRepo) Create(ctx context.Context, rn *models.Runner, passwordHash string) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO runners (id, name, email, password_hash, is_available, rating, completed_tasks, skills, service_categories, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING last_updated, created_at, updated_at
	`, rn.ID, rn.Name, rn.Email, passwordHash, rn.IsAvailable, rn.Rating, rn.CompletedTasks, rn.Skills, rn.ServiceCategories).Scan(&rn.LastUpdated, &rn.CreatedAt, &rn.UpdatedAt)
}

func (r *RunnerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Runner, error) {
	return scanRunner(r.pool.QueryRow(ctx, `
		SELECT `+runnerColumns+` FROM runners WHERE id = $1
	`, id))
}

// ListAvailable returns runners with is_available = true. Availability is
// enforced here at read time; going unavailable never deletes the presence
// record.
func (r *RunnerRepo) ListAvailable(ctx context.Context) ([]*models.Runner, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+runnerColumns+` FROM runners
		WHERE is_available = TRUE
		ORDER BY last_updated DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Runner
	for rows.Next() {
		rn, err := scanRunner(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rn)
	}
	return list, rows.Err()
}

// UpdatePresence writes the runner's live position and availability. Only
// the presence columns are touched; rating, completed_tasks and skills are
// never clobbered by a location tick. Returns pgx.ErrNoRows when the runner
// row does not exist.
func (r *RunnerRepo) UpdatePresence(ctx context.Context, id uuid.UUID, loc models.LatLng, available bool, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runners
		SET latitude = $2, longitude = $3, location_ts = $4, is_available = $5, last_updated = now(), updated_at = now()
		WHERE id = $1
	`, id, loc.Latitude, loc.Longitude, at, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetAvailability flips the availability flag without touching the position.
func (r *RunnerRepo) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runners SET is_available = $2, last_updated = now(), updated_at = now() WHERE id = $1
	`, id, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkStale flips is_available to false for runners whose beacon has not
// updated since olderThan. Used by the presence sweep job.
func (r *RunnerRepo) MarkStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runners SET is_available = FALSE, updated_at = now()
		WHERE is_available = TRUE AND last_updated < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// IncrementCompleted bumps the completed-task counter after a task settles.
func (r *RunnerRepo) IncrementCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE runners SET completed_tasks = completed_tasks + 1, updated_at = now() WHERE id = $1
	`, id)
	return err
}
