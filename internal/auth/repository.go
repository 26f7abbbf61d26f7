package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serani/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateClient inserts a client row and returns the created account.
func (r *Repository) CreateClient(ctx context.Context, email, passwordHash, firstName, lastName string, categories []string) (*Account, error) {
	id := uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, preferred_categories)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, email, passwordHash, firstName, lastName, categories)
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:          id,
		Email:       email,
		DisplayName: firstName + " " + lastName,
		Role:        models.RoleClient,
	}, nil
}

// CreateRunner inserts a runner row. New runners start unavailable with no
// position; the presence manager fills those in once they go online.
func (r *Repository) CreateRunner(ctx context.Context, email, passwordHash, name string, skills []string) (*Account, error) {
	id := uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO runners (id, name, email, password_hash, is_available, rating, completed_tasks, skills, service_categories, last_updated)
		VALUES ($1, $2, $3, $4, FALSE, 0, 0, $5, $5, now())
	`, id, name, email, passwordHash, skills)
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:          id,
		Email:       email,
		DisplayName: name,
		Role:        models.RoleRunner,
	}, nil
}

// Credentials resolves an email to an account plus its password hash,
// probing clients before runners. Returns (nil, "", nil) when the email is
// unknown to both collections.
func (r *Repository) Credentials(ctx context.Context, email string) (*Account, string, error) {
	var (
		a                   Account
		hash                string
		firstName, lastName string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, password_hash
		FROM users WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &firstName, &lastName, &hash)
	if err == nil {
		a.DisplayName = firstName + " " + lastName
		a.Role = models.RoleClient
		return &a, hash, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash
		FROM runners WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.DisplayName, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	a.Role = models.RoleRunner
	return &a, hash, nil
}
