package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serani/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, u *models.User, passwordHash string) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, preferred_categories)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, passwordHash, u.FirstName, u.LastName, u.PreferredCategories).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, preferred_categories, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PreferredCategories, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) UpdatePreferredCategories(ctx context.Context, id uuid.UUID, categories []string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET preferred_categories = $2, updated_at = now() WHERE id = $1
	`, id, categories)
	return err
}
