// Package identity resolves an authenticated user ID to its marketplace role
// and carries the resolved Identity explicitly through the rest of the code
// instead of an ambient current-user global.
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/serani/backend/internal/models"
)

// ErrUnauthenticated means no identity was presented at all.
var ErrUnauthenticated = errors.New("not authenticated")

// ErrUserNotFound means the identity exists in neither the users nor the
// runners collection.
var ErrUserNotFound = errors.New("user not found")

// Identity is an authenticated principal plus its resolved role.
type Identity struct {
	UserID uuid.UUID
	Role   string // models.RoleClient | models.RoleRunner
}

// UserLookup is the client-profile probe.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// RunnerLookup is the runner-profile probe.
type RunnerLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Runner, error)
}

// Resolver probes users first, then runners; first match wins, so an
// identity present in both collections resolves to client.
type Resolver struct {
	Users   UserLookup
	Runners RunnerLookup
}

func NewResolver(users UserLookup, runners RunnerLookup) *Resolver {
	return &Resolver{Users: users, Runners: runners}
}

func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (Identity, error) {
	if userID == uuid.Nil {
		return Identity{}, ErrUnauthenticated
	}

	user, err := r.Users.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, err
	}
	if user != nil {
		return Identity{UserID: userID, Role: models.RoleClient}, nil
	}

	runner, err := r.Runners.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, err
	}
	if runner != nil {
		return Identity{UserID: userID, Role: models.RoleRunner}, nil
	}

	return Identity{}, ErrUserNotFound
}
