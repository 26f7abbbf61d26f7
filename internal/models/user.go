package models

import (
	"time"

	"github.com/google/uuid"
)

// Role tags for resolved identities.
const (
	RoleClient = "client"
	RoleRunner = "runner"
)

// User is a client (requester) profile.
type User struct {
	ID                  uuid.UUID `json:"id"`
	Email               string    `json:"email"`
	FirstName           string    `json:"first_name"`
	LastName            string    `json:"last_name"`
	PreferredCategories []string  `json:"preferred_categories"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
