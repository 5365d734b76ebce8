// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/talko/internal/model"
)

// UserRepository provides access to user accounts.
type UserRepository interface {
	// Create inserts a new user. A taken username yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// ListExcept returns every user other than id, ordered by username.
	ListExcept(ctx context.Context, id uuid.UUID) ([]model.User, error)
	// TouchLastSeen sets last_seen for id.
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
}
