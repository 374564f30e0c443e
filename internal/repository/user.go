package repository

import (
	"context"

	"dispatch/internal/domain"
)

// UserRepository defines the persistence operations for accounts.
type UserRepository interface {
	// Create adds a new user. Drivers are registered offline with no
	// location. Returns ErrConflict if the phone is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByPhone retrieves a user by phone number.
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
}
