package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// UserService registers riders and drivers.
type UserService struct {
	userRepo repository.UserRepository
}

// NewUserService creates a new UserService.
func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// RegisterInput contains the parameters for registering an account.
type RegisterInput struct {
	Name  string
	Phone string
	Role  domain.Role
}

// Register creates an account. Drivers start offline without a location.
// A phone number already on file is a conflict; the store's unique index
// still decides between concurrent registrations.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	name := strings.TrimSpace(in.Name)
	phone := strings.TrimSpace(in.Phone)
	if name == "" || phone == "" || !in.Role.Valid() {
		return nil, ErrInvalidUser
	}

	switch _, err := s.userRepo.GetByPhone(ctx, phone); {
	case err == nil:
		return nil, fmt.Errorf("%w: phone already registered", repository.ErrConflict)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, storeErr(err)
	}

	user := &domain.User{
		ID:        uuid.New().String(),
		Name:      name,
		Phone:     phone,
		Role:      in.Role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, storeErr(err)
	}
	return user, nil
}

// GetUser retrieves an account.
func (s *UserService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return u, nil
}
