package memory

import (
	"context"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// UserRepository keeps accounts in a map.
type UserRepository struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	presence *PresenceRepository
}

// NewUserRepository creates an empty account store. When presence is set,
// registered drivers get an offline presence entry.
func NewUserRepository(presence *PresenceRepository) *UserRepository {
	return &UserRepository{
		users:    make(map[string]domain.User),
		presence: presence,
	}
}

// Create adds a new user.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; ok {
		return repository.ErrConflict
	}
	for _, u := range r.users {
		if user.Phone != "" && u.Phone == user.Phone {
			return repository.ErrConflict
		}
	}
	u := *user
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Role == domain.RoleDriver && r.presence != nil {
		if err := r.presence.Create(ctx, u.ID); err != nil {
			return err
		}
	}
	r.users[u.ID] = u
	user.CreatedAt = u.CreatedAt
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// GetByPhone retrieves a user by phone number.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Phone == phone {
			u := u
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Exists reports whether id is a known user. It matches the userExists hook
// of NewRideRepository.
func (r *UserRepository) Exists(ctx context.Context, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[id]
	return ok
}

var _ repository.UserRepository = (*UserRepository)(nil)
