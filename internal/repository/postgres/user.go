package postgres

import (
	"context"
	"database/sql"
	"errors"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create adds a new user. A driver's offline presence row is inserted in the
// same transaction.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (id, name, phone, role) VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		user.ID, user.Name, nullString(user.Phone), user.Role,
	).Scan(&user.CreatedAt)
	if err != nil {
		return classify(err)
	}

	if user.Role == domain.RoleDriver {
		if err := NewPresenceRepositoryWithTx(tx).Create(ctx, user.ID); err != nil {
			return err
		}
	}
	return classify(tx.Commit())
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT id, name, phone, role, created_at FROM users WHERE id = $1`, id)
}

// GetByPhone retrieves a user by phone number.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT id, name, phone, role, created_at FROM users WHERE phone = $1`, phone)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	var phone sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Name, &phone, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	user.Phone = phone.String
	return &user, nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
