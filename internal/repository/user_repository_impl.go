package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jnst/traceable-outbox/internal/db"
	"github.com/jnst/traceable-outbox/internal/model"
)

// UserRepositoryImpl implements UserRepository.
type UserRepositoryImpl struct {
	db *db.Queries
}

// NewUserRepositoryImpl creates a new UserRepository implementation.
func NewUserRepositoryImpl(pool db.DBTX) UserRepository {
	return &UserRepositoryImpl{db: db.New(pool)}
}

// Create inserts user. A taken email fails with model.ErrDuplicateEmail.
func (r *UserRepositoryImpl) Create(ctx context.Context, user *model.User) (*model.User, error) {
	dbUser, err := r.db.Conn(ctx).CreateUser(ctx, &db.CreateUserParams{
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	})
	if errors.Is(err, db.ErrUniqueViolation) {
		return nil, model.ErrDuplicateEmail
	}

	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return toUser(&dbUser), nil
}

// GetByID retrieves a user by ID.
func (r *UserRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.User, error) {
	dbUser, err := r.db.Conn(ctx).GetUser(ctx, id)
	if err != nil {
		return nil, notFound(err, model.ErrUserNotFound)
	}

	return toUser(&dbUser), nil
}

// GetByEmail retrieves a user by email.
func (r *UserRepositoryImpl) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	dbUser, err := r.db.Conn(ctx).GetUserByEmail(ctx, email)
	if err != nil {
		return nil, notFound(err, model.ErrUserNotFound)
	}

	return toUser(&dbUser), nil
}

// List returns every user ordered by id.
func (r *UserRepositoryImpl) List(ctx context.Context) ([]*model.User, error) {
	dbUsers, err := r.db.Conn(ctx).ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]*model.User, len(dbUsers))
	for i := range dbUsers {
		users[i] = toUser(&dbUsers[i])
	}

	return users, nil
}

// IncrementOrderCount adds one to the user's order counter.
func (r *UserRepositoryImpl) IncrementOrderCount(ctx context.Context, id int64, now time.Time) error {
	n, err := r.db.Conn(ctx).IncrementUserOrderCount(ctx, id, now)
	if err != nil {
		return err
	}

	if n == 0 {
		return model.ErrUserNotFound
	}

	return nil
}

func toUser(u *db.User) *model.User {
	return &model.User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		OrderCount:   u.OrderCount,
		CreatedAt:    u.CreatedAt.UTC(),
		UpdatedAt:    u.UpdatedAt.UTC(),
	}
}

// notFound maps a missing row to target and leaves other errors untouched.
func notFound(err, target error) error {
	if errors.Is(err, db.ErrNoRows) {
		return target
	}

	return err
}
