package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/jnst/traceable-outbox/internal/model"
	"github.com/jnst/traceable-outbox/internal/repository"
)

// UserServiceImpl implements UserService for user management business logic.
type UserServiceImpl struct {
	userRepo repository.UserRepository
	recorder EventRecorder

	now          Clock
	passwordCost int
}

// UserOption configures UserServiceImpl.
type UserOption func(*UserServiceImpl)

// WithUserClock replaces the wall clock.
func WithUserClock(now Clock) UserOption {
	return func(s *UserServiceImpl) { s.now = now }
}

// WithPasswordCost sets the bcrypt cost.
func WithPasswordCost(cost int) UserOption {
	return func(s *UserServiceImpl) { s.passwordCost = cost }
}

// NewUserServiceImpl creates a new UserService implementation.
func NewUserServiceImpl(userRepo repository.UserRepository, recorder EventRecorder, opts ...UserOption) UserService {
	s := &UserServiceImpl{
		userRepo:     userRepo,
		recorder:     recorder,
		now:          utcNow,
		passwordCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateUser creates a new user and records a user-created event with it. A
// taken email fails with model.ErrDuplicateEmail and leaves no trace.
func (s *UserServiceImpl) CreateUser(ctx context.Context, params *model.CreateUserParams) (*model.User, error) {
	params.Normalize()

	if err := params.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), s.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var createdUser *model.User

	err = s.recorder.RecordChange(ctx, func(ctx context.Context) ([]*model.DomainEvent, error) {
		// the unique index still catches a concurrent insert
		_, err := s.userRepo.GetByEmail(ctx, params.Email)
		switch {
		case err == nil:
			return nil, model.ErrDuplicateEmail
		case !errors.Is(err, model.ErrUserNotFound):
			return nil, err
		}

		user, err := s.userRepo.Create(ctx, &model.User{
			Username:     params.Username,
			Email:        params.Email,
			PasswordHash: hash,
			CreatedAt:    s.now(),
		})
		if err != nil {
			return nil, err
		}

		createdUser = user

		return []*model.DomainEvent{model.NewUserCreatedEvent(user)}, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			slog.WarnContext(ctx, "user creation rejected, email taken", slog.String("email", params.Email))
		}

		return nil, err
	}

	slog.InfoContext(ctx, "user created",
		slog.Int64("user_id", createdUser.ID),
		slog.String("username", createdUser.Username),
	)

	return createdUser, nil
}

// GetUser retrieves a user by ID.
func (s *UserServiceImpl) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// ListUsers returns all users.
func (s *UserServiceImpl) ListUsers(ctx context.Context) ([]*model.User, error) {
	return s.userRepo.List(ctx)
}
