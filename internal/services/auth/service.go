package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mcoot/fortunegame/internal/dependencies/clock"
	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/storage"
)

// Service handles account registration and credential checks.
// Sessions are tracked per connection by the session registry, not here.
type Service struct {
	storage storage.Storage
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a new auth Service
func New(storage storage.Storage, clock clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		storage: storage,
		clock:   clock,
		logger:  logger.With(slog.String("component", "auth")),
	}
}

// Register creates an account with zero reputation. It does not log in.
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, model.ErrMissingCredentials
	}

	exists, err := s.storage.UserExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, model.ErrUsernameTaken
	}

	// CreateUser rejects a concurrent registration that won the race
	user, err := s.storage.CreateUser(ctx, username, password, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.String("username", username),
		slog.Int64("user_id", int64(user.ID)))
	return user, nil
}

// Login verifies credentials and returns the matching user
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, error) {
	if username == "" || password == "" {
		return nil, model.ErrInvalidCredentials
	}

	user, err := s.storage.FindUserByCredentials(ctx, username, password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			s.logger.Info("login rejected", slog.String("username", username))
		}
		return nil, err
	}
	return user, nil
}
