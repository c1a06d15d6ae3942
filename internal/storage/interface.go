package storage

import (
	"context"
	"time"

	"github.com/mcoot/fortunegame/internal/model"
)

// Storage defines the interface for data persistence.
// Implementations must be safe for concurrent use and every operation must be
// visible to subsequent calls as soon as it returns.
type Storage interface {
	// User operations
	FindUserByCredentials(ctx context.Context, username, password string) (*model.User, error)
	UserExists(ctx context.Context, username string) (bool, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	CreateUser(ctx context.Context, username, password string, at time.Time) (*model.User, error)

	// Fortune operations
	QueryFortunes(ctx context.Context, category *model.Category) ([]*model.Fortune, error)
	CreateFortune(ctx context.Context, f *model.Fortune) (*model.Fortune, error)
	FortunesBySubmitter(ctx context.Context, userID model.UserID) ([]*model.Fortune, error)
	SeedFortunes(ctx context.Context, fortunes []*model.Fortune) (int, error)

	// History operations
	AppendHistory(ctx context.Context, userID model.UserID, fortuneID model.FortuneID, at time.Time) error
	HistoryForUser(ctx context.Context, userID model.UserID) ([]model.HistoryRecord, error)

	Close() error
}
