package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	users         map[model.UserID]*model.User
	usernameIndex map[string]model.UserID
	fortunes      map[model.FortuneID]*model.Fortune
	history       []model.HistoryEntry

	nextUserID    model.UserID
	nextFortuneID model.FortuneID
	nextHistoryID model.HistoryEntryID
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		users:         make(map[model.UserID]*model.User),
		usernameIndex: make(map[string]model.UserID),
		fortunes:      make(map[model.FortuneID]*model.Fortune),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Close is a no-op
func (s *Storage) Close() error {
	return nil
}

// User operations

func (s *Storage) FindUserByCredentials(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, model.ErrInvalidCredentials
	}
	if !storage.CredentialMatches(user.CredentialHash, password) {
		return nil, model.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Storage) UserExists(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.usernameIndex[username]
	return ok, nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernameIndex[username]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	user := *s.users[id]
	return &user, nil
}

func (s *Storage) CreateUser(ctx context.Context, username, password string, at time.Time) (*model.User, error) {
	// Hash outside the lock; bcrypt is slow
	hash, err := storage.HashCredential(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernameIndex[username]; ok {
		return nil, model.ErrUsernameTaken
	}

	s.nextUserID++
	user := &model.User{
		ID:             s.nextUserID,
		Username:       username,
		CredentialHash: hash,
		CreatedAt:      at,
	}
	s.users[user.ID] = user
	s.usernameIndex[username] = user.ID

	out := *user
	return &out, nil
}

// Fortune operations

func (s *Storage) QueryFortunes(ctx context.Context, category *model.Category) ([]*model.Fortune, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Fortune
	for _, f := range s.fortunes {
		if category == nil || f.Category == *category {
			result = append(result, f.Clone())
		}
	}
	storage.SortFortunesByID(result)
	return result, nil
}

func (s *Storage) CreateFortune(ctx context.Context, f *model.Fortune) (*model.Fortune, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertFortune(f), nil
}

// insertFortune stores a copy of f under a fresh id. Caller must hold the lock.
func (s *Storage) insertFortune(f *model.Fortune) *model.Fortune {
	s.nextFortuneID++
	stored := f.Clone()
	stored.ID = s.nextFortuneID
	stored.LuckyNumbers = nil
	s.fortunes[stored.ID] = stored
	return stored.Clone()
}

func (s *Storage) FortunesBySubmitter(ctx context.Context, userID model.UserID) ([]*model.Fortune, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Fortune
	for _, f := range s.fortunes {
		if f.AddedByUserID != nil && *f.AddedByUserID == userID {
			result = append(result, f.Clone())
		}
	}
	storage.SortFortunesNewestFirst(result)
	return result, nil
}

func (s *Storage) SeedFortunes(ctx context.Context, fortunes []*model.Fortune) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fortunes) > 0 {
		return 0, nil
	}
	for _, f := range fortunes {
		s.insertFortune(f)
	}
	return len(fortunes), nil
}

// History operations

func (s *Storage) AppendHistory(ctx context.Context, userID model.UserID, fortuneID model.FortuneID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return model.ErrUserNotFound
	}
	if _, ok := s.fortunes[fortuneID]; !ok {
		return model.ErrFortuneNotFound
	}
	s.nextHistoryID++
	s.history = append(s.history, model.HistoryEntry{
		ID:         s.nextHistoryID,
		UserID:     userID,
		FortuneID:  fortuneID,
		ReceivedAt: at,
	})
	return nil
}

func (s *Storage) HistoryForUser(ctx context.Context, userID model.UserID) ([]model.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []model.HistoryEntry
	for _, e := range s.history {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	storage.SortHistoryNewestFirst(entries)

	result := make([]model.HistoryRecord, 0, len(entries))
	for _, e := range entries {
		f := s.fortunes[e.FortuneID]
		result = append(result, model.HistoryRecord{
			FortuneText: f.Text,
			Rarity:      f.Rarity,
			Date:        e.ReceivedAt,
		})
	}
	return result, nil
}
