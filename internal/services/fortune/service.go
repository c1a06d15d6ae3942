package fortune

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mcoot/fortunegame/internal/dependencies/clock"
	"github.com/mcoot/fortunegame/internal/dependencies/random"
	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/storage"
)

// Service selects, records and accepts fortunes
type Service struct {
	storage storage.Storage
	random  random.Random
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a new fortune Service
func New(storage storage.Storage, random random.Random, clock clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		storage: storage,
		random:  random,
		clock:   clock,
		logger:  logger.With(slog.String("component", "fortune")),
	}
}

// PickRandom returns a uniformly chosen fortune from category, or from every
// fortune when category is nil. An empty category other than the default
// falls back to the default category once. When nothing matches, the
// NotFoundFortune sentinel is returned instead of an error.
// Every fortune actually picked carries a fresh set of lucky numbers; the
// sentinel carries none.
func (s *Service) PickRandom(ctx context.Context, category *model.Category) (*model.Fortune, error) {
	fortunes, err := s.storage.QueryFortunes(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("query fortunes: %w", err)
	}

	if len(fortunes) == 0 && category != nil && *category != model.DefaultCategory {
		s.logger.Debug("category empty, falling back to default",
			slog.String("category", category.String()))
		fallback := model.DefaultCategory
		fortunes, err = s.storage.QueryFortunes(ctx, &fallback)
		if err != nil {
			return nil, fmt.Errorf("query fallback fortunes: %w", err)
		}
	}

	if len(fortunes) == 0 {
		return model.NotFoundFortune(), nil
	}

	picked := fortunes[s.random.Intn(len(fortunes))].Clone()
	picked.LuckyNumbers = s.luckyNumbers()
	return picked, nil
}

// luckyNumbers draws LuckyNumberCount values in [1, LuckyNumberMax], sorted.
// Repeats are allowed.
func (s *Service) luckyNumbers() []int {
	numbers := make([]int, model.LuckyNumberCount)
	for i := range numbers {
		numbers[i] = s.random.Intn(model.LuckyNumberMax) + 1
	}
	slices.Sort(numbers)
	return numbers
}

// Submit stores a new Common fortune. submitter is nil for anonymous submissions.
func (s *Service) Submit(ctx context.Context, text string, category model.Category, submitter *model.UserID) (*model.Fortune, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.ErrEmptyFortuneText
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidCategory, int(category))
	}

	f, err := s.storage.CreateFortune(ctx, &model.Fortune{
		Text:          text,
		Category:      category,
		Rarity:        model.RarityCommon,
		AddedByUserID: submitter,
		CreatedAt:     s.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create fortune: %w", err)
	}

	s.logger.Info("fortune submitted",
		slog.Int64("fortune_id", int64(f.ID)),
		slog.String("category", category.String()),
		slog.Bool("anonymous", submitter == nil))
	return f, nil
}

// BySubmitter returns the fortunes a user submitted, newest first
func (s *Service) BySubmitter(ctx context.Context, userID model.UserID) ([]*model.Fortune, error) {
	fortunes, err := s.storage.FortunesBySubmitter(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fortunes by submitter: %w", err)
	}
	return fortunes, nil
}

// RecordDelivery appends a history entry for a fortune delivered to a user.
// The sentinel fortune has no id and is not recorded.
func (s *Service) RecordDelivery(ctx context.Context, userID model.UserID, f *model.Fortune) error {
	if f.ID == 0 {
		return nil
	}
	if err := s.storage.AppendHistory(ctx, userID, f.ID, s.clock.Now()); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns what a user has received, newest first
func (s *Service) History(ctx context.Context, userID model.UserID) ([]model.HistoryRecord, error) {
	records, err := s.storage.HistoryForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return records, nil
}
