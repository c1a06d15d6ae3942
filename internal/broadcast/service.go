// Package broadcast announces fortunes to every listener on a multicast group
// and lets clients subscribe to those announcements.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcoot/fortunegame/internal/dependencies/clock"
	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/protocol"
)

// publishTimeout bounds a single datagram send
const publishTimeout = 5 * time.Second

// Picker chooses the fortune to announce
type Picker interface {
	PickRandom(ctx context.Context, category *model.Category) (*model.Fortune, error)
}

// Service periodically publishes a random fortune as a Broadcast packet.
// It runs independently of client connections.
type Service struct {
	picker    Picker
	publisher Publisher
	clock     clock.Clock
	interval  time.Duration
	logger    *slog.Logger
}

// NewService creates a broadcaster publishing every interval
func NewService(picker Picker, publisher Publisher, clock clock.Clock, interval time.Duration, logger *slog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	return &Service{
		picker:    picker,
		publisher: publisher,
		clock:     clock,
		interval:  interval,
		logger:    logger.With(slog.String("component", "broadcast")),
	}
}

// Run publishes once per interval until ctx is cancelled. Failed broadcasts
// are logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("broadcaster started", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("broadcaster stopped")
			return nil
		case <-ticker.C():
			if err := s.BroadcastOnce(ctx); err != nil {
				s.logger.Warn("broadcast failed", slog.Any("error", err))
			}
		}
	}
}

// BroadcastOnce picks an unfiltered fortune and publishes it
func (s *Service) BroadcastOnce(ctx context.Context) error {
	f, err := s.picker.PickRandom(ctx, nil)
	if err != nil {
		return fmt.Errorf("pick fortune: %w", err)
	}

	packet, err := protocol.Encode(protocol.TypeBroadcast, protocol.FromFortune(f))
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(sendCtx, packet); err != nil {
		return err
	}

	s.logger.Debug("fortune broadcast", slog.Int64("fortune_id", int64(f.ID)))
	return nil
}

// Close releases the publisher
func (s *Service) Close() error {
	return s.publisher.Close()
}
