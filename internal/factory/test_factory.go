package factory

import (
	"context"
	"sync"
	"time"

	"github.com/mcoot/fortunegame/internal/dependencies/mocks"
	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/server"
	"github.com/mcoot/fortunegame/internal/storage/memory"
	"github.com/mcoot/fortunegame/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock     *mocks.MockClock
	MockRandom    *mocks.MockRandom
	MockPublisher *MockPublisher
}

// NewTestApp creates an App configured for testing with mocked dependencies.
// The broadcaster publishes to MockPublisher and ticks only via MockClock.
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()
	publisher := &MockPublisher{}

	cfg := Config{
		Server: server.Config{Addr: "127.0.0.1:0", RatePerSecond: 1000, RateBurst: 1000},
	}
	app := newWithDependencies(store, mockClock, mockRandom, publisher, cfg, testutil.NopLogger())

	return &TestApp{
		App:           app,
		MockClock:     mockClock,
		MockRandom:    mockRandom,
		MockPublisher: publisher,
	}
}

// AddFortunes stores one fortune per text in category
func (t *TestApp) AddFortunes(ctx context.Context, category model.Category, texts ...string) error {
	for _, text := range texts {
		if _, err := t.Storage.CreateFortune(ctx, &model.Fortune{
			Text:      text,
			Category:  category,
			CreatedAt: t.MockClock.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// MockPublisher records broadcast packets instead of sending them
type MockPublisher struct {
	mu      sync.Mutex
	packets [][]byte
	closed  bool
}

func (p *MockPublisher) Publish(_ context.Context, packet []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packets = append(p.packets, packet)
	return nil
}

func (p *MockPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Packets returns every packet published so far
func (p *MockPublisher) Packets() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.packets...)
}

// Closed reports whether Close has been called
func (p *MockPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
