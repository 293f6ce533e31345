package venue

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"pmsurveil/internal/book"
)

// MockAdapter is a synthetic venue satisfying the same capability set as
// WSAdapter, applying a fresh one-level snapshot (one bid, one ask) to every
// subscribed key on each tick with no network. It emits no delta updates. Used for local dev and end-to-end tests when
// mock.enabled=true.
type MockAdapter struct {
	store  *book.Store
	logger *slog.Logger
	rate   time.Duration

	subMu      sync.RWMutex
	subscribed map[string]book.Key
}

// NewMockAdapter creates a synthetic adapter. tick controls how often it
// emits an update per subscribed key.
func NewMockAdapter(store *book.Store, tick time.Duration, logger *slog.Logger) *MockAdapter {
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	return &MockAdapter{
		store:      store,
		logger:     logger.With("component", "venue", "venue", "mock"),
		rate:       tick,
		subscribed: make(map[string]book.Key),
	}
}

// Run generates book updates for every subscribed token until ctx is done.
func (m *MockAdapter) Run(ctx context.Context) {
	ticker := time.NewTicker(m.rate)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(1))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(rng)
		}
	}
}

func (m *MockAdapter) tick(rng *rand.Rand) {
	m.subMu.RLock()
	keys := make([]book.Key, 0, len(m.subscribed))
	for _, k := range m.subscribed {
		keys = append(keys, k)
	}
	m.subMu.RUnlock()

	for _, key := range keys {
		mid := 0.3 + rng.Float64()*0.4
		spread := 0.01 + rng.Float64()*0.02
		bid := mid - spread/2
		ask := mid + spread/2
		m.store.ApplySnapshot(key,
			[]book.Level{{Price: round4(bid), Size: 100 + rng.Float64()*500}},
			[]book.Level{{Price: round4(ask), Size: 100 + rng.Float64()*500}},
			time.Now().UnixMilli(),
		)
	}
}

func round4(f float64) float64 {
	return float64(int64(f*10000)) / 10000
}

// Subscribe registers tokens as keys; the token value is reused as the
// market ID since mock data has no real universe behind it.
func (m *MockAdapter) Subscribe(tokens []string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, t := range tokens {
		m.subscribed[t] = book.Key{MarketID: t, OutcomeID: "mock"}
	}
}

// Unsubscribe removes tokens from the synthetic subscription set.
func (m *MockAdapter) Unsubscribe(tokens []string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, t := range tokens {
		delete(m.subscribed, t)
	}
}

// Subscribed returns the current synthetic subscription set.
func (m *MockAdapter) Subscribed() []string {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	tokens := make([]string, 0, len(m.subscribed))
	for t := range m.subscribed {
		tokens = append(tokens, t)
	}
	return tokens
}
