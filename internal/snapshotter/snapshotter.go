// Package snapshotter turns live order-book state into timestamped rows on
// two cadences (HOT and WARM) and hands them to the columnar writer. A key
// absent from the book store at snapshot time still produces an "empty"
// row: attendance is itself a signal.
package snapshotter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pmsurveil/internal/book"
	"pmsurveil/internal/schema"
)

// RowSink accepts one finished row for one venue. Implemented by
// writer.Writer; kept as a narrow interface here so this package has no
// compile-time dependency on the writer's Parquet internals.
type RowSink interface {
	Write(venue string, row schema.Row) error
}

// KeySource supplies the current HOT or WARM key set at call time. Backed
// by the subscription manager or the scheduler's last-computed tiers.
type KeySource func() []book.Key

// Snapshotter drives the two per-tier sampling loops for one venue.
type Snapshotter struct {
	venue  string
	store  *book.Store
	sink   RowSink
	topK   int
	logger *slog.Logger

	hotInterval  time.Duration
	warmInterval time.Duration
	hotKeys      KeySource
	warmKeys     KeySource

	crossedMu  sync.Mutex
	crossedDay map[book.Key]string // last UTC date a crossed book was logged per key
}

// New creates a snapshotter for one venue. hotKeys/warmKeys are called fresh
// on every tick so the snapshotter always samples the scheduler's current
// tiers rather than a stale copy.
func New(venue string, store *book.Store, sink RowSink, topK int, hotInterval, warmInterval time.Duration, hotKeys, warmKeys KeySource, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		venue:        venue,
		store:        store,
		sink:         sink,
		topK:         topK,
		hotInterval:  hotInterval,
		warmInterval: warmInterval,
		hotKeys:      hotKeys,
		warmKeys:     warmKeys,
		crossedDay:   make(map[book.Key]string),
		logger:       logger.With("component", "snapshotter", "venue", venue),
	}
}

// Run starts both the HOT and WARM sampling timers and blocks until ctx is
// cancelled.
func (s *Snapshotter) Run(ctx context.Context) {
	hotTicker := time.NewTicker(s.hotInterval)
	warmTicker := time.NewTicker(s.warmInterval)
	defer hotTicker.Stop()
	defer warmTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hotTicker.C:
			s.tick(s.hotKeys())
		case <-warmTicker.C:
			s.tick(s.warmKeys())
		}
	}
}

// tick samples every key in tier once. Rows within one tick are written in
// arbitrary order; no per-key ordering is guaranteed across ticks beyond
// each key's own strictly increasing ts_recv.
func (s *Snapshotter) tick(tier []book.Key) {
	now := time.Now().UnixMilli()
	for _, key := range tier {
		depth := s.store.Snapshot(key) // zero value (HasBook=false) if absent, producing an "empty" row
		if len(depth.Bids) > 0 && len(depth.Asks) > 0 && depth.Bids[0].Price >= depth.Asks[0].Price {
			s.logCrossed(key, depth, now)
		}
		row := schema.FromDepth(s.venue, key.MarketID, key.OutcomeID, now, depth, s.topK)
		if err := s.sink.Write(s.venue, row); err != nil {
			s.logger.Error("write row failed", "market_id", key.MarketID, "outcome_id", key.OutcomeID, "error", err)
		}
	}
}

// logCrossed records a crossed-book invariant violation at most once per key
// per UTC day; the row itself is already tagged partial by schema.FromDepth.
func (s *Snapshotter) logCrossed(key book.Key, depth book.Depth, tsMs int64) {
	day := time.UnixMilli(tsMs).UTC().Format("2006-01-02")

	s.crossedMu.Lock()
	logged := s.crossedDay[key] == day
	if !logged {
		s.crossedDay[key] = day
	}
	s.crossedMu.Unlock()

	if !logged {
		s.logger.Warn("crossed book",
			"market_id", key.MarketID, "outcome_id", key.OutcomeID,
			"best_bid", depth.Bids[0].Price, "best_ask", depth.Asks[0].Price,
		)
	}
}
