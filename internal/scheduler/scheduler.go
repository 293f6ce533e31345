// Package scheduler computes the desired HOT/WARM subscription set from the
// universe and optional stats: filter the universe, rank the survivors,
// keep a stable HOT prefix, and rotate a WARM cursor over the rest.
package scheduler

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"pmsurveil/internal/book"
	"pmsurveil/internal/config"
	"pmsurveil/internal/universe"
)

// Stats is the optional per-key statistics the scheduler uses to rank
// eligible keys. When a StatsProvider has no entry for a key, the key
// ranks last among stats-bearing keys and ties are broken lexicographically.
type Stats struct {
	AvgUpdates float64
	AvgSpread  float64
	AvgDepth   float64
}

// StatsProvider supplies recent per-key statistics, produced by the offline
// analytics job and read back from `{root}/stats/...`.
type StatsProvider interface {
	Stats(key book.Key) (Stats, bool)
}

// NoStats is a StatsProvider with no data; every key ties and falls back to
// lexicographic ordering.
type NoStats struct{}

func (NoStats) Stats(book.Key) (Stats, bool) { return Stats{}, false }

// Scheduler computes the desired subscription set for one venue.
type Scheduler struct {
	cfg    config.VenueConfig
	uni    *universe.Universe
	stats  StatsProvider
	logger *slog.Logger

	mu           sync.Mutex
	hotSet       map[book.Key]struct{}
	warmSet      []book.Key
	warmCursor   int
	lastRotation time.Time
}

// New creates a scheduler for one venue's configuration and universe.
func New(cfg config.VenueConfig, uni *universe.Universe, stats StatsProvider, logger *slog.Logger) *Scheduler {
	if stats == nil {
		stats = NoStats{}
	}
	return &Scheduler{
		cfg:    cfg,
		uni:    uni,
		stats:  stats,
		logger: logger.With("component", "scheduler"),
		hotSet: make(map[book.Key]struct{}),
	}
}

// Desired returns the current HOT and WARM sets. HOT only changes when the
// computed top-N set actually differs from the current one. WARM only
// rotates once RotationPeriod has elapsed since the last rotation.
func (s *Scheduler) Desired(now time.Time) (hot, warm []book.Key) {
	ranked := s.rank(now)
	hotSize := s.cfg.HotSize()
	if hotSize > len(ranked) {
		hotSize = len(ranked)
	}
	newHot := ranked[:hotSize]

	s.mu.Lock()
	defer s.mu.Unlock()

	if !sameKeySet(newHot, s.hotSet) {
		s.hotSet = keySetOf(newHot)
	}
	hotKeys := keysOf(s.hotSet)

	remaining := s.cfg.MaxSubs - len(hotKeys)
	if remaining < 0 {
		remaining = 0
	}

	candidates := excluding(ranked, s.hotSet)

	shouldRotate := s.lastRotation.IsZero() || now.Sub(s.lastRotation) >= s.cfg.RotationPeriod
	if shouldRotate {
		s.warmSet = s.nextWarmWindow(candidates, remaining)
		s.lastRotation = now
	}

	return hotKeys, append([]book.Key(nil), s.warmSet...)
}

// nextWarmWindow takes the next `count` keys starting at warmCursor,
// wrapping, and advances the cursor by that count.
func (s *Scheduler) nextWarmWindow(candidates []book.Key, count int) []book.Key {
	if len(candidates) == 0 || count <= 0 {
		s.warmCursor = 0
		return nil
	}
	if count > len(candidates) {
		count = len(candidates)
	}
	if s.warmCursor >= len(candidates) {
		s.warmCursor = 0
	}

	window := make([]book.Key, 0, count)
	for i := 0; i < count; i++ {
		idx := (s.warmCursor + i) % len(candidates)
		window = append(window, candidates[idx])
	}
	s.warmCursor = (s.warmCursor + count) % len(candidates)
	return window
}

// rank returns every eligible key sorted by score descending: primary
// AvgUpdates, tie-break AvgDepth then 1/AvgSpread, final tie-break
// lexicographic (market_id, outcome_id).
func (s *Scheduler) rank(now time.Time) []book.Key {
	keys := s.eligibleKeys(now)
	sort.Slice(keys, func(i, j int) bool {
		a, aok := s.stats.Stats(keys[i])
		b, bok := s.stats.Stats(keys[j])
		if !aok && !bok {
			return lexLess(keys[i], keys[j])
		}
		if aok != bok {
			return aok // the one with stats ranks first
		}
		if a.AvgUpdates != b.AvgUpdates {
			return a.AvgUpdates > b.AvgUpdates
		}
		if a.AvgDepth != b.AvgDepth {
			return a.AvgDepth > b.AvgDepth
		}
		if a.AvgSpread != b.AvgSpread {
			return a.AvgSpread < b.AvgSpread // inverse spread: tighter spread ranks higher
		}
		return lexLess(keys[i], keys[j])
	})
	return keys
}

func (s *Scheduler) eligibleKeys(now time.Time) []book.Key {
	var keys []book.Key
	for _, e := range s.uni.Entries {
		if s.excludedByTitle(e.Title) {
			continue
		}
		if s.cfg.MinHoursUntilClose > 0 {
			hoursUntilClose := float64(e.CloseTs-now.UnixMilli()) / 3600_000
			if hoursUntilClose < s.cfg.MinHoursUntilClose {
				continue
			}
		}
		for _, outcomeID := range e.OutcomeIDs {
			keys = append(keys, book.Key{MarketID: e.MarketID, OutcomeID: outcomeID})
		}
	}
	return keys
}

func (s *Scheduler) excludedByTitle(title string) bool {
	for _, pattern := range s.cfg.ExcludeTitlePatterns {
		if pattern != "" && strings.Contains(title, pattern) {
			return true
		}
	}
	return false
}

func lexLess(a, b book.Key) bool {
	if a.MarketID != b.MarketID {
		return a.MarketID < b.MarketID
	}
	return a.OutcomeID < b.OutcomeID
}

func sameKeySet(keys []book.Key, set map[book.Key]struct{}) bool {
	if len(keys) != len(set) {
		return false
	}
	for _, k := range keys {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

func keySetOf(keys []book.Key) map[book.Key]struct{} {
	set := make(map[book.Key]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func keysOf(set map[book.Key]struct{}) []book.Key {
	keys := make([]book.Key, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

func excluding(keys []book.Key, exclude map[book.Key]struct{}) []book.Key {
	out := make([]book.Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := exclude[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
