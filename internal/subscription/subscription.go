// Package subscription owns the live subscription set and reconciles it
// against a scheduler-desired set within a sliding-window churn budget. It
// is the single mutator of the subscribed-token set: the scheduler only
// computes what it wants; this package decides what the adapter is actually
// told.
package subscription

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"pmsurveil/internal/book"
)

// Adapter is the subset of venue.Adapter the manager needs to issue
// subscribe/unsubscribe commands. Declared locally (rather than importing
// venue) to keep this package's dependency graph one-directional.
type Adapter interface {
	Subscribe(tokens []string)
	Unsubscribe(tokens []string)
}

// Resolver maps a book key to its venue token, the inverse of the lookup the
// adapter uses to go the other way.
type Resolver interface {
	Token(key book.Key) (string, bool)
}

// Manager owns the current subscription set for one venue and reconciles it
// against desired HOT+WARM sets under a per-minute churn budget.
type Manager struct {
	adapter    Adapter
	resolver   Resolver
	churnLimit int
	logger     *slog.Logger

	mu      sync.Mutex
	current map[book.Key]struct{}
	events  []time.Time // sliding 60s churn window, oldest first
}

// New creates a subscription manager for one venue.
func New(adapter Adapter, resolver Resolver, churnLimitPerMinute int, logger *slog.Logger) *Manager {
	return &Manager{
		adapter:    adapter,
		resolver:   resolver,
		churnLimit: churnLimitPerMinute,
		logger:     logger.With("component", "subscription"),
		current:    make(map[book.Key]struct{}),
	}
}

// Current returns the live subscription set.
func (m *Manager) Current() []book.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]book.Key, 0, len(m.current))
	for k := range m.current {
		keys = append(keys, k)
	}
	return keys
}

// Len reports the number of keys currently subscribed.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.current)
}

// Reconcile computes to_add = desired - current and to_remove = current -
// desired, caps the combined diff at the remaining per-minute churn budget
// (removals first, preferring warm over hot, then adds), issues the
// resulting subscribe/unsubscribe calls, and returns the number of
// operations actually performed. Whatever didn't fit the budget is picked
// up by a later cycle. Repeated calls with the same desired set are a
// no-op (idempotent).
func (m *Manager) Reconcile(now time.Time, hot, warm []book.Key) int {
	desired := make(map[book.Key]struct{}, len(hot)+len(warm))
	for _, k := range hot {
		desired[k] = struct{}{}
	}
	isHot := make(map[book.Key]struct{}, len(hot))
	for _, k := range hot {
		isHot[k] = struct{}{}
	}
	for _, k := range warm {
		desired[k] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneWindow(now)

	var toAdd, toRemoveWarm, toRemoveHot []book.Key
	for k := range desired {
		if _, ok := m.current[k]; !ok {
			toAdd = append(toAdd, k)
		}
	}
	for k := range m.current {
		if _, ok := desired[k]; ok {
			continue
		}
		if _, hot := isHot[k]; hot {
			// HOT keys are never dropped to make room; a HOT key can only
			// disappear here if it fell out of HOT *and* WARM both, which
			// Desired() never produces, but guard anyway.
			toRemoveHot = append(toRemoveHot, k)
			continue
		}
		toRemoveWarm = append(toRemoveWarm, k)
	}
	sortKeys(toAdd)
	sortKeys(toRemoveWarm)
	sortKeys(toRemoveHot)

	budget := m.churnLimit - len(m.events)
	if budget < 0 {
		budget = 0
	}

	var removes, adds []book.Key
	removes = appendWithinBudget(removes, toRemoveWarm, &budget)
	removes = appendWithinBudget(removes, toRemoveHot, &budget)
	adds = appendWithinBudget(adds, toAdd, &budget)

	if deferred := (len(toAdd) - len(adds)) + (len(toRemoveWarm)+len(toRemoveHot)-len(removes)); deferred > 0 {
		m.logger.Debug("churn budget exhausted, deferring operations", "deferred", deferred)
	}

	removeTokens, resolvedRemoves := m.tokensOf(removes)
	addTokens, resolvedAdds := m.tokensOf(adds)
	if len(removeTokens) > 0 {
		m.adapter.Unsubscribe(removeTokens)
	}
	if len(addTokens) > 0 {
		m.adapter.Subscribe(addTokens)
	}

	for _, k := range resolvedRemoves {
		delete(m.current, k)
	}
	for _, k := range resolvedAdds {
		m.current[k] = struct{}{}
	}

	ops := len(resolvedRemoves) + len(resolvedAdds)
	for i := 0; i < ops; i++ {
		m.events = append(m.events, now)
	}
	return ops
}

func appendWithinBudget(dst, src []book.Key, budget *int) []book.Key {
	for _, k := range src {
		if *budget <= 0 {
			break
		}
		dst = append(dst, k)
		*budget--
	}
	return dst
}

// pruneWindow drops churn events older than 60s from the sliding window.
// Caller must hold m.mu.
func (m *Manager) pruneWindow(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(m.events) && m.events[i].Before(cutoff) {
		i++
	}
	m.events = m.events[i:]
}

// tokensOf resolves each key to its venue token, returning only the keys
// that actually resolved (paired 1:1 with the returned tokens) so the
// caller's bookkeeping of m.current never diverges from what was really
// sent over the wire.
func (m *Manager) tokensOf(keys []book.Key) (tokens []string, resolved []book.Key) {
	tokens = make([]string, 0, len(keys))
	resolved = make([]book.Key, 0, len(keys))
	for _, k := range keys {
		if t, ok := m.resolver.Token(k); ok {
			tokens = append(tokens, t)
			resolved = append(resolved, k)
		} else {
			m.logger.Warn("no token for key, dropping from reconcile", "market_id", k.MarketID, "outcome_id", k.OutcomeID)
		}
	}
	return tokens, resolved
}

func sortKeys(keys []book.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].MarketID != keys[j].MarketID {
			return keys[i].MarketID < keys[j].MarketID
		}
		return keys[i].OutcomeID < keys[j].OutcomeID
	})
}
