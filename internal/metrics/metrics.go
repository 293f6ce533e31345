// Package metrics implements the collector's counters and per-key gap
// detector. Process-wide counters are used only for quantities with no
// domain semantics (messages received, transport errors); anything keyed by
// sequence semantics lives per-key, never globally, because interleaved
// updates across keys make a global sequence counter report false gaps.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pmsurveil/internal/book"
)

// Snapshot is a point-in-time read of all counters, used by the periodic
// reporter and the status HTTP surface.
type Snapshot struct {
	MessagesReceived  int64 `json:"messages_received"`
	UpdatesApplied    int64 `json:"updates_applied"`
	SubscriptionCount int64 `json:"subscription_count"`
	BufferedRows      int64 `json:"buffered_rows"`
	TransportErrors   int64 `json:"transport_errors"`
	UnknownTokens     int64 `json:"unknown_tokens"`
	DroppedFrames     int64 `json:"dropped_frames"`
	RowsDropped       int64 `json:"rows_dropped"`
	GapCount          int64 `json:"gap_count"` // summed across all keys
}

type gapState struct {
	expected int64
	haveSeq  bool
	gaps     atomic.Int64
}

// Collector holds all atomic counters plus the per-key gap-detector state.
type Collector struct {
	logger *slog.Logger

	messagesReceived  atomic.Int64
	updatesApplied    atomic.Int64
	subscriptionCount atomic.Int64
	bufferedRows      atomic.Int64
	transportErrors   atomic.Int64
	unknownTokens     atomic.Int64
	droppedFrames     atomic.Int64
	rowsDropped       atomic.Int64

	gapMu sync.Mutex
	gaps  map[book.Key]*gapState
}

// NewCollector creates a metrics collector.
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger.With("component", "metrics"),
		gaps:   make(map[book.Key]*gapState),
	}
}

func (c *Collector) IncMessagesReceived() { c.messagesReceived.Add(1) }
func (c *Collector) IncUpdatesApplied()   { c.updatesApplied.Add(1) }
func (c *Collector) IncTransportErrors()  { c.transportErrors.Add(1) }
func (c *Collector) IncUnknownTokens()    { c.unknownTokens.Add(1) }
func (c *Collector) IncDroppedFrames()    { c.droppedFrames.Add(1) }

func (c *Collector) SetSubscriptionCount(n int) { c.subscriptionCount.Store(int64(n)) }
func (c *Collector) SetBufferedRows(n int64) { c.bufferedRows.Store(n) }
func (c *Collector) SetRowsDropped(n int64) { c.rowsDropped.Store(n) }

// RecordVenueSeq checks an incoming venue-provided sequence number against
// the expected next value for key, incrementing that key's gap counter on
// mismatch. Venues that don't provide sequence numbers should never call
// this; the gap count then stays at zero.
func (c *Collector) RecordVenueSeq(key book.Key, venueSeq int64) {
	c.gapMu.Lock()
	defer c.gapMu.Unlock()

	g, ok := c.gaps[key]
	if !ok {
		g = &gapState{}
		c.gaps[key] = g
	}
	if g.haveSeq && venueSeq != g.expected {
		g.gaps.Add(1)
	}
	g.expected = venueSeq + 1
	g.haveSeq = true
}

// Snapshot returns a consistent read of all counters.
func (c *Collector) Snapshot() Snapshot {
	c.gapMu.Lock()
	var totalGaps int64
	for _, g := range c.gaps {
		totalGaps += g.gaps.Load()
	}
	c.gapMu.Unlock()

	return Snapshot{
		MessagesReceived:  c.messagesReceived.Load(),
		UpdatesApplied:    c.updatesApplied.Load(),
		SubscriptionCount: c.subscriptionCount.Load(),
		BufferedRows:      c.bufferedRows.Load(),
		TransportErrors:   c.transportErrors.Load(),
		UnknownTokens:     c.unknownTokens.Load(),
		DroppedFrames:     c.droppedFrames.Load(),
		RowsDropped:       c.rowsDropped.Load(),
		GapCount:          totalGaps,
	}
}

// Run fires the 60-second summary reporter until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.report()
		}
	}
}

func (c *Collector) report() {
	snap := c.Snapshot()
	c.logger.Info("metrics summary",
		"messages_received", snap.MessagesReceived,
		"updates_applied", snap.UpdatesApplied,
		"subscription_count", snap.SubscriptionCount,
		"buffered_rows", snap.BufferedRows,
		"transport_errors", snap.TransportErrors,
		"unknown_tokens", snap.UnknownTokens,
		"dropped_frames", snap.DroppedFrames,
		"rows_dropped", snap.RowsDropped,
		"gap_count", snap.GapCount,
	)
}
