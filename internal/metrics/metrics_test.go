package metrics

import (
	"log/slog"
	"os"
	"testing"

	"pmsurveil/internal/book"
)

func newTestCollector() *Collector {
	return NewCollector(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestRecordVenueSeq_NoGapOnMonotonic(t *testing.T) {
	t.Parallel()
	c := newTestCollector()
	k := book.Key{MarketID: "m1", OutcomeID: "yes"}
	c.RecordVenueSeq(k, 1)
	c.RecordVenueSeq(k, 2)
	c.RecordVenueSeq(k, 3)
	if got := c.Snapshot().GapCount; got != 0 {
		t.Fatalf("expected no gaps, got %d", got)
	}
}

func TestRecordVenueSeq_DetectsGap(t *testing.T) {
	t.Parallel()
	c := newTestCollector()
	k := book.Key{MarketID: "m1", OutcomeID: "yes"}
	c.RecordVenueSeq(k, 1)
	c.RecordVenueSeq(k, 5) // gap: expected 2
	if got := c.Snapshot().GapCount; got != 1 {
		t.Fatalf("expected 1 gap, got %d", got)
	}
}

func TestRecordVenueSeq_PerKeyNotGlobal(t *testing.T) {
	t.Parallel()
	c := newTestCollector()
	k1 := book.Key{MarketID: "m1", OutcomeID: "yes"}
	k2 := book.Key{MarketID: "m2", OutcomeID: "no"}

	// Interleaved, independently monotonic per key: must not count as gaps.
	c.RecordVenueSeq(k1, 1)
	c.RecordVenueSeq(k2, 1)
	c.RecordVenueSeq(k1, 2)
	c.RecordVenueSeq(k2, 2)

	if got := c.Snapshot().GapCount; got != 0 {
		t.Fatalf("interleaved per-key sequences should not produce gaps, got %d", got)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()
	c := newTestCollector()
	c.IncMessagesReceived()
	c.IncMessagesReceived()
	c.IncTransportErrors()
	c.IncUnknownTokens()
	c.SetSubscriptionCount(5)
	c.SetBufferedRows(42)

	snap := c.Snapshot()
	if snap.MessagesReceived != 2 || snap.TransportErrors != 1 || snap.UnknownTokens != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.SubscriptionCount != 5 || snap.BufferedRows != 42 {
		t.Fatalf("unexpected gauges: %+v", snap)
	}
}
