package book

import (
	"testing"
	"time"
)

func TestApplySnapshotThenDelta(t *testing.T) {
	t.Parallel()
	s := NewStore()
	k := Key{MarketID: "m1", OutcomeID: "yes"}

	s.ApplySnapshot(k, []Level{{0.50, 100}, {0.49, 200}}, []Level{{0.53, 150}}, 1000)
	s.ApplyDelta(k, []Change{{Side: Bid, Price: 0.50, Size: 0}}, 1001)

	d := s.Snapshot(k)
	if len(d.Bids) != 1 || d.Bids[0] != (Level{0.49, 200}) {
		t.Fatalf("unexpected bids: %+v", d.Bids)
	}
	if len(d.Asks) != 1 || d.Asks[0] != (Level{0.53, 150}) {
		t.Fatalf("unexpected asks: %+v", d.Asks)
	}
}

func TestApplyDelta_NoSnapshotYet(t *testing.T) {
	t.Parallel()
	s := NewStore()
	k := Key{MarketID: "m1", OutcomeID: "no"}

	s.ApplyDelta(k, []Change{{Side: Bid, Price: 0.20, Size: 50}}, 0)

	d := s.Snapshot(k)
	if !d.HasBook {
		t.Fatal("expected HasBook true after delta-first rebuild")
	}
	if len(d.Bids) != 1 || d.Bids[0].Price != 0.20 {
		t.Fatalf("unexpected bids: %+v", d.Bids)
	}
}

func TestSnapshot_UnknownKey(t *testing.T) {
	t.Parallel()
	s := NewStore()
	d := s.Snapshot(Key{MarketID: "nope"})
	if d.HasBook {
		t.Fatal("expected HasBook false for untouched key")
	}
}

func TestSnapshot_OrderingDescendingAscending(t *testing.T) {
	t.Parallel()
	s := NewStore()
	k := Key{MarketID: "m1", OutcomeID: "yes"}
	s.ApplySnapshot(k,
		[]Level{{0.10, 1}, {0.30, 1}, {0.20, 1}},
		[]Level{{0.90, 1}, {0.70, 1}, {0.80, 1}},
		0,
	)
	d := s.Snapshot(k)
	for i := 1; i < len(d.Bids); i++ {
		if d.Bids[i-1].Price < d.Bids[i].Price {
			t.Fatalf("bids not descending: %+v", d.Bids)
		}
	}
	for i := 1; i < len(d.Asks); i++ {
		if d.Asks[i-1].Price > d.Asks[i].Price {
			t.Fatalf("asks not ascending: %+v", d.Asks)
		}
	}
}

// Interleaved updates for two keys must advance each key's counter
// independently (1,1,2,2), never a shared process-wide counter (1,2,3,4);
// a global counter would show up as spurious gaps downstream.
func TestSeq_PerKeyNotGlobal(t *testing.T) {
	t.Parallel()
	s := NewStore()
	k1 := Key{MarketID: "m1", OutcomeID: "yes"}
	k2 := Key{MarketID: "m2", OutcomeID: "yes"}

	s.ApplyDelta(k1, []Change{{Side: Bid, Price: 0.50, Size: 1}}, 0)
	s.ApplyDelta(k2, []Change{{Side: Bid, Price: 0.60, Size: 1}}, 0)
	if got := s.Snapshot(k1).Seq; got != 1 {
		t.Fatalf("k1 seq after first update = %d, want 1", got)
	}
	if got := s.Snapshot(k2).Seq; got != 1 {
		t.Fatalf("k2 seq after first update = %d, want 1", got)
	}

	s.ApplyDelta(k1, []Change{{Side: Bid, Price: 0.51, Size: 1}}, 0)
	s.ApplyDelta(k2, []Change{{Side: Bid, Price: 0.61, Size: 1}}, 0)
	if got := s.Snapshot(k1).Seq; got != 2 {
		t.Fatalf("k1 seq after second update = %d, want 2", got)
	}
	if got := s.Snapshot(k2).Seq; got != 2 {
		t.Fatalf("k2 seq after second update = %d, want 2", got)
	}
}

func TestIsStale(t *testing.T) {
	t.Parallel()
	s := NewStore()
	k := Key{MarketID: "m1"}
	if !s.IsStale(k, 0) {
		t.Fatal("untouched key should be stale")
	}
	s.ApplySnapshot(k, nil, nil, 0)
	if s.IsStale(k, time.Hour) {
		t.Fatal("freshly touched key should not be stale")
	}
}
