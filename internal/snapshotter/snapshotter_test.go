package snapshotter

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"pmsurveil/internal/book"
	"pmsurveil/internal/schema"
)

type recordingSink struct {
	mu   sync.Mutex
	rows []schema.Row
}

func (r *recordingSink) Write(venue string, row schema.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func (r *recordingSink) snapshot() []schema.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Row(nil), r.rows...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestTick_AbsentKeyProducesEmptyRow(t *testing.T) {
	t.Parallel()
	store := book.NewStore()
	sink := &recordingSink{}
	key := book.Key{MarketID: "m1", OutcomeID: "yes"}

	s := New("polymarket", store, sink, 10, time.Hour, time.Hour, func() []book.Key { return nil }, func() []book.Key { return nil }, testLogger())
	s.tick([]book.Key{key})

	rows := sink.snapshot()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Status != schema.StatusOK && rows[0].Status != schema.StatusEmpty {
		t.Fatalf("unexpected status %q", rows[0].Status)
	}
	if rows[0].Status != schema.StatusEmpty {
		t.Fatalf("expected empty status for untouched key, got %q", rows[0].Status)
	}
}

// recordCounter captures log messages so the once-per-key-per-day crossed
// book logging can be asserted without parsing handler output.
type recordCounter struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordCounter) Enabled(context.Context, slog.Level) bool { return true }
func (r *recordCounter) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, rec.Message)
	r.mu.Unlock()
	return nil
}
func (r *recordCounter) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *recordCounter) WithGroup(string) slog.Handler      { return r }

func (r *recordCounter) count(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

func TestTick_CrossedBookLoggedOncePerDay(t *testing.T) {
	t.Parallel()
	store := book.NewStore()
	key := book.Key{MarketID: "m1", OutcomeID: "yes"}
	store.ApplySnapshot(key, []book.Level{{Price: 0.60, Size: 1}}, []book.Level{{Price: 0.50, Size: 1}}, 0)

	rc := &recordCounter{}
	sink := &recordingSink{}
	s := New("polymarket", store, sink, 10, time.Hour, time.Hour, func() []book.Key { return nil }, func() []book.Key { return nil }, slog.New(rc))

	s.tick([]book.Key{key})
	s.tick([]book.Key{key})

	if got := rc.count("crossed book"); got != 1 {
		t.Fatalf("expected crossed book logged once for repeated ticks same day, got %d", got)
	}
	rows := sink.snapshot()
	if len(rows) != 2 || rows[0].Status != schema.StatusPartial {
		t.Fatalf("expected partial rows for crossed book, got %+v", rows)
	}
}

func TestRun_SamplesHotAndWarmOnSeparateCadences(t *testing.T) {
	t.Parallel()
	store := book.NewStore()
	sink := &recordingSink{}
	hotKey := book.Key{MarketID: "hot", OutcomeID: "yes"}
	warmKey := book.Key{MarketID: "warm", OutcomeID: "yes"}
	store.ApplySnapshot(hotKey, []book.Level{{Price: 0.5, Size: 10}}, []book.Level{{Price: 0.6, Size: 10}}, 0)
	store.ApplySnapshot(warmKey, []book.Level{{Price: 0.5, Size: 10}}, []book.Level{{Price: 0.6, Size: 10}}, 0)

	s := New("polymarket", store, sink, 10,
		15*time.Millisecond, 300*time.Millisecond,
		func() []book.Key { return []book.Key{hotKey} },
		func() []book.Key { return []book.Key{warmKey} },
		testLogger(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	rows := sink.snapshot()
	var hotCount, warmCount int
	for _, r := range rows {
		switch r.MarketID {
		case "hot":
			hotCount++
		case "warm":
			warmCount++
		}
	}
	if hotCount < 2 {
		t.Fatalf("expected multiple hot-tier samples in 80ms at 15ms cadence, got %d", hotCount)
	}
	if warmCount != 0 {
		t.Fatalf("expected no warm-tier samples within 80ms at 300ms cadence, got %d", warmCount)
	}
}
