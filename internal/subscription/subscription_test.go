package subscription

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"pmsurveil/internal/book"
)

type fakeAdapter struct {
	subscribed   []string
	unsubscribed []string
}

func (f *fakeAdapter) Subscribe(tokens []string)   { f.subscribed = append(f.subscribed, tokens...) }
func (f *fakeAdapter) Unsubscribe(tokens []string) { f.unsubscribed = append(f.unsubscribed, tokens...) }

type fakeResolver struct{}

func (fakeResolver) Token(k book.Key) (string, bool) { return k.MarketID, true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func keysFrom(tokens ...string) []book.Key {
	keys := make([]book.Key, len(tokens))
	for i, t := range tokens {
		keys[i] = book.Key{MarketID: t, OutcomeID: "o"}
	}
	return keys
}

// With churn_limit=4/min, current={t1..t5}, and desired={t3..t5, t6..t10},
// the first reconcile must apply exactly 2 unsubs (t1, t2) and 2 subs
// (t6, t7), deferring the remaining 3 subs to the next cycle.
func TestReconcile_ChurnCap(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	m := New(a, fakeResolver{}, 4, testLogger())

	// Seed current={t1..t5} across two churn windows (4/min budget), each far
	// enough apart that the sliding window has fully reset.
	now := time.Now()
	m.Reconcile(now, nil, keysFrom("t1", "t2", "t3", "t4"))
	now = now.Add(61 * time.Second)
	m.Reconcile(now, nil, keysFrom("t1", "t2", "t3", "t4", "t5"))
	now = now.Add(61 * time.Second)

	ops := m.Reconcile(now, keysFrom("t3"), keysFrom("t4", "t5", "t6", "t7", "t8", "t9", "t10"))
	if ops != 4 {
		t.Fatalf("expected 4 ops capped by churn budget, got %d", ops)
	}
	if len(a.unsubscribed) != 2 {
		t.Fatalf("expected 2 unsubs, got %d: %v", len(a.unsubscribed), a.unsubscribed)
	}
	if len(a.subscribed) != 5+2 { // 5 from seed + 2 from this round
		t.Fatalf("expected 2 new subs this round, got %d total: %v", len(a.subscribed), a.subscribed)
	}

	// current should now be {t3,t4,t5,t6,t7} = 5 keys: t1,t2 removed, t6,t7 added
	current := m.Current()
	if len(current) != 5 {
		t.Fatalf("expected 5 keys subscribed after capped reconcile, got %d: %v", len(current), current)
	}
}

func TestReconcile_NoChangeIsNoOp(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	m := New(a, fakeResolver{}, 100, testLogger())

	now := time.Now()
	m.Reconcile(now, nil, keysFrom("t1", "t2"))
	a.subscribed = nil
	a.unsubscribed = nil

	ops := m.Reconcile(now, nil, keysFrom("t1", "t2"))
	if ops != 0 {
		t.Fatalf("expected no-op reconcile, got %d ops", ops)
	}
	if len(a.subscribed) != 0 || len(a.unsubscribed) != 0 {
		t.Fatalf("expected no adapter calls on idempotent reconcile")
	}
}

func TestReconcile_HotNeverRemovedForWarmRoom(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	m := New(a, fakeResolver{}, 100, testLogger())

	now := time.Now()
	m.Reconcile(now, keysFrom("h1"), keysFrom("w1", "w2"))
	m.Reconcile(now.Add(time.Second), keysFrom("h1"), keysFrom("w3"))

	current := m.Current()
	found := false
	for _, k := range current {
		if k.MarketID == "h1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hot key h1 to remain subscribed, got %v", current)
	}
}
