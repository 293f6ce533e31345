package bucket

import "testing"

func TestOf_SameBucketSharesLabel(t *testing.T) {
	t.Parallel()
	// 01:04:59 and 01:00:00 fall in the same 5-minute bucket.
	a := Of("polymarket", msAt(1, 4, 59), 5)
	b := Of("polymarket", msAt(1, 0, 0), 5)
	if a != b {
		t.Fatalf("expected equal keys, got %+v vs %+v", a, b)
	}
	if a.Label != "1970-01-01T01-00" {
		t.Errorf("unexpected label: %s", a.Label)
	}
}

func TestOf_RolloverAtBoundary(t *testing.T) {
	t.Parallel()
	before := Of("polymarket", msAt(1, 4, 59), 5)
	after := Of("polymarket", msAt(1, 5, 1), 5)
	if before == after {
		t.Fatal("expected different buckets across the 01:05 boundary")
	}
	if before.Label != "1970-01-01T01-00" || after.Label != "1970-01-01T01-05" {
		t.Errorf("got before=%s after=%s", before.Label, after.Label)
	}
}

func msAt(hour, minute, second int) int64 {
	return int64(hour)*3600_000 + int64(minute)*60_000 + int64(second)*1000
}

func TestSnapshotPath(t *testing.T) {
	t.Parallel()
	k := Key{Venue: "polymarket", Date: "2026-07-29", Hour: "01", Label: "2026-07-29T01-00"}
	want := "/data/orderbook_snapshots/venue=polymarket/date=2026-07-29/hour=01/snapshots_2026-07-29T01-00.parquet"
	if got := k.SnapshotPath("/data"); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
