// Package bucket maps collector receive timestamps to the Hive-style
// partition paths the columnar writer rolls files under.
package bucket

import (
	"fmt"
	"time"
)

// Key identifies a single time-bucketed partition for one venue.
type Key struct {
	Venue  string
	Date   string // YYYY-MM-DD, UTC
	Hour   string // HH, UTC
	Label  string // YYYY-MM-DDTHH-mm, the bucket start
}

// Of computes the partition key for an epoch-ms receive time. bucketMinutes
// divides the hour into fixed-width windows; two timestamps in the same
// window produce an equal Key (idempotent bucketing).
func Of(venue string, tsRecvMs int64, bucketMinutes int) Key {
	t := time.UnixMilli(tsRecvMs).UTC()
	minute := (t.Minute() / bucketMinutes) * bucketMinutes
	bucketStart := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, time.UTC)
	return Key{
		Venue: venue,
		Date:  t.Format("2006-01-02"),
		Hour:  fmt.Sprintf("%02d", t.Hour()),
		Label: bucketStart.Format("2006-01-02T15-04"),
	}
}

// SnapshotPath returns the final (non-tmp) path for a snapshot file in this
// partition under root.
func (k Key) SnapshotPath(root string) string {
	return fmt.Sprintf("%s/orderbook_snapshots/venue=%s/date=%s/hour=%s/snapshots_%s.parquet",
		root, k.Venue, k.Date, k.Hour, k.Label)
}

// TradesPath returns the final path for the optional trades side-channel.
func (k Key) TradesPath(root string) string {
	return fmt.Sprintf("%s/trades/venue=%s/date=%s/hour=%s/trades_%s.parquet",
		root, k.Venue, k.Date, k.Hour, k.Label)
}
