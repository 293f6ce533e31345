// Package stats loads the optional per-key statistics table the scheduler
// uses to rank the universe, found at
// `{root}/stats/venue=.../date=.../stats.parquet`. The table itself is
// produced by the offline analytics job; this package only reads it back
// with the same parquet-go reader the writer package uses to produce its
// files, so a single library covers both directions of the columnar round
// trip.
package stats

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/parquet-go/parquet-go"

	"pmsurveil/internal/book"
	"pmsurveil/internal/scheduler"
)

// Row is one line of the stats table, keyed by market_id/outcome_id.
type Row struct {
	MarketID   string  `parquet:"market_id"`
	OutcomeID  string  `parquet:"outcome_id"`
	AvgUpdates float64 `parquet:"avg_updates"`
	AvgSpread  float64 `parquet:"avg_spread"`
	AvgDepth   float64 `parquet:"avg_depth"`
}

// Table is an in-memory StatsProvider (scheduler.StatsProvider) loaded once
// from a stats.parquet snapshot.
type Table struct {
	byKey map[book.Key]scheduler.Stats
}

var _ scheduler.StatsProvider = (*Table)(nil)

// Stats implements scheduler.StatsProvider.
func (t *Table) Stats(key book.Key) (scheduler.Stats, bool) {
	s, ok := t.byKey[key]
	return s, ok
}

// Load reads a stats.parquet file into memory. A missing file is not an
// error: it just means no stats are available yet (the analytics job hasn't
// run), and callers should fall back to scheduler.NoStats{}.
func Load(path string, logger *slog.Logger) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open stats file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat stats file: %w", err)
	}

	reader := parquet.NewGenericReader[Row](f, parquet.SchemaOf(Row{}))
	defer reader.Close()

	rows := make([]Row, info.Size()/64+1)
	table := &Table{byKey: make(map[book.Key]scheduler.Stats)}
	for {
		n, err := reader.Read(rows)
		for _, r := range rows[:n] {
			table.byKey[book.Key{MarketID: r.MarketID, OutcomeID: r.OutcomeID}] = scheduler.Stats{
				AvgUpdates: r.AvgUpdates,
				AvgSpread:  r.AvgSpread,
				AvgDepth:   r.AvgDepth,
			}
		}
		if err != nil {
			break
		}
	}
	logger.Info("loaded stats table", "path", path, "keys", len(table.byKey))
	return table, nil
}
