package stats

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"pmsurveil/internal/book"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestLoad_MissingFileReturnsNilNoError(t *testing.T) {
	t.Parallel()
	table, err := Load(filepath.Join(t.TempDir(), "stats.parquet"), testLogger())
	if err != nil {
		t.Fatalf("expected no error for missing stats file, got %v", err)
	}
	if table != nil {
		t.Fatalf("expected nil table for missing file, got %+v", table)
	}
}

func TestLoad_RoundTripsWrittenRows(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stats.parquet")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := parquet.NewGenericWriter[Row](f)
	if _, err := w.Write([]Row{
		{MarketID: "m1", OutcomeID: "yes", AvgUpdates: 12.5, AvgSpread: 0.02, AvgDepth: 500},
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	table, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table == nil {
		t.Fatal("expected non-nil table")
	}
	got, ok := table.Stats(book.Key{MarketID: "m1", OutcomeID: "yes"})
	if !ok {
		t.Fatal("expected stats entry for m1/yes")
	}
	if got.AvgUpdates != 12.5 {
		t.Fatalf("expected AvgUpdates 12.5, got %v", got.AvgUpdates)
	}
}
