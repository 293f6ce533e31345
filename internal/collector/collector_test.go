package collector

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pmsurveil/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// TestMockVenue_EndToEndProducesSnapshotFiles drives the whole pipeline with
// no network: mock adapter -> book store -> snapshotter -> writer -> a real
// Parquet file on disk, with no orphaned .tmp file left behind.
func TestMockVenue_EndToEndProducesSnapshotFiles(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Mock: config.MockConfig{Enabled: true},
	}
	cfg.Storage.Root = root
	cfg.Storage.TopK = 5
	cfg.Storage.FlushRows = 1
	cfg.Storage.FlushSeconds = 50 * time.Millisecond
	cfg.Storage.BucketMinutes = 5

	c, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The mock venue samples its HOT keys every 2s; wait past the first tick.
	time.Sleep(2500 * time.Millisecond)
	c.Stop()

	var parquetFiles, tmpFiles int
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".parquet":
			parquetFiles++
		case ".tmp":
			tmpFiles++
		}
		return nil
	})
	if parquetFiles == 0 {
		t.Fatal("expected at least one parquet file written by the mock pipeline")
	}
	if tmpFiles != 0 {
		t.Fatalf("expected no orphaned .tmp files after graceful shutdown, found %d", tmpFiles)
	}
}
