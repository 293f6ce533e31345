// Command discover is the universe discovery step: it fetches the current
// active market set from Polymarket's Gamma API and writes it as the
// venue=.../date=.../universe.jsonl file the collector reads at startup.
// Not part of the surveillance pipeline proper; a standalone tool so the
// collector always has something real on disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"pmsurveil/internal/discover"
)

func main() {
	var (
		gammaURL = flag.String("gamma-url", "https://gamma-api.polymarket.com", "Gamma API base URL")
		root     = flag.String("root", "./data", "storage root (matches collector's storage.root)")
		venue    = flag.String("venue", "polymarket", "venue name used in the output partition path")
		limit    = flag.Int("limit", 2000, "maximum number of active markets to fetch")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("component", "discover")

	date := time.Now().UTC().Format("2006-01-02")
	path := fmt.Sprintf("%s/metadata/venue=%s/date=%s/universe.jsonl", *root, *venue, date)

	client := discover.NewClient(*gammaURL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	written, skipped, err := discover.BuildUniverse(ctx, client, *limit, path, logger)
	if err != nil {
		logger.Error("universe discovery failed", "error", err)
		os.Exit(1)
	}
	logger.Info("universe discovery complete", "path", path, "written", written, "skipped", skipped)
}
