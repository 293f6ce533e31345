package discover

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pmsurveil/internal/universe"
)

// BuildUniverse fetches active markets from Gamma and writes them as
// newline-delimited universe.Entry rows to path, creating parent directories
// as needed. Markets with a length mismatch between outcomes and token ids,
// or with no tokens at all, are skipped and counted in the returned skipped
// total rather than failing the whole run.
func BuildUniverse(ctx context.Context, client *Client, limit int, path string, logger *slog.Logger) (written, skipped int, err error) {
	markets, err := client.ListMarkets(ctx, true, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch markets: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, 0, fmt.Errorf("create universe dir: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, 0, fmt.Errorf("create universe file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, m := range markets {
		entry, ok := toEntry(m)
		if !ok {
			skipped++
			logger.Warn("skipping market with unusable token mapping", "condition_id", m.ConditionID)
			continue
		}
		line, err := json.Marshal(entry)
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return written, skipped, fmt.Errorf("marshal entry: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return written, skipped, fmt.Errorf("write entry: %w", err)
		}
		written++
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return written, skipped, fmt.Errorf("flush universe file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return written, skipped, fmt.Errorf("sync universe file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return written, skipped, fmt.Errorf("close universe file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return written, skipped, fmt.Errorf("rename universe file: %w", err)
	}

	logger.Info("universe written", "path", path, "written", written, "skipped", skipped)
	return written, skipped, nil
}

func toEntry(m Market) (universe.Entry, bool) {
	outcomes, err := m.OutcomeNames()
	if err != nil {
		return universe.Entry{}, false
	}
	tokens, err := m.TokenIDs()
	if err != nil {
		return universe.Entry{}, false
	}
	if len(outcomes) == 0 || len(outcomes) != len(tokens) {
		return universe.Entry{}, false
	}

	status := "active"
	if m.Closed {
		status = "closed"
	}

	return universe.Entry{
		MarketID:   m.ConditionID,
		Title:      m.Question,
		OutcomeIDs: outcomes,
		CloseTs:    parseCloseTs(m.EndDate),
		Status:     status,
		TokenIDs:   tokens,
	}, true
}

func parseCloseTs(iso string) int64 {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
