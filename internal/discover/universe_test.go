package discover

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"pmsurveil/internal/universe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestBuildUniverse_WritesUsableMarketsOnly(t *testing.T) {
	t.Parallel()

	markets := []Market{
		{
			ConditionID:  "0xabc",
			Question:     "Will it rain?",
			Active:       true,
			EndDate:      "2026-01-01T00:00:00Z",
			Outcomes:     `["Yes","No"]`,
			ClobTokenIds: json.RawMessage(`["tok-yes","tok-no"]`),
		},
		{
			// mismatched outcomes/token lengths -> skipped
			ConditionID:  "0xdef",
			Question:     "Broken market",
			Active:       true,
			Outcomes:     `["Yes","No","Maybe"]`,
			ClobTokenIds: json.RawMessage(`["tok-1"]`),
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("offset") != "0" {
			json.NewEncoder(w).Encode([]Market{})
			return
		}
		json.NewEncoder(w).Encode(markets)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	dir := t.TempDir()
	path := filepath.Join(dir, "universe.jsonl")

	written, skipped, err := BuildUniverse(context.Background(), client, 10, path, testLogger())
	if err != nil {
		t.Fatalf("BuildUniverse: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected 1 written, got %d", written)
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", skipped)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open universe file: %v", err)
	}
	defer f.Close()

	var entries []universe.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e universe.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 line, got %d", len(entries))
	}
	if entries[0].MarketID != "0xabc" {
		t.Errorf("expected market 0xabc, got %s", entries[0].MarketID)
	}
	if len(entries[0].TokenIDs) != 2 {
		t.Errorf("expected 2 token ids, got %d", len(entries[0].TokenIDs))
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected .tmp file to be renamed away, stat err = %v", err)
	}
}

func TestBuildUniverse_NoActiveMarketsWritesEmptyFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Market{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "universe.jsonl")

	written, skipped, err := BuildUniverse(context.Background(), client, 10, path, testLogger())
	if err != nil {
		t.Fatalf("BuildUniverse: %v", err)
	}
	if written != 0 || skipped != 0 {
		t.Fatalf("expected 0/0, got %d/%d", written, skipped)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected universe file to exist: %v", err)
	}
}
