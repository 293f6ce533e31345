// Package universe loads the market universe file produced by the discovery
// step and exposes the token_id <-> (market_id, outcome_id) mapping the
// venue adapter needs to resolve incoming messages.
package universe

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"pmsurveil/internal/book"
)

// Entry is one universe row, serialized one JSON object per line.
type Entry struct {
	MarketID   string   `json:"market_id"`
	Title      string   `json:"title"`
	OutcomeIDs []string `json:"outcome_ids"`
	CloseTs    int64    `json:"close_ts"`
	Status     string   `json:"status"`
	TokenIDs   []string `json:"token_ids"` // parallel to OutcomeIDs
}

// Universe holds the full set of discovered markets plus the reversible
// token_id <-> (market_id, outcome_id) mapping built from it.
type Universe struct {
	Entries    []Entry
	tokenToKey map[string]book.Key
	keyToToken map[book.Key]string
}

// Load reads a newline-delimited JSON universe file. Market IDs that look
// like hex condition hashes are canonicalized via go-ethereum's HexToHash so
// malformed rows (odd length, non-hex) are rejected at load time rather than
// silently mismatching token resolution later.
func Load(path string) (*Universe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe file: %w", err)
	}
	defer f.Close()

	u := &Universe{
		tokenToKey: make(map[string]book.Key),
		keyToToken: make(map[book.Key]string),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("universe line %d: %w", lineNo, err)
		}
		if strings.HasPrefix(e.MarketID, "0x") {
			if _, err := hex.DecodeString(strings.TrimPrefix(e.MarketID, "0x")); err != nil {
				return nil, fmt.Errorf("universe line %d: market_id %q is not valid hex: %w", lineNo, e.MarketID, err)
			}
			e.MarketID = common.HexToHash(e.MarketID).Hex()
		}
		if len(e.OutcomeIDs) != len(e.TokenIDs) {
			return nil, fmt.Errorf("universe line %d: outcome_ids/token_ids length mismatch", lineNo)
		}
		u.Entries = append(u.Entries, e)
		for i, outcomeID := range e.OutcomeIDs {
			key := book.Key{MarketID: e.MarketID, OutcomeID: outcomeID}
			token := e.TokenIDs[i]
			u.tokenToKey[token] = key
			u.keyToToken[key] = token
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan universe file: %w", err)
	}
	return u, nil
}

// Resolve maps a venue token_id to its (market_id, outcome_id) key. ok is
// false for unknown tokens; the adapter counts those without logging each.
func (u *Universe) Resolve(token string) (book.Key, bool) {
	key, ok := u.tokenToKey[token]
	return key, ok
}

// Token returns the venue token_id for a key, if known.
func (u *Universe) Token(key book.Key) (string, bool) {
	token, ok := u.keyToToken[key]
	return token, ok
}

// AllTokens returns every token_id in the universe.
func (u *Universe) AllTokens() []string {
	tokens := make([]string, 0, len(u.tokenToKey))
	for t := range u.tokenToKey {
		tokens = append(tokens, t)
	}
	return tokens
}
