// Package discover fetches the venue's market universe from the Polymarket
// Gamma API and renders it into the universe.jsonl file the collector reads
// at startup.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Market is the subset of the Gamma /markets payload the universe builder
// needs. Gamma returns clobTokenIds either as a JSON array or as a string
// holding a JSON-encoded array depending on endpoint and market age, hence
// the raw-message handling for it.
type Market struct {
	ConditionID  string          `json:"conditionId"`
	Question     string          `json:"question"`
	Active       bool            `json:"active"`
	Closed       bool            `json:"closed"`
	EndDate      string          `json:"endDateIso"`
	Outcomes     string          `json:"outcomes"`     // JSON-encoded array, e.g. `["Yes","No"]`
	ClobTokenIds json.RawMessage `json:"clobTokenIds"` // JSON-encoded array of token ids
}

// Client is a minimal Gamma REST client scoped to what universe discovery
// needs: listing markets. Gamma's public endpoints throw transient 5xxs
// under load, hence the retry policy.
type Client struct {
	http *resty.Client
}

// NewClient builds a Gamma client against baseURL (e.g.
// https://gamma-api.polymarket.com).
func NewClient(baseURL string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &Client{http: http}
}

// ListMarkets pages through Gamma's /markets endpoint, returning every
// market matching active/closed filters up to limit total results.
func (c *Client) ListMarkets(ctx context.Context, active bool, limit int) ([]Market, error) {
	const pageSize = 100
	var out []Market

	for offset := 0; len(out) < limit; offset += pageSize {
		want := pageSize
		if remaining := limit - len(out); remaining < want {
			want = remaining
		}

		var page []Market
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"active": strconv.FormatBool(active),
				"closed": "false",
				"limit":  strconv.Itoa(want),
				"offset": strconv.Itoa(offset),
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("list markets: status %d: %s", resp.StatusCode(), resp.String())
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)
	}
	return out, nil
}

// OutcomeNames decodes a market's JSON-encoded outcomes array.
func (m Market) OutcomeNames() ([]string, error) {
	var names []string
	if err := json.Unmarshal([]byte(m.Outcomes), &names); err != nil {
		return nil, fmt.Errorf("decode outcomes: %w", err)
	}
	return names, nil
}

// TokenIDs decodes the market's JSON-encoded clobTokenIds array, parallel to
// OutcomeNames.
func (m Market) TokenIDs() ([]string, error) {
	if len(m.ClobTokenIds) == 0 {
		return nil, nil
	}
	raw := []byte(m.ClobTokenIds)
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = []byte(encoded)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode clobTokenIds: %w", err)
	}
	return ids, nil
}
