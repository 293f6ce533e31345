// Package venue implements the streaming venue adapter: the WebSocket
// transport that discriminates the three message shapes by structural
// presence, resolves tokens to book keys via the universe, and feeds the
// order-book store. A synthetic mock adapter satisfies the same capability
// set for integration testing and local dev.
package venue

import "encoding/json"

// subscribeMsg is the outgoing subscribe/unsubscribe frame. The JSON tag
// "assets_ids" (not "asset_ids") matches the venue's documented shape
// verbatim.
type subscribeMsg struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// probe is used to discriminate an incoming frame's shape without a type
// tag: the venue omits one on book messages, so shape is structural.
type probe struct {
	Bids         json.RawMessage `json:"bids"`
	PriceChanges json.RawMessage `json:"price_changes"`
	EventType    string          `json:"event_type"`
}

type levelMsg struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// snapshotMsg is the full-book snapshot shape.
type snapshotMsg struct {
	Market    string     `json:"market"`
	AssetID   string     `json:"asset_id"`
	Timestamp string     `json:"timestamp"`
	Bids      []levelMsg `json:"bids"`
	Asks      []levelMsg `json:"asks"`
}

type priceChangeMsg struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"` // "BUY" or "SELL"
}

// deltaMsg is the incremental-update shape.
type deltaMsg struct {
	Market       string           `json:"market"`
	PriceChanges []priceChangeMsg `json:"price_changes"`
}

// tradeMsg is the trade-event shape, ignored for the order-book path and
// optionally forwarded to the trades side-channel.
type tradeMsg struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
}

// Trade is a parsed trade event handed to the optional trades writer.
type Trade struct {
	AssetID string
	Price   float64
	Size    float64
	Side    string
	TsRecv  int64
}
