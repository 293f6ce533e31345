package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pmsurveil/internal/book"
	"pmsurveil/internal/metrics"
	"pmsurveil/internal/universe"
)

// WSAdapter is the real venue adapter: a gorilla/websocket client with
// bounded-exponential-backoff reconnect, per-key sequence generation (via
// the book store), and structural message discrimination.
type WSAdapter struct {
	url     string
	venue   string
	store   *book.Store
	uni     *universe.Universe
	metrics *metrics.Collector
	trades  chan Trade
	logger  *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu      sync.RWMutex
	subscribed map[string]struct{}
}

// NewWSAdapter creates a WebSocket venue adapter.
func NewWSAdapter(venueName, url string, store *book.Store, uni *universe.Universe, mc *metrics.Collector, trades chan Trade, logger *slog.Logger) *WSAdapter {
	return &WSAdapter{
		url:        url,
		venue:      venueName,
		store:      store,
		uni:        uni,
		metrics:    mc,
		trades:     trades,
		logger:     logger.With("component", "venue", "venue", venueName),
		subscribed: make(map[string]struct{}),
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with bounded
// exponential backoff + jitter on transport failure. On reconnect it
// re-subscribes to the entire current subscribed set. Books are not
// cleared; stale entries become correct again on the next snapshot for the
// key.
func (a *WSAdapter) Run(ctx context.Context) {
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 60 * time.Second
	)
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}
		connectedAt := time.Now()
		err := a.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.metrics.IncTransportErrors()
			a.logger.Warn("transport error, reconnecting", "error", err, "backoff", backoff)
		}
		if time.Since(connectedAt) > maxBackoff {
			// The connection held long enough that the failure is fresh, not
			// part of the same outage; start the backoff ladder over.
			backoff = initialBackoff
		}

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff + jitter):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (a *WSAdapter) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()
	defer func() {
		a.connMu.Lock()
		a.conn = nil
		a.connMu.Unlock()
		conn.Close()
	}()

	if tokens := a.Subscribed(); len(tokens) > 0 {
		if err := a.sendSubscribe(tokens); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
		a.logger.Info("resubscribed after reconnect", "count", len(tokens))
	}

	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go a.pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		a.metrics.IncMessagesReceived()
		a.handleFrame(data)
	}
}

func (a *WSAdapter) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(50 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.connMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			a.connMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleFrame discriminates and applies one wire frame, which may be a
// single object or a JSON array of objects.
func (a *WSAdapter) handleFrame(data []byte) {
	trimmed := firstNonSpace(data)
	if trimmed == '[' {
		var elements []json.RawMessage
		if err := json.Unmarshal(data, &elements); err != nil {
			a.logger.Warn("parse error (array)", "error", err)
			return
		}
		for _, e := range elements {
			a.handleObject(e)
		}
		return
	}
	a.handleObject(data)
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

func (a *WSAdapter) handleObject(data []byte) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		a.logger.Warn("parse error", "error", err)
		return
	}

	switch {
	case len(p.Bids) > 0:
		a.handleSnapshot(data)
	case len(p.PriceChanges) > 0:
		a.handleDelta(data)
	case p.EventType != "":
		a.handleTrade(data)
	default:
		a.logger.Warn("unrecognized message shape")
	}
}

func (a *WSAdapter) handleSnapshot(data []byte) {
	var msg snapshotMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		a.logger.Warn("parse error (snapshot)", "error", err)
		return
	}
	key, ok := a.uni.Resolve(msg.AssetID)
	if !ok {
		a.metrics.IncUnknownTokens()
		return
	}

	bids := parseLevels(msg.Bids)
	asks := parseLevels(msg.Asks)
	sourceTs := parseTimestamp(msg.Timestamp)

	a.store.ApplySnapshot(key, bids, asks, sourceTs)
	a.metrics.IncUpdatesApplied()
}

func (a *WSAdapter) handleDelta(data []byte) {
	var msg deltaMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		a.logger.Warn("parse error (delta)", "error", err)
		return
	}

	byKey := make(map[book.Key][]book.Change)
	for _, pc := range msg.PriceChanges {
		key, ok := a.uni.Resolve(pc.AssetID)
		if !ok {
			a.metrics.IncUnknownTokens()
			continue
		}
		price, err := strconv.ParseFloat(pc.Price, 64)
		if err != nil {
			a.logger.Warn("parse error (price)", "error", err)
			continue
		}
		size, err := strconv.ParseFloat(pc.Size, 64)
		if err != nil {
			a.logger.Warn("parse error (size)", "error", err)
			continue
		}
		side := book.Bid
		if pc.Side == "SELL" {
			side = book.Ask
		}
		byKey[key] = append(byKey[key], book.Change{Side: side, Price: price, Size: size})
	}

	for key, changes := range byKey {
		a.store.ApplyDelta(key, changes, 0)
		a.metrics.IncUpdatesApplied()
	}
}

func (a *WSAdapter) handleTrade(data []byte) {
	var msg tradeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		a.logger.Warn("parse error (trade)", "error", err)
		return
	}
	if a.trades == nil {
		return
	}
	price, _ := strconv.ParseFloat(msg.Price, 64)
	size, _ := strconv.ParseFloat(msg.Size, 64)
	trade := Trade{
		AssetID: msg.AssetID,
		Price:   price,
		Size:    size,
		Side:    msg.Side,
		TsRecv:  time.Now().UnixMilli(),
	}
	select {
	case a.trades <- trade:
	default:
		// Channel full: drop the oldest buffered trade to make room, count
		// the loss, and keep the newest.
		select {
		case <-a.trades:
		default:
		}
		select {
		case a.trades <- trade:
		default:
		}
		a.metrics.IncDroppedFrames()
	}
}

func parseLevels(msgs []levelMsg) []book.Level {
	levels := make([]book.Level, 0, len(msgs))
	for _, m := range msgs {
		price, err := strconv.ParseFloat(m.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(m.Size, 64)
		if err != nil {
			continue
		}
		levels = append(levels, book.Level{Price: price, Size: size})
	}
	return levels
}

func parseTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Subscribe adds tokens to the desired set and, if connected, sends the
// subscribe frame immediately.
func (a *WSAdapter) Subscribe(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	a.subMu.Lock()
	for _, t := range tokens {
		a.subscribed[t] = struct{}{}
	}
	a.subMu.Unlock()

	if err := a.sendSubscribe(tokens); err != nil {
		a.logger.Warn("subscribe send failed (will resync on reconnect)", "error", err)
	}
}

// Unsubscribe removes tokens from the desired set and sends the
// unsubscribe frame if connected.
func (a *WSAdapter) Unsubscribe(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	a.subMu.Lock()
	for _, t := range tokens {
		delete(a.subscribed, t)
	}
	a.subMu.Unlock()

	if err := a.sendUnsubscribe(tokens); err != nil {
		a.logger.Warn("unsubscribe send failed (will resync on reconnect)", "error", err)
	}
}

// Subscribed returns the current subscription set.
func (a *WSAdapter) Subscribed() []string {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	tokens := make([]string, 0, len(a.subscribed))
	for t := range a.subscribed {
		tokens = append(tokens, t)
	}
	return tokens
}

func (a *WSAdapter) sendSubscribe(tokens []string) error {
	return a.send(subscribeMsg{Type: "market", AssetIDs: tokens})
}

func (a *WSAdapter) sendUnsubscribe(tokens []string) error {
	return a.send(subscribeMsg{Type: "unsubscribe_market", AssetIDs: tokens})
}

func (a *WSAdapter) send(msg subscribeMsg) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("not connected")
	}
	return a.conn.WriteJSON(msg)
}
