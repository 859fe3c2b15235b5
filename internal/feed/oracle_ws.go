// Package feed subscribes to the oracle price stream and keeps the Redis
// price cache current. The engine reads prices only through the cache, so
// staleness handling lives here rather than in the pricing code.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

const (
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	// pingPeriod must be shorter so a ping is always in flight first.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is the oracle stream subscription envelope.
type subscribeCommand struct {
	Op     string   `json:"op"`
	Denoms []string `json:"denoms"`
}

// priceUpdate is one tick from the oracle stream. Price is a decimal string
// and Ts is a unix timestamp in milliseconds.
type priceUpdate struct {
	Denom string `json:"denom"`
	Price string `json:"price"`
	Ts    int64  `json:"ts"`
}

// OracleFeed connects to the oracle WebSocket, subscribes to the configured
// denoms, and writes every update into the price cache. It reconnects with
// exponential backoff until its context is cancelled.
type OracleFeed struct {
	wsURL  string
	denoms []string
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewOracleFeed creates a feed for the given stream URL and denoms.
func NewOracleFeed(wsURL string, denoms []string, cache domain.PriceCache, logger *slog.Logger) *OracleFeed {
	return &OracleFeed{
		wsURL:  wsURL,
		denoms: denoms,
		cache:  cache,
		logger: logger.With(slog.String("component", "oracle_feed")),
	}
}

// Run connects and consumes the stream until ctx is cancelled. Each
// disconnect triggers a reconnect with exponential backoff; the backoff
// resets after a healthy session.
func (f *OracleFeed) Run(ctx context.Context) error {
	if len(f.denoms) == 0 {
		f.logger.Info("no denoms to subscribe, oracle feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		start := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(start) > pongWait {
			delay = reconnectDelay
		}
		f.logger.Warn("oracle stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads updates until the connection
// drops or ctx is cancelled.
func (f *OracleFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Op: "subscribe", Denoms: f.denoms}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("oracle stream subscribed", slog.Int("denoms", len(f.denoms)))

	// Close the connection when ctx is cancelled so the blocked read returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
		case <-stop:
		}
	}()
	go f.pingLoop(conn, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, raw)
	}
}

func (f *OracleFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes one update and writes it to the cache. Malformed
// ticks are logged and dropped; a cache write failure is logged but does not
// tear down the connection.
func (f *OracleFeed) handleMessage(ctx context.Context, raw []byte) {
	var upd priceUpdate
	if err := json.Unmarshal(raw, &upd); err != nil {
		f.logger.WarnContext(ctx, "dropping unparseable oracle message", slog.String("error", err.Error()))
		return
	}
	if upd.Denom == "" || upd.Price == "" {
		return
	}

	price, err := decimal.NewFromString(upd.Price)
	if err != nil {
		f.logger.WarnContext(ctx, "dropping oracle tick with bad price",
			slog.String("denom", upd.Denom),
			slog.String("price", upd.Price))
		return
	}
	if price.Sign() <= 0 {
		f.logger.WarnContext(ctx, "dropping non-positive oracle price", slog.String("denom", upd.Denom))
		return
	}

	ts := time.UnixMilli(upd.Ts)
	if upd.Ts == 0 {
		ts = time.Now()
	}
	if err := f.cache.SetPrice(ctx, upd.Denom, price, ts); err != nil {
		f.logger.WarnContext(ctx, "failed to cache oracle price",
			slog.String("denom", upd.Denom),
			slog.String("error", err.Error()))
	}
}
