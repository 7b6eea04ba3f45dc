package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/quantshed/bandkeeper/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second
)

// wsMessage is one price update from the feed. Either side may be absent.
type wsMessage struct {
	BuyPrice  string `json:"buyPrice"`
	SellPrice string `json:"sellPrice"`
}

// WSFeed reads target prices from a websocket endpoint. It reconnects on
// disconnect and expires served prices when the connection goes quiet.
type WSFeed struct {
	wsURL  string
	state  *priceState
	logger *slog.Logger
}

// NewWSFeed creates a feed for the given websocket URL. expiry is how long a
// received price remains usable.
func NewWSFeed(wsURL string, expiry time.Duration, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:  wsURL,
		state:  &priceState{expiry: expiry},
		logger: logger.With(slog.String("component", "price_feed")),
	}
}

// TargetPrice returns the current target price; both sides are nil when the
// feed is stale or has not delivered yet.
func (f *WSFeed) TargetPrice(now time.Time) domain.TargetPrice {
	return f.state.target(now)
}

// Run connects and reads price updates until ctx is cancelled, reconnecting
// on disconnect.
func (f *WSFeed) Run(ctx context.Context) error {
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("price feed disconnected, reconnecting",
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go f.pingLoop(conn, done)

	f.logger.Info("price feed connected", slog.String("url", f.wsURL))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w: %v", domain.ErrFeedDisconnect, err)
		}
		f.handleMessage(raw)
	}
}

func (f *WSFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (f *WSFeed) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Warn("malformed feed message", slog.String("error", err.Error()))
		return
	}

	buy := parsePrice(msg.BuyPrice)
	sell := parsePrice(msg.SellPrice)
	if buy == nil && sell == nil {
		f.logger.Warn("feed message carried no prices")
		return
	}
	f.state.set(buy, sell, time.Now())

	f.logger.Debug("target price updated",
		slog.Any("buy", msg.BuyPrice),
		slog.Any("sell", msg.SellPrice),
	)
}

func parsePrice(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return nil
	}
	return &d
}
