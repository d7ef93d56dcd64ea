package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

const (
	reconnectDelay    = 1 * time.Second
	maxReconnectDelay = 1 * time.Minute

	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// StreamMessage is one frame of the quote stream.
//
//	{"symbol":"005930","price":"71200","ts":"2026-01-05T09:00:01+09:00"}
type StreamMessage struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TS     time.Time       `json:"ts"`
}

type subscribeMessage struct {
	Action  string   `json:"action"` // subscribe | unsubscribe
	Symbols []string `json:"symbols"`
}

// StreamClient pushes quotes from a websocket quote stream into the cache.
// The symbol set follows the open positions via Sync.
// ⭐ SSOT: 스트림 연결/구독 관리는 이 클라이언트에서만
type StreamClient struct {
	url    string
	cache  *cache.PriceCache
	logger *logger.Logger
	dialer *websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn

	symbolsMu sync.Mutex
	symbols   map[string]bool
}

// NewStreamClient creates a stream client for url (ws:// or wss://)
func NewStreamClient(url string, priceCache *cache.PriceCache, log *logger.Logger) *StreamClient {
	return &StreamClient{
		url:     url,
		cache:   priceCache,
		logger:  log.Component("quote_stream"),
		dialer:  websocket.DefaultDialer,
		symbols: make(map[string]bool),
	}
}

// Run connects and reads until ctx is done, reconnecting with backoff
func (c *StreamClient) Run(ctx context.Context) error {
	b := &backoff.Backoff{Min: reconnectDelay, Max: maxReconnectDelay, Factor: 2, Jitter: true}

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// 수신에 성공한 세션이었으면 backoff 초기화
		if err == nil {
			b.Reset()
		}
		delay := b.Duration()
		c.logger.WithError(err).WithField("delay", delay.String()).Warn("Quote stream disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection; returns nil when the connection was healthy before closing
func (c *StreamClient) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
	}()

	c.logger.WithField("url", c.url).Info("Connected to quote stream")

	// 재연결 시 기존 구독 복원
	if err := c.write(subscribeMessage{Action: "subscribe", Symbols: c.Subscribed()}); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pingLoop(sessionCtx)
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	received := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if received {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		received = true

		if err := c.HandleMessage(data); err != nil {
			c.logger.WithError(err).Warn("Failed to handle quote message")
		}
	}
}

// HandleMessage decodes one frame and updates the cache
func (c *StreamClient) HandleMessage(data []byte) error {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Symbol == "" {
		return fmt.Errorf("message without symbol")
	}
	// ts 없는 시세는 신선도를 판단할 수 없음
	if msg.TS.IsZero() {
		return fmt.Errorf("message for %s without ts", msg.Symbol)
	}

	c.cache.Update(&realtime.PriceTick{
		Symbol: msg.Symbol,
		Price:  msg.Price,
		AsOf:   msg.TS,
		Source: realtime.SourceStream,
	})
	return nil
}

// Sync subscribes to symbols not yet tracked and unsubscribes the rest
func (c *StreamClient) Sync(symbols []string) error {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	c.symbolsMu.Lock()
	var toAdd, toRemove []string
	for s := range want {
		if !c.symbols[s] {
			toAdd = append(toAdd, s)
		}
	}
	for s := range c.symbols {
		if !want[s] {
			toRemove = append(toRemove, s)
		}
	}
	c.symbols = want
	c.symbolsMu.Unlock()

	if len(toRemove) > 0 {
		if err := c.write(subscribeMessage{Action: "unsubscribe", Symbols: toRemove}); err != nil {
			return err
		}
	}
	if len(toAdd) > 0 {
		if err := c.write(subscribeMessage{Action: "subscribe", Symbols: toAdd}); err != nil {
			return err
		}
	}

	if len(toAdd) > 0 || len(toRemove) > 0 {
		c.logger.WithFields(map[string]interface{}{
			"added":   len(toAdd),
			"removed": len(toRemove),
			"total":   len(want),
		}).Info("Rebalanced stream symbols")
	}
	return nil
}

// Subscribed returns the tracked symbol set
func (c *StreamClient) Subscribed() []string {
	c.symbolsMu.Lock()
	defer c.symbolsMu.Unlock()

	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	return out
}

// write sends msg on the live connection; a no-op while disconnected
func (c *StreamClient) write(msg subscribeMessage) error {
	if len(msg.Symbols) == 0 {
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%s: %w", msg.Action, err)
	}
	return nil
}

func (c *StreamClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			var err error
			if conn != nil {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
			c.connMu.Unlock()

			if err != nil {
				c.logger.WithError(err).Warn("Failed to send ping")
			}
		}
	}
}
