package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

func TestStreamClient_HandleMessage(t *testing.T) {
	pc := cache.NewPriceCache(time.Minute, logger.Nop())
	c := NewStreamClient("ws://unused", pc, logger.Nop())

	require.NoError(t, c.HandleMessage([]byte(`{"symbol":"005930","price":"71200","ts":"2026-01-05T09:00:01Z"}`)))
	got, ok := pc.Get("005930")
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(71200)))
	assert.Equal(t, realtime.SourceStream, got.Source)

	assert.Error(t, c.HandleMessage([]byte(`not json`)))
	assert.Error(t, c.HandleMessage([]byte(`{"price":"1"}`)))

	assert.Error(t, c.HandleMessage([]byte(`{"symbol":"000660","price":"180000"}`)))
	_, ok = pc.Get("000660")
	assert.False(t, ok, "tick without ts never reaches the cache")
}

func TestStreamClient_SyncWhileDisconnected(t *testing.T) {
	c := NewStreamClient("ws://unused", cache.NewPriceCache(time.Minute, logger.Nop()), logger.Nop())

	require.NoError(t, c.Sync([]string{"A", "B"}))
	assert.ElementsMatch(t, []string{"A", "B"}, c.Subscribed())

	require.NoError(t, c.Sync([]string{"B", "C"}))
	assert.ElementsMatch(t, []string{"B", "C"}, c.Subscribed())
}

func TestStreamClient_Run(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeMessage, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg subscribeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		subscribed <- msg

		for _, s := range msg.Symbols {
			_ = conn.WriteJSON(map[string]string{"symbol": s, "price": "1500", "ts": time.Now().Format(time.RFC3339Nano)})
		}
		// 클라이언트 종료까지 대기
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	pc := cache.NewPriceCache(time.Minute, logger.Nop())
	c := NewStreamClient("ws"+strings.TrimPrefix(srv.URL, "http"), pc, logger.Nop())
	require.NoError(t, c.Sync([]string{"A"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case msg := <-subscribed:
		assert.Equal(t, subscribeMessage{Action: "subscribe", Symbols: []string{"A"}}, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe message")
	}

	assert.Eventually(t, func() bool {
		q, ok := pc.Quote("A")
		return ok && q.Price.Equal(decimal.NewFromInt(1500))
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
