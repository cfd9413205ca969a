package collab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/gorilla/websocket"
)

func TestReconnectDelaySchedule(t *testing.T) {
	settings := DefaultTransportSettings()
	assert.Equal(t, settings.ReconnectDelay(0), 1*time.Second)
	assert.Equal(t, settings.ReconnectDelay(1), 2*time.Second)
	assert.Equal(t, settings.ReconnectDelay(2), 4*time.Second)
	assert.Equal(t, settings.ReconnectDelay(4), 16*time.Second)
	// bounded by the max delay
	assert.Equal(t, settings.ReconnectDelay(5), 30*time.Second)
	assert.Equal(t, settings.ReconnectDelay(10), 30*time.Second)
}

func fastTransportSettings() *TransportSettings {
	settings := DefaultTransportSettings()
	settings.MinReconnectDelay = 10 * time.Millisecond
	settings.MaxReconnectDelay = 20 * time.Millisecond
	settings.MaxReconnectAttempts = 20
	return settings
}

func startEchoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(messageType, message); err != nil {
				return
			}
		}
	}))
}

func wsUrl(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func awaitSignal(t *testing.T, c chan struct{}, tag string) {
	select {
	case <-c:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for %s", tag)
	}
}

func TestWebsocketTransportRoundTrip(t *testing.T) {
	server := startEchoServer(t)
	defer server.Close()

	opens := make(chan struct{}, 8)
	messages := make(chan []byte, 8)
	closes := make(chan struct{}, 8)
	events := &TransportEvents{
		Open:    func() { opens <- struct{}{} },
		Message: func(message []byte) { messages <- message },
		Close:   func() { closes <- struct{}{} },
	}

	target := func(ctx context.Context) (string, error) {
		return wsUrl(server), nil
	}

	ctx := context.Background()
	transport := NewWebsocketTransport(ctx, NewId(), target, events, fastTransportSettings())

	awaitSignal(t, opens, "open")
	assert.Equal(t, transport.IsOpen(), true)

	err := transport.Send([]byte(`{"action":"heartbeat","data":{}}`))
	assert.Equal(t, err, nil)

	select {
	case message := <-messages:
		assert.Equal(t, string(message), `{"action":"heartbeat","data":{}}`)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for echo")
	}

	transport.Close(ForceDisconnectCode, ForceDisconnectReason)
	awaitSignal(t, closes, "close")
	assert.Equal(t, transport.IsOpen(), false)

	// idempotent
	transport.Close(ForceDisconnectCode, ForceDisconnectReason)
}

func TestWebsocketTransportTargetResolvedPerAttempt(t *testing.T) {
	server := startEchoServer(t)
	defer server.Close()

	var resolves int64
	target := func(ctx context.Context) (string, error) {
		attempt := atomic.AddInt64(&resolves, 1)
		if attempt <= 2 {
			// unreachable, forces a retry with a fresh resolve
			return "ws://127.0.0.1:1", nil
		}
		return wsUrl(server), nil
	}

	opens := make(chan struct{}, 8)
	events := &TransportEvents{
		Open: func() { opens <- struct{}{} },
	}

	transport := NewWebsocketTransport(context.Background(), NewId(), target, events, fastTransportSettings())
	defer transport.Close(ForceDisconnectCode, ForceDisconnectReason)

	awaitSignal(t, opens, "open")
	assert.Equal(t, 3 <= atomic.LoadInt64(&resolves), true)
}

func TestWebsocketTransportRetryBudgetExhausted(t *testing.T) {
	target := func(ctx context.Context) (string, error) {
		return "ws://127.0.0.1:1", nil
	}

	transportErrors := make(chan error, 8)
	events := &TransportEvents{
		Error: func(err error) { transportErrors <- err },
	}

	settings := fastTransportSettings()
	settings.MaxReconnectAttempts = 3

	transport := NewWebsocketTransport(context.Background(), NewId(), target, events, settings)
	defer transport.Close(ForceDisconnectCode, ForceDisconnectReason)

	select {
	case err := <-transportErrors:
		assert.NotEqual(t, err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for transport error")
	}
}

func TestWebsocketTransportReconnectsAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var connections int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connection := atomic.AddInt64(&connections, 1)
		if connection == 1 {
			// drop the first connection immediately
			ws.Close()
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	opens := make(chan struct{}, 8)
	closes := make(chan struct{}, 8)
	events := &TransportEvents{
		Open:  func() { opens <- struct{}{} },
		Close: func() { closes <- struct{}{} },
	}

	target := func(ctx context.Context) (string, error) {
		return wsUrl(server), nil
	}

	transport := NewWebsocketTransport(context.Background(), NewId(), target, events, fastTransportSettings())
	defer transport.Close(ForceDisconnectCode, ForceDisconnectReason)

	awaitSignal(t, opens, "first open")
	awaitSignal(t, closes, "involuntary close")
	awaitSignal(t, opens, "reopen")
	assert.Equal(t, 2 <= atomic.LoadInt64(&connections), true)
}
