package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aus-receiving/api/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const testSecret = "test-secret-key-for-ws"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

// mockClient creates a client for testing without a real WebSocket connection
func mockClient(hub *Hub, orderID string) *Client {
	return &Client{
		hub:     hub,
		orderID: orderID,
		send:    make(chan []byte, 256),
	}
}

func TestHubRegistration(t *testing.T) {
	hub := startHub(t)
	client := mockClient(hub, "100")

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.Subscribers("100") != 1 {
		t.Fatal("client not registered in order room")
	}
}

func TestHubCleanupEmptyRoom(t *testing.T) {
	hub := startHub(t)
	client1 := mockClient(hub, "100")
	client2 := mockClient(hub, "100")

	hub.register <- client1
	hub.register <- client2
	time.Sleep(10 * time.Millisecond)
	if n := hub.Subscribers("100"); n != 2 {
		t.Fatalf("expected 2 clients, got %d", n)
	}

	hub.unregister <- client1
	time.Sleep(10 * time.Millisecond)
	if n := hub.Subscribers("100"); n != 1 {
		t.Fatalf("expected 1 client after first unregister, got %d", n)
	}

	hub.unregister <- client2
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if hub.rooms["100"] != nil {
		t.Fatal("room should be deleted when last client unregisters")
	}
}

func TestBroadcastIsolatedPerOrder(t *testing.T) {
	hub := startHub(t)

	clients := map[string][]*Client{
		"100": {mockClient(hub, "100"), mockClient(hub, "100")},
		"200": {mockClient(hub, "200")},
	}
	for _, list := range clients {
		for _, c := range list {
			hub.register <- c
		}
	}
	time.Sleep(10 * time.Millisecond)

	payload := json.RawMessage(`{"barcode":"ABC123","received_qty":"5"}`)
	hub.BroadcastToOrder("100", Event{Type: "line.received", Payload: payload})

	for orderID, list := range clients {
		for i, c := range list {
			select {
			case msg := <-c.send:
				if orderID != "100" {
					t.Fatalf("order %s client %d should not receive message", orderID, i)
				}
				var received Event
				if err := json.Unmarshal(msg, &received); err != nil {
					t.Fatalf("unmarshal error: %v", err)
				}
				if received.Type != "line.received" {
					t.Errorf("wrong event type: %s", received.Type)
				}
				if string(received.Payload) != string(payload) {
					t.Errorf("expected payload %s, got %s", payload, received.Payload)
				}
			case <-time.After(50 * time.Millisecond):
				if orderID == "100" {
					t.Fatalf("order 100 client %d should have received message", i)
				}
			}
		}
	}
}

func TestNotifyMarshalsPayload(t *testing.T) {
	hub := startHub(t)
	client := mockClient(hub, "100")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Notify("100", "line.added", map[string]string{"barcode": "XYZ9"})

	select {
	case msg := <-client.send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}
		if received.Type != "line.added" {
			t.Errorf("wrong event type: %s", received.Type)
		}
		if !strings.Contains(string(received.Payload), `"XYZ9"`) {
			t.Errorf("unexpected payload: %s", received.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client did not receive message")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := startHub(t)
	client := &Client{hub: hub, orderID: "100", send: make(chan []byte)} // unbuffered, never read
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastToOrder("100", Event{Type: "line.received", Payload: json.RawMessage(`{}`)})
	time.Sleep(20 * time.Millisecond)

	if hub.Subscribers("100") != 0 {
		t.Fatal("slow client should have been dropped")
	}
	if _, ok := <-client.send; ok {
		t.Fatal("send channel should be closed")
	}
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := mockClient(hub, "100")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	cancel()
	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	if _, ok := <-client.send; ok {
		t.Fatal("send channel should be closed on shutdown")
	}
	// Pumps must not block once the hub is gone.
	hub.leave(client)
}

func TestServeWS(t *testing.T) {
	hub := startHub(t)
	r := chi.NewRouter()
	r.Get("/ws/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, testSecret, w, r)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/orders/100"

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			t.Fatal("expected dial error")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %v", resp)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=garbage", nil)
		if err == nil {
			t.Fatal("expected dial error")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %v", resp)
		}
	})

	t.Run("receives order events", func(t *testing.T) {
		token, err := auth.GenerateToken(testSecret, uuid.New(), "jdoe", "RECEIVER")
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()

		deadline := time.Now().Add(time.Second)
		for hub.Subscribers("100") == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		hub.Notify("100", "line.received", map[string]string{"barcode": "ABC123"})

		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if received.Type != "line.received" {
			t.Errorf("wrong event type: %s", received.Type)
		}
	})
}
