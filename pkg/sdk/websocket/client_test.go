package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newEventServer(t *testing.T, send func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		send(conn)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestEventStreamURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/ws"},
		{"http://127.0.0.1:8080/", "ws://127.0.0.1:8080/ws"},
		{"https://vault.example.com", "wss://vault.example.com/ws"},
		{"ws://localhost:9000/ws", "ws://localhost:9000/ws"},
	}
	for _, tc := range cases {
		if got := EventStreamURL(tc.in); got != tc.want {
			t.Fatalf("EventStreamURL(%q) got=%s want=%s", tc.in, got, tc.want)
		}
	}
}

func TestEventClientReceivesEvents(t *testing.T) {
	vaultHex := "0x0000000000000000000000000000000000000003"
	ts := newEventServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{
			"type": "fill",
			"data": map[string]any{"vault": vaultHex, "quote_in": "50000000000000000000"},
		})
		_ = conn.WriteJSON(map[string]any{
			"type": "deposit",
			"data": map[string]any{"vault": vaultHex, "assets": "100000000000000000000"},
		})
	})

	c := NewEventClient(ts.URL, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	defer c.Stop()

	var got []Envelope
	for len(got) < 2 {
		select {
		case env := <-c.Messages():
			got = append(got, env)
		case err := <-c.Errors():
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for events, got %d", len(got))
		}
	}

	if got[0].Type != EventFill || got[1].Type != EventDeposit {
		t.Fatalf("event types got=[%s %s]", got[0].Type, got[1].Type)
	}
	var fill struct {
		Vault   string `json:"vault"`
		QuoteIn string `json:"quote_in"`
	}
	if err := json.Unmarshal(got[0].Data, &fill); err != nil {
		t.Fatalf("decode fill data: %v", err)
	}
	if fill.Vault != vaultHex || fill.QuoteIn != "50000000000000000000" {
		t.Fatalf("fill data got=%+v", fill)
	}
}

func TestEventClientDispatchesToHandler(t *testing.T) {
	seen := make(chan Envelope, 1)
	ts := newEventServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"type": "relayer_fee_updated", "data": map[string]any{"fee_bps": 250}})
	})

	c := NewEventClient(ts.URL, func(env Envelope) {
		select {
		case seen <- env:
		default:
		}
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	defer c.Stop()

	select {
	case env := <-seen:
		if env.Type != EventRelayerFeeUpdated {
			t.Fatalf("handler event type got=%s", env.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("handler was not called")
	}
}

func TestEventClientStop(t *testing.T) {
	ts := newEventServer(t, func(conn *websocket.Conn) {})

	c := NewEventClient(ts.URL, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	if !c.IsRunning() {
		t.Fatalf("IsRunning got=false want=true after Start")
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatalf("second Start should fail while running")
	}

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatalf("Stop did not return")
	}
	if c.IsRunning() {
		t.Fatalf("IsRunning got=true want=false after Stop")
	}
	// 重复 Stop 应当直接返回
	c.Stop()
}
