package homeassistant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeHAWebSocket speaks the auth handshake and answers
// config/area_registry/list requests.
func fakeHAWebSocket(t *testing.T, token string, areas []Area) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "auth_required"})
		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] != token {
			conn.WriteJSON(map[string]string{"type": "auth_invalid"})
			return
		}
		conn.WriteJSON(map[string]string{"type": "auth_ok"})

		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			id := req["id"]
			switch req["type"] {
			case "config/area_registry/list":
				conn.WriteJSON(map[string]any{"id": id, "type": "result", "success": true, "result": areas})
			default:
				conn.WriteJSON(map[string]any{
					"id": id, "type": "result", "success": false,
					"error": map[string]string{"code": "unknown_command", "message": "Unknown command."},
				})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWSClient_GetAreaRegistry(t *testing.T) {
	srv := fakeHAWebSocket(t, "ws-token", []Area{
		{AreaID: "kitchen", Name: "Kitchen"},
		{AreaID: "office", Name: "Office", Aliases: []string{"study"}},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewWSClient(srv.URL, "ws-token", nil)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	if !c.Connected() {
		t.Fatal("Connected() = false after Connect")
	}

	areas, err := c.GetAreaRegistry(ctx)
	if err != nil {
		t.Fatalf("GetAreaRegistry() error: %v", err)
	}
	if len(areas) != 2 || areas[1].AreaID != "office" || areas[1].Aliases[0] != "study" {
		t.Errorf("areas = %+v", areas)
	}
}

func TestWSClient_AuthInvalid(t *testing.T) {
	srv := fakeHAWebSocket(t, "ws-token", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewWSClient(srv.URL, "wrong", nil)
	if err := c.Connect(ctx); err == nil {
		c.Close()
		t.Fatal("Connect() with bad token should fail")
	}
	if c.Connected() {
		t.Error("Connected() = true after failed auth")
	}
}

func TestWSClient_NotConnected(t *testing.T) {
	c := NewWSClient("http://127.0.0.1:1", "t", nil)
	_, err := c.GetAreaRegistry(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("GetAreaRegistry() error = %v, want ErrNotConnected", err)
	}
}
