package network

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"labwatch/internal/domain"
	"labwatch/internal/protocol"

	"github.com/gorilla/websocket"
)

const hw = "02:00:00:00:00:01"

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	check := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "bad device token"})
			return false
		}
		return true
	}
	mux.HandleFunc("/api/v1/devices/"+hw+"/id", func(w http.ResponseWriter, r *http.Request) {
		if check(w, r) {
			json.NewEncoder(w).Encode(map[string]string{"device_id": "dev-1"})
		}
	})
	mux.HandleFunc("/api/v1/devices/"+hw+"/active-user", func(w http.ResponseWriter, r *http.Request) {
		if check(w, r) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "no active session"})
		}
	})
	mux.HandleFunc("/api/v1/devices/"+hw+"/power", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if check(w, r) && r.Method == http.MethodPost && body["state"] == "on" {
			json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": ServiceName})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPIClientBootstrap(t *testing.T) {
	srv := fakeServer(t)
	c := NewAPIClient(srv.URL, "tok")
	ctx := context.Background()

	id, err := c.ResolveDeviceID(ctx, hw)
	if err != nil || id != "dev-1" {
		t.Fatalf("ResolveDeviceID = %q, %v", id, err)
	}

	if _, err := c.ActiveUser(ctx, hw); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}

	if err := c.ReportPower(ctx, hw, domain.PowerOn); err != nil {
		t.Errorf("ReportPower: %v", err)
	}

	if _, err := c.ResolveDeviceID(ctx, "02:00:00:00:00:99"); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound for unknown device, got %v", err)
	}

	bad := NewAPIClient(srv.URL, "wrong")
	if _, err := bad.ResolveDeviceID(ctx, hw); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated for bad token, got %v", err)
	}
}

func TestAPIClientTransportError(t *testing.T) {
	c := NewAPIClient("127.0.0.1:1", "tok")
	if _, err := c.ResolveDeviceID(context.Background(), hw); !errors.Is(err, domain.ErrTransportDisconnected) {
		t.Errorf("Expected ErrTransportDisconnected, got %v", err)
	}
}

func TestHTTPBase(t *testing.T) {
	cases := map[string]string{
		"lab:8080":         "http://lab:8080",
		"http://lab:8080/": "http://lab:8080",
		"https://lab":      "https://lab",
		"wss://lab":        "https://lab",
	}
	for in, want := range cases {
		if got := httpBase(in); got != want {
			t.Errorf("httpBase(%q) = %q, want %q", in, got, want)
		}
	}
	if got := wsURL("https://lab:443"); got != "wss://lab:443/ws" {
		t.Errorf("wsURL = %q", got)
	}
	if got := wsURL("10.0.0.5:8080"); got != "ws://10.0.0.5:8080/ws" {
		t.Errorf("wsURL = %q", got)
	}
}

func TestProbeServer(t *testing.T) {
	srv := fakeServer(t)
	if !probeServer(context.Background(), strings.TrimPrefix(srv.URL, "http://")) {
		t.Error("Expected fake server to be recognized")
	}
	if probeServer(context.Background(), "127.0.0.1:1") {
		t.Error("Expected closed port to be rejected")
	}
}

func TestWSClientRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan protocol.Message, 4)
	var connects atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderHardwareAddress) != hw || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connects.Add(1)

		login, _ := protocol.NewMessage(protocol.TypeLoginUser, "dev-1", protocol.UserPayload{UserID: "u1"})
		conn.WriteJSON(login)

		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		received <- msg
		if n == 1 {
			// Drop the first connection to force a reconnect
			return
		}
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewWSClient(srv.URL, "tok", hw)
	c.SetRetryInterval(10 * time.Millisecond)

	messages := make(chan protocol.Message, 4)
	var disconnects atomic.Int32
	c.OnConnect = func() {
		join, _ := protocol.NewMessage(protocol.TypeJoin, "dev-1", nil)
		if err := c.SendMessage(join); err != nil {
			t.Errorf("SendMessage: %v", err)
		}
	}
	c.OnMessage = func(msg protocol.Message) { messages <- msg }
	c.OnDisconnect = func() { disconnects.Add(1) }
	c.Start()
	defer c.Close()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			if msg.Type != protocol.TypeJoin {
				t.Errorf("Expected join, got %s", msg.Type)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("connection %d: no join received", i+1)
		}
		select {
		case msg := <-messages:
			if msg.Type != protocol.TypeLoginUser {
				t.Errorf("Expected login-user, got %s", msg.Type)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("connection %d: no message delivered", i+1)
		}
	}
	if disconnects.Load() < 1 {
		t.Errorf("Expected a disconnect callback before reconnecting")
	}
}

func TestWSClientSendWhileDisconnected(t *testing.T) {
	c := NewWSClient("127.0.0.1:1", "tok", hw)
	if err := c.SendBinary([]byte{1}); !errors.Is(err, domain.ErrTransportDisconnected) {
		t.Errorf("Expected ErrTransportDisconnected, got %v", err)
	}
}
