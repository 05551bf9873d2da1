package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"labwatch/internal/auth"
	"labwatch/internal/ctrllock"
	"labwatch/internal/domain"
	"labwatch/internal/protocol"
	"labwatch/internal/relay"
	"labwatch/internal/session"
	"labwatch/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	testHW          = "02:00:00:00:00:01"
	testDeviceToken = "lab-token"
)

type fixture struct {
	srv    *Server
	mem    *store.Memory
	tokens *auth.TokenManager
	hub    *relay.Hub
}

func setup(t *testing.T, rdb *redis.Client, opts Options) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	ctx := context.Background()
	err := mem.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateDevice(ctx, &domain.Device{ID: "dev-1", HardwareAddress: testHW, LabID: "lab-1", Name: "PC-01"}); err != nil {
			return err
		}
		if err := tx.CreateDevice(ctx, &domain.Device{ID: "dev-2", HardwareAddress: "02:00:00:00:00:02", LabID: "lab-1"}); err != nil {
			return err
		}
		return tx.CreateUser(ctx, &domain.DeviceUser{ID: "u1", Name: "Ada", Role: domain.RoleStudent})
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	registry := session.New(mem)
	hub := relay.NewHub(ctrllock.NewMemory(clockwork.NewRealClock()), 30*time.Second)
	registry.SetOnChange(hub.NotifySession)
	tokens := auth.NewTokenManager("secret", testDeviceToken)

	return &fixture{
		srv:    NewServer(registry, hub, tokens, rdb, opts),
		mem:    mem,
		tokens: tokens,
		hub:    hub,
	}
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) controller(t *testing.T, userID string, role domain.UserRole) string {
	t.Helper()
	tok, err := f.tokens.Issue(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func TestHealth(t *testing.T) {
	f := setup(t, nil, Options{})
	w := f.do(t, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestDeviceID(t *testing.T) {
	f := setup(t, nil, Options{})

	w := f.do(t, "GET", "/api/v1/devices/"+testHW+"/id", testDeviceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["device_id"] != "dev-1" || resp["lab_id"] != "lab-1" {
		t.Errorf("unexpected response %v", resp)
	}

	w = f.do(t, "GET", "/api/v1/devices/02:00:00:00:00:99/id", testDeviceToken, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unregistered device, got %d", w.Code)
	}

	w = f.do(t, "GET", "/api/v1/devices/"+testHW+"/id", "wrong", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for bad device token, got %d", w.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := setup(t, nil, Options{})
	student := f.controller(t, "u1", domain.RoleStudent)

	w := f.do(t, "GET", "/api/v1/devices/"+testHW+"/active-user", testDeviceToken, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with nobody bound, got %d", w.Code)
	}

	w = f.do(t, "POST", "/api/v1/sessions", student, sessionReq{DeviceID: "dev-1", UserID: "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	var out session.Outcome
	json.Unmarshal(w.Body.Bytes(), &out)
	if out.Result != session.LoggedIn || out.DeviceID != "dev-1" {
		t.Errorf("unexpected outcome %+v", out)
	}

	w = f.do(t, "GET", "/api/v1/devices/"+testHW+"/active-user", testDeviceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var user domain.DeviceUser
	json.Unmarshal(w.Body.Bytes(), &user)
	if user.ID != "u1" || user.Name != "Ada" {
		t.Errorf("unexpected active user %+v", user)
	}

	// Second request toggles the session off regardless of device
	w = f.do(t, "POST", "/api/v1/sessions", student, sessionReq{DeviceID: "dev-2", UserID: "u1"})
	json.Unmarshal(w.Body.Bytes(), &out)
	if w.Code != http.StatusOK || out.Result != session.LoggedOut || out.DeviceID != "dev-1" {
		t.Errorf("expected logout from dev-1, got %d %+v", w.Code, out)
	}
}

func TestSessionErrors(t *testing.T) {
	f := setup(t, nil, Options{})
	teacher := f.controller(t, "t1", domain.RoleTeacher)
	student := f.controller(t, "u1", domain.RoleStudent)

	w := f.do(t, "POST", "/api/v1/sessions", "", sessionReq{DeviceID: "dev-1", UserID: "u1"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	w = f.do(t, "POST", "/api/v1/sessions", student, sessionReq{DeviceID: "dev-1", UserID: "u2"})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for another user's session, got %d", w.Code)
	}

	w = f.do(t, "POST", "/api/v1/sessions", teacher, sessionReq{DeviceID: "missing", UserID: "u1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown device, got %d", w.Code)
	}

	if w = f.do(t, "POST", "/api/v1/sessions", teacher, sessionReq{DeviceID: "dev-1", UserID: "u1"}); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	w = f.do(t, "POST", "/api/v1/sessions", teacher, sessionReq{DeviceID: "dev-1", UserID: "u2"})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for busy device, got %d", w.Code)
	}

	w = f.do(t, "POST", "/api/v1/sessions", teacher, map[string]string{"device_id": "dev-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing user_id, got %d", w.Code)
	}
}

func TestPowerAndForceLogout(t *testing.T) {
	f := setup(t, nil, Options{})

	w := f.do(t, "POST", "/api/v1/devices/"+testHW+"/power", testDeviceToken, map[string]string{"state": "on"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	if logs := f.mem.PowerLogs(); len(logs) != 1 || logs[0].State != domain.PowerOn {
		t.Errorf("unexpected power logs %+v", logs)
	}

	w = f.do(t, "POST", "/api/v1/devices/"+testHW+"/power", testDeviceToken, map[string]string{"state": "exploded"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown state, got %d", w.Code)
	}

	w = f.do(t, "POST", "/api/v1/devices/"+testHW+"/force-logout", testDeviceToken, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "no_session") {
		t.Errorf("Expected idempotent no-op, got %d %s", w.Code, w.Body)
	}

	teacher := f.controller(t, "t1", domain.RoleTeacher)
	f.do(t, "POST", "/api/v1/sessions", teacher, sessionReq{DeviceID: "dev-1", UserID: "u1"})
	w = f.do(t, "POST", "/api/v1/devices/"+testHW+"/force-logout", testDeviceToken, nil)
	var out session.Outcome
	json.Unmarshal(w.Body.Bytes(), &out)
	if w.Code != http.StatusOK || out.Result != session.LoggedOut || !out.Forced {
		t.Errorf("expected forced logout, got %d %+v", w.Code, out)
	}
	if len(f.mem.Bindings()) != 0 {
		t.Errorf("expected no bindings after forced logout")
	}
}

func TestSessionRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	f := setup(t, rdb, Options{SessionLimit: 2, SessionWindow: time.Minute})
	student := f.controller(t, "u1", domain.RoleStudent)

	for i := 0; i < 2; i++ {
		if w := f.do(t, "POST", "/api/v1/sessions", student, sessionReq{DeviceID: "dev-1", UserID: "u1"}); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := f.do(t, "POST", "/api/v1/sessions", student, sessionReq{DeviceID: "dev-1", UserID: "u1"})
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}

	mr.FastForward(2 * time.Minute)
	if w := f.do(t, "POST", "/api/v1/sessions", student, sessionReq{DeviceID: "dev-1", UserID: "u1"}); w.Code != http.StatusOK {
		t.Errorf("Expected 200 after window, got %d", w.Code)
	}
}

func TestWebSocketLoginNotification(t *testing.T) {
	f := setup(t, nil, Options{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testDeviceToken)
	header.Set(HeaderHardwareAddress, testHW)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !f.hub.DeviceOnline("dev-1") {
		if time.Now().After(deadline) {
			t.Fatalf("device never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	teacher := f.controller(t, "t1", domain.RoleTeacher)
	if w := f.do(t, "POST", "/api/v1/sessions", teacher, sessionReq{DeviceID: "dev-1", UserID: "u1"}); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	var p protocol.UserPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if msg.Type != protocol.TypeLoginUser || p.UserID != "u1" {
		t.Errorf("unexpected message %s %+v", msg.Type, p)
	}
}

func TestWebSocketRejectsUnregisteredDevice(t *testing.T) {
	f := setup(t, nil, Options{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testDeviceToken)
	header.Set(HeaderHardwareAddress, "02:00:00:00:00:99")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 handshake response, got %v", resp)
	}
}
