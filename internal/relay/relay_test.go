package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"labwatch/internal/auth"
	"labwatch/internal/ctrllock"
	"labwatch/internal/domain"
	"labwatch/internal/protocol"
	"labwatch/internal/session"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var (
	teacher = auth.Principal{Kind: auth.KindController, Subject: "t1", Role: domain.RoleTeacher}
	student = auth.Principal{Kind: auth.KindController, Subject: "s1", Role: domain.RoleStudent}
	device  = auth.Principal{Kind: auth.KindDevice, Subject: "aa:bb:cc:dd:ee:ff"}
)

func newTestHub() (*Hub, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewHub(ctrllock.NewMemory(clock), 30*time.Second), clock
}

func send(t *testing.T, c *Client, typ protocol.MessageType, deviceID string, payload interface{}) {
	t.Helper()
	msg, err := protocol.NewMessage(typ, deviceID, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	data, _ := json.Marshal(msg)
	c.handleText(context.Background(), data)
}

func next(t *testing.T, c *Client) protocol.Message {
	t.Helper()
	select {
	case out := <-c.send:
		var msg protocol.Message
		if err := json.Unmarshal(out.Data, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", out.Data, err)
		}
		return msg
	default:
		t.Fatalf("no message queued for %s", c.id)
	}
	return protocol.Message{}
}

func expectEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case out := <-c.send:
		t.Fatalf("unexpected message for %s: %s", c.id, out.Data)
	default:
	}
}

func expectError(t *testing.T, c *Client, code string) {
	t.Helper()
	msg := next(t, c)
	if msg.Type != protocol.TypeError {
		t.Fatalf("expected error message, got %s", msg.Type)
	}
	var p protocol.ErrorPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Code != code {
		t.Errorf("expected code %q, got %q (%s)", code, p.Code, p.Message)
	}
}

func attachDevice(h *Hub, deviceID string) *Client {
	d := newClient(h, device, deviceID, 8)
	d.markJoined(deviceID, true)
	h.AttachDevice(deviceID, d)
	return d
}

func TestPublishSkipsSender(t *testing.T) {
	h, _ := newTestHub()
	a := newClient(h, teacher, "", 4)
	b := newClient(h, teacher, "", 4)
	h.Join("dev-1", a)
	h.Join("dev-1", b)

	if n := h.Publish("dev-1", Outbound{Data: []byte(`{}`)}, a); n != 1 {
		t.Errorf("expected 1 delivery, got %d", n)
	}
	expectEmpty(t, a)
	if len(b.send) != 1 {
		t.Errorf("expected b to receive the message")
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	h, _ := newTestHub()
	slow := newClient(h, teacher, "", 1)
	h.Join("dev-1", slow)

	h.Publish("dev-1", Outbound{Data: []byte(`1`)}, nil)
	if n := h.Publish("dev-1", Outbound{Data: []byte(`2`)}, nil); n != 0 {
		t.Errorf("expected full queue to drop, got %d deliveries", n)
	}
}

func TestLeaveRemovesEmptyTopic(t *testing.T) {
	h, _ := newTestHub()
	c := newClient(h, teacher, "", 4)
	send(t, c, protocol.TypeJoin, "dev-1", nil)
	if h.Subscribers("dev-1") != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	send(t, c, protocol.TypeLeave, "dev-1", nil)
	if h.Subscribers("dev-1") != 0 {
		t.Errorf("expected topic to be empty")
	}
	h.mu.RLock()
	_, ok := h.topics["dev-1"]
	h.mu.RUnlock()
	if ok {
		t.Errorf("expected empty topic to be removed")
	}
}

func TestInputRequiresControlToken(t *testing.T) {
	h, _ := newTestHub()
	d := attachDevice(h, "dev-1")
	c := newClient(h, teacher, "", 8)

	send(t, c, protocol.TypeJoin, "dev-1", nil)
	send(t, c, protocol.TypePointerClick, "dev-1", protocol.PointerClickPayload{Button: "left"})
	// Acquire on first input grants the token when nobody holds it
	if msg := next(t, d); msg.Type != protocol.TypePointerClick {
		t.Fatalf("expected pointer-click on device, got %s", msg.Type)
	}

	other := newClient(h, teacher, "", 8)
	send(t, other, protocol.TypeJoin, "dev-1", protocol.JoinPayload{Control: true})
	expectError(t, other, CodeControlHeld)

	send(t, other, protocol.TypePointerClick, "dev-1", protocol.PointerClickPayload{Button: "left"})
	expectError(t, other, CodeControlHeld)
	expectEmpty(t, d)
}

func TestControlExpiresAndTransfers(t *testing.T) {
	h, clock := newTestHub()
	d := attachDevice(h, "dev-1")
	first := newClient(h, teacher, "", 8)
	second := newClient(h, teacher, "", 8)

	var granted []string
	h.SetOnControlGrant(func(deviceID, holder string) { granted = append(granted, holder) })

	send(t, first, protocol.TypeJoin, "dev-1", protocol.JoinPayload{Control: true})
	expectEmpty(t, first)
	send(t, second, protocol.TypeJoin, "dev-1", protocol.JoinPayload{Control: true})
	expectError(t, second, CodeControlHeld)

	clock.Advance(31 * time.Second)

	send(t, second, protocol.TypeKeyEvent, "dev-1", protocol.KeyEventPayload{PrimaryKey: "a"})
	if msg := next(t, d); msg.Type != protocol.TypeKeyEvent {
		t.Fatalf("expected key-event on device, got %s", msg.Type)
	}
	if len(granted) != 2 || granted[0] != first.id || granted[1] != second.id {
		t.Errorf("unexpected grants: %v", granted)
	}
}

func TestStudentCannotControl(t *testing.T) {
	h, _ := newTestHub()
	c := newClient(h, student, "", 8)
	send(t, c, protocol.TypeJoin, "dev-1", protocol.JoinPayload{Control: true})
	expectError(t, c, CodeUnauthorized)
	if h.Subscribers("dev-1") != 1 {
		t.Errorf("student should still be joined as a watcher")
	}
	send(t, c, protocol.TypePointerMove, "dev-1", protocol.PointerMovePayload{X: 1, Y: 1})
	expectError(t, c, CodeUnauthorized)
}

func TestInputRequiresJoin(t *testing.T) {
	h, _ := newTestHub()
	c := newClient(h, teacher, "", 8)
	send(t, c, protocol.TypePointerScroll, "dev-1", protocol.ScrollPayload{DY: 3})
	expectError(t, c, CodeNotJoined)
}

func TestServerOnlyMessagesRejected(t *testing.T) {
	h, _ := newTestHub()
	c := newClient(h, teacher, "", 8)
	send(t, c, protocol.TypeLoginUser, "dev-1", protocol.UserPayload{UserID: "u"})
	expectError(t, c, CodeInvalid)
}

func TestScreenSizeReplayedToLateJoiner(t *testing.T) {
	h, _ := newTestHub()
	d := attachDevice(h, "dev-1")
	send(t, d, protocol.TypeScreenSize, "", protocol.ScreenSizePayload{Width: 1920, Height: 1080})

	c := newClient(h, student, "", 8)
	send(t, c, protocol.TypeJoin, "dev-1", nil)
	msg := next(t, c)
	if msg.Type != protocol.TypeScreenSize {
		t.Fatalf("expected screen-size replay, got %s", msg.Type)
	}
	var p protocol.ScreenSizePayload
	if err := msg.Decode(&p); err != nil || p.Width != 1920 || p.Height != 1080 {
		t.Errorf("unexpected screen size %+v (%v)", p, err)
	}
}

func TestControllerCannotPublishFrames(t *testing.T) {
	h, _ := newTestHub()
	d := attachDevice(h, "dev-1")
	c := newClient(h, teacher, "", 8)
	send(t, c, protocol.TypeJoin, "dev-1", nil)

	data, err := protocol.EncodeFrame(&protocol.Frame{Seq: 1, DeviceID: "dev-1", Payload: []byte{1}})
	if err != nil {
		t.Fatal(err)
	}
	c.handleBinary(data)
	expectError(t, c, CodeUnauthorized)
	expectEmpty(t, d)
}

func TestDeviceJoinOtherTopicRejected(t *testing.T) {
	h, _ := newTestHub()
	d := attachDevice(h, "dev-1")
	send(t, d, protocol.TypeJoin, "dev-2", nil)
	expectError(t, d, CodeUnauthorized)
}

func TestDisconnectReleasesControl(t *testing.T) {
	h, _ := newTestHub()
	first := newClient(h, teacher, "", 8)
	send(t, first, protocol.TypeJoin, "dev-1", protocol.JoinPayload{Control: true})
	first.disconnect(context.Background())

	second := newClient(h, teacher, "", 8)
	send(t, second, protocol.TypeJoin, "dev-1", protocol.JoinPayload{Control: true})
	expectEmpty(t, second)

	if first.Deliver(Outbound{Data: []byte(`x`)}) {
		t.Errorf("closed client should not accept messages")
	}
}

func TestNotifySession(t *testing.T) {
	h, _ := newTestHub()
	d := attachDevice(h, "dev-1")
	h.NotifySession(session.Outcome{Result: session.LoggedIn, DeviceID: "dev-1", UserID: "u1"})
	h.NotifySession(session.Outcome{Result: session.LoggedOut, DeviceID: "dev-1", UserID: "u1", Forced: true})

	if msg := next(t, d); msg.Type != protocol.TypeLoginUser {
		t.Errorf("expected login-user, got %s", msg.Type)
	}
	msg := next(t, d)
	var p protocol.UserPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if msg.Type != protocol.TypeLogoutUser || p.UserID != "u1" || !p.Forced {
		t.Errorf("unexpected logout message %s %+v", msg.Type, p)
	}
}

func TestWebsocketFrameRelay(t *testing.T) {
	h, _ := newTestHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("as") == "device" {
			h.ServeWS(w, r, device, "dev-1", 8)
			return
		}
		h.ServeWS(w, r, teacher, "", 8)
	}))
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	dev, _, err := websocket.DefaultDialer.Dial(base+"?as=device", nil)
	if err != nil {
		t.Fatalf("dial device: %v", err)
	}
	ctrl, _, err := websocket.DefaultDialer.Dial(base, nil)
	if err != nil {
		t.Fatalf("dial controller: %v", err)
	}
	defer ctrl.Close()

	join, _ := protocol.NewMessage(protocol.TypeJoin, "dev-1", nil)
	if err := ctrl.WriteJSON(join); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers("dev-1") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("controller never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}

	frame, _ := protocol.EncodeFrame(&protocol.Frame{Seq: 7, Timestamp: 1, DeviceID: "dev-1", Payload: []byte("jpeg")})
	if err := dev.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatal(err)
	}

	ctrl.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := ctrl.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected binary message, got %d", kind)
	}
	got, err := protocol.DecodeFrame(data)
	if err != nil || got.Seq != 7 || string(got.Payload) != "jpeg" {
		t.Errorf("unexpected frame %+v (%v)", got, err)
	}

	dev.Close()
	var stop protocol.Message
	if err := ctrl.ReadJSON(&stop); err != nil {
		t.Fatalf("read stop: %v", err)
	}
	if stop.Type != protocol.TypeScreencastStop || stop.DeviceID != "dev-1" {
		t.Errorf("expected screencast-stop for dev-1, got %+v", stop)
	}
}

func TestControlGrantFiresOncePerHolder(t *testing.T) {
	h, _ := newTestHub()
	c := newClient(h, teacher, "", 8)

	var mu sync.Mutex
	grants := 0
	h.SetOnControlGrant(func(deviceID, holder string) {
		mu.Lock()
		grants++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := h.AcquireControl(context.Background(), "dev-1", c); err != nil || !ok {
				t.Errorf("AcquireControl: ok=%v err=%v", ok, err)
			}
		}()
	}
	wg.Wait()

	// Refreshes from input do not count as grants
	if ok, _ := h.AcquireControl(context.Background(), "dev-1", c); !ok {
		t.Fatal("expected refresh to succeed")
	}
	if grants != 1 {
		t.Errorf("expected one grant callback, got %d", grants)
	}
}
