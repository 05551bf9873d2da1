package relay

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"labwatch/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	// Frames are JPEG screen captures and can be large
	maxMessageSize = 8 << 20

	defaultSendQueue = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	// Browsers on the lab network connect from the dashboard origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection, either a controller or a device.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	id        string
	principal auth.Principal
	deviceID  string // set for device principals

	mu     sync.Mutex
	send   chan Outbound
	closed bool
	topics map[string]bool
}

func newClient(hub *Hub, principal auth.Principal, deviceID string, queue int) *Client {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	return &Client{
		hub:       hub,
		id:        uuid.NewString(),
		principal: principal,
		deviceID:  deviceID,
		send:      make(chan Outbound, queue),
		topics:    make(map[string]bool),
	}
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// Deliver queues out without blocking.
func (c *Client) Deliver(out Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- out:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) joined(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[deviceID]
}

func (c *Client) markJoined(deviceID string, in bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if in {
		c.topics[deviceID] = true
	} else {
		delete(c.topics, deviceID)
	}
}

func (c *Client) joinedTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// ServeWS upgrades the request and runs the connection until it closes.
// deviceID must be set when principal is a device.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, principal auth.Principal, deviceID string, queue int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Relay: failed to upgrade connection: %v", err)
		return
	}

	c := newClient(h, principal, deviceID, queue)
	c.conn = conn
	log.Printf("Relay: %s connected as %s %s from %s", c.id, principal.Kind, principal.Subject, r.RemoteAddr)

	if principal.Kind == auth.KindDevice {
		c.markJoined(deviceID, true)
		h.AttachDevice(deviceID, c)
	}

	go c.writePump()
	c.readPump()
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.disconnect(context.Background())
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	ctx := context.Background()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Relay: read error on %s: %v", c.id, err)
			}
			break
		}

		switch kind {
		case websocket.TextMessage:
			c.handleText(ctx, data)
		case websocket.BinaryMessage:
			c.handleBinary(data)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case out, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			kind := websocket.TextMessage
			if out.Binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, out.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
