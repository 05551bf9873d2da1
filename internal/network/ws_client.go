package network

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"labwatch/internal/domain"
	"labwatch/internal/protocol"

	"github.com/gorilla/websocket"
)

// HeaderHardwareAddress must match the server's device header
const HeaderHardwareAddress = "X-Hardware-Address"

var errSendQueueFull = errors.New("send queue full")

type outbound struct {
	binary bool
	data   []byte
}

// WSClient keeps the agent's relay connection open, reconnecting after
// failures.
type WSClient struct {
	serverAddr      string
	token           string
	hardwareAddress string
	retryInterval   time.Duration

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once

	// Callbacks, set before Start
	OnConnect    func()
	OnDisconnect func()
	OnMessage    func(msg protocol.Message)

	mu          sync.Mutex
	conn        *websocket.Conn
	isConnected bool
}

// NewWSClient creates a client for the relay at serverAddr. serverAddr may
// be host:port or an http(s) or ws(s) URL.
func NewWSClient(serverAddr, token, hardwareAddress string) *WSClient {
	return &WSClient{
		serverAddr:      serverAddr,
		token:           token,
		hardwareAddress: hardwareAddress,
		retryInterval:   5 * time.Second,
		send:            make(chan outbound, 16),
		done:            make(chan struct{}),
	}
}

// SetRetryInterval changes the delay between reconnection attempts
func (c *WSClient) SetRetryInterval(d time.Duration) {
	if d > 0 {
		c.retryInterval = d
	}
}

// Start begins the client loop (connect & process)
func (c *WSClient) Start() {
	go c.loop()
}

func (c *WSClient) loop() {
	for {
		c.connect()

		select {
		case <-c.done:
			return
		case <-time.After(c.retryInterval):
			log.Println("WS Client: Attempting reconnection...")
		}
	}
}

func wsURL(serverAddr string) string {
	u := url.URL{Scheme: "ws", Host: serverAddr, Path: "/ws"}
	if parsed, err := url.Parse(serverAddr); err == nil && parsed.Host != "" {
		u.Host = parsed.Host
		switch parsed.Scheme {
		case "https", "wss":
			u.Scheme = "wss"
		}
	}
	return u.String()
}

func (c *WSClient) connect() {
	target := wsURL(c.serverAddr)
	log.Printf("WS Client: Connecting to %s", target)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set(HeaderHardwareAddress, c.hardwareAddress)

	conn, resp, err := websocket.DefaultDialer.Dial(target, header)
	if err != nil {
		if resp != nil {
			log.Printf("WS Client: Connection refused: %s", resp.Status)
		} else {
			log.Printf("WS Client: Connection failed: %v", err)
		}
		return
	}
	defer conn.Close()

	// Anything queued for a previous connection is stale
	c.drain()

	c.mu.Lock()
	c.conn = conn
	c.isConnected = true
	c.mu.Unlock()

	log.Println("WS Client: Connected to server")

	connDone := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(connDone)
		c.writePump(conn, stop)
	}()

	if c.OnConnect != nil {
		c.OnConnect()
	}

	c.readPump(conn)

	c.mu.Lock()
	c.isConnected = false
	c.conn = nil
	c.mu.Unlock()

	close(stop)
	<-connDone

	if c.OnDisconnect != nil {
		c.OnDisconnect()
	}
}

func (c *WSClient) drain() {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func (c *WSClient) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WS Client: Read error: %v", err)
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("WS Client: Invalid message: %v", err)
			continue
		}

		if msg.Type == protocol.TypeError {
			var p protocol.ErrorPayload
			if err := msg.Decode(&p); err == nil {
				log.Printf("WS Client: Server refused %s: %s", p.Refused, p.Message)
			}
			continue
		}

		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
	}
}

func (c *WSClient) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case out := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			kind := websocket.TextMessage
			if out.binary {
				kind = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(kind, out.data); err != nil {
				log.Printf("WS Client: Write error: %v", err)
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-stop:
			return
		case <-c.done:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		}
	}
}

func (c *WSClient) enqueue(out outbound) error {
	if !c.IsConnected() {
		return domain.ErrTransportDisconnected
	}
	select {
	case c.send <- out:
		return nil
	default:
		return errSendQueueFull
	}
}

// SendMessage queues a JSON message
func (c *WSClient) SendMessage(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(outbound{data: data})
}

// SendBinary queues an encoded frame. Frames are dropped while the queue is
// full or the connection is down.
func (c *WSClient) SendBinary(data []byte) error {
	return c.enqueue(outbound{binary: true, data: data})
}

// IsConnected returns true if client is connected to the server
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected
}

// Close stops the client and its reconnect loop
func (c *WSClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
