// Package relay routes control messages and screen frames between lab
// devices and the controllers watching them. Every device id is a topic.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"labwatch/internal/ctrllock"
	"labwatch/internal/protocol"
	"labwatch/internal/session"
)

// Outbound is one websocket message queued for a subscriber
type Outbound struct {
	Binary bool
	Data   []byte
}

// Subscriber receives messages published to a topic. Deliver must not block;
// it returns false if the message was dropped.
type Subscriber interface {
	ID() string
	Deliver(out Outbound) bool
}

// Hub tracks topic membership and fans messages out. Delivery is
// at-most-once: a subscriber with a full queue misses the message.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[string]Subscriber
	devices map[string]Subscriber // device id -> the device's own connection
	screens map[string][]byte     // last screen-size announcement per device

	locker     ctrllock.Locker
	controlTTL time.Duration

	cbMu           sync.Mutex
	onControlGrant func(deviceID, holderID string)
}

// NewHub creates a hub that arbitrates control through locker.
func NewHub(locker ctrllock.Locker, controlTTL time.Duration) *Hub {
	if controlTTL <= 0 {
		controlTTL = 30 * time.Second
	}
	return &Hub{
		topics:     make(map[string]map[string]Subscriber),
		devices:    make(map[string]Subscriber),
		screens:    make(map[string][]byte),
		locker:     locker,
		controlTTL: controlTTL,
	}
}

// SetOnControlGrant sets the callback invoked when a controller newly
// acquires a device's control token.
func (h *Hub) SetOnControlGrant(callback func(deviceID, holderID string)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onControlGrant = callback
}

// Join subscribes sub to deviceID's topic. The device's last screen-size
// announcement, if any, is replayed to the new subscriber.
func (h *Hub) Join(deviceID string, sub Subscriber) {
	h.mu.Lock()
	members, ok := h.topics[deviceID]
	if !ok {
		members = make(map[string]Subscriber)
		h.topics[deviceID] = members
	}
	members[sub.ID()] = sub
	screen := h.screens[deviceID]
	count := len(members)
	h.mu.Unlock()

	if screen != nil {
		sub.Deliver(Outbound{Data: screen})
	}
	log.Printf("Relay: %s joined %s (%d subscribers)", sub.ID(), deviceID, count)
}

// Leave unsubscribes sub from deviceID's topic.
func (h *Hub) Leave(deviceID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.topics[deviceID]
	if !ok {
		return
	}
	delete(members, sub.ID())
	if len(members) == 0 {
		delete(h.topics, deviceID)
	}
}

// Subscribers returns the number of connections joined to deviceID.
func (h *Hub) Subscribers(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[deviceID])
}

// Publish delivers out to every subscriber of deviceID except from. It
// returns the number of subscribers that accepted the message.
func (h *Hub) Publish(deviceID string, out Outbound, from Subscriber) int {
	var fromID string
	if from != nil {
		fromID = from.ID()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, sub := range h.topics[deviceID] {
		if id == fromID {
			continue
		}
		if sub.Deliver(out) {
			delivered++
		} else {
			log.Printf("Relay: dropped message for %s on %s (queue full)", id, deviceID)
		}
	}
	return delivered
}

// PublishMessage marshals msg once and publishes it as a text message.
func (h *Hub) PublishMessage(deviceID string, msg protocol.Message, from Subscriber) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Relay: failed to marshal %s: %v", msg.Type, err)
		return 0
	}
	if msg.Type == protocol.TypeScreenSize {
		h.mu.Lock()
		h.screens[deviceID] = data
		h.mu.Unlock()
	}
	return h.Publish(deviceID, Outbound{Data: data}, from)
}

// AttachDevice records sub as deviceID's own connection and joins it to
// the topic.
func (h *Hub) AttachDevice(deviceID string, sub Subscriber) {
	h.mu.Lock()
	h.devices[deviceID] = sub
	h.mu.Unlock()
	h.Join(deviceID, sub)
}

// DetachDevice forgets sub as deviceID's connection. It reports whether sub
// was still the attached connection.
func (h *Hub) DetachDevice(deviceID string, sub Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.devices[deviceID]
	if !ok || cur.ID() != sub.ID() {
		return false
	}
	delete(h.devices, deviceID)
	delete(h.screens, deviceID)
	return true
}

// DeviceOnline reports whether deviceID has an attached connection.
func (h *Hub) DeviceOnline(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.devices[deviceID]
	return ok
}

// AcquireControl grants or refreshes sub's control token for deviceID.
func (h *Hub) AcquireControl(ctx context.Context, deviceID string, sub Subscriber) (bool, error) {
	g, err := h.locker.Acquire(ctx, deviceID, sub.ID(), h.controlTTL)
	if err != nil || !g.Held() {
		return false, err
	}
	if g == ctrllock.Granted {
		h.cbMu.Lock()
		cb := h.onControlGrant
		h.cbMu.Unlock()
		log.Printf("Relay: control of %s granted to %s", deviceID, sub.ID())
		if cb != nil {
			cb(deviceID, sub.ID())
		}
	}
	return true, nil
}

// ReleaseControl drops sub's control token for deviceID, if held.
func (h *Hub) ReleaseControl(ctx context.Context, deviceID string, sub Subscriber) {
	if err := h.locker.Release(ctx, deviceID, sub.ID()); err != nil {
		log.Printf("Relay: failed to release control of %s: %v", deviceID, err)
	}
}

// NotifySession publishes login-user or logout-user to the device topic
// after the registry commits a transition.
func (h *Hub) NotifySession(o session.Outcome) {
	typ := protocol.TypeLoginUser
	if o.Result == session.LoggedOut {
		typ = protocol.TypeLogoutUser
	}
	msg, err := protocol.NewMessage(typ, o.DeviceID, protocol.UserPayload{UserID: o.UserID, Forced: o.Forced})
	if err != nil {
		log.Printf("Relay: %v", err)
		return
	}
	h.PublishMessage(o.DeviceID, msg, nil)
}
