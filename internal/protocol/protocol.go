// Package protocol defines the relay wire format: JSON envelopes for control
// messages and a binary encoding for screencast frames.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType names a relay message. The topic is always a device id.
type MessageType string

const (
	// TypeJoin subscribes the sender to a device topic
	TypeJoin MessageType = "join"

	// TypeLeave unsubscribes the sender from a device topic
	TypeLeave MessageType = "leave"

	TypePointerMove   MessageType = "pointer-move"
	TypePointerClick  MessageType = "pointer-click"
	TypePointerScroll MessageType = "pointer-scroll"
	TypePointerDrag   MessageType = "pointer-drag"
	TypeKeyEvent      MessageType = "key-event"

	// TypeScreencastStart asks the device to begin producing frames
	TypeScreencastStart MessageType = "screencast-start"

	// TypeScreencastStop asks the device to stop producing frames
	TypeScreencastStop MessageType = "screencast-stop"

	// TypeScreencastFrame carries one encoded screen image. Frames normally
	// travel as binary messages; see EncodeFrame.
	TypeScreencastFrame MessageType = "screencast-frame"

	// TypeLoginUser and TypeLogoutUser are published by the server when the
	// device's bound user changes
	TypeLoginUser  MessageType = "login-user"
	TypeLogoutUser MessageType = "logout-user"

	// TypeScreenSize is announced by the device once per connection
	TypeScreenSize MessageType = "screen-size"

	// TypeError is sent by the server in reply to a rejected message
	TypeError MessageType = "error"
)

// IsInput reports whether t is an input event that requires the control token.
func (t MessageType) IsInput() bool {
	switch t {
	case TypePointerMove, TypePointerClick, TypePointerScroll, TypePointerDrag, TypeKeyEvent:
		return true
	}
	return false
}

// Message is the envelope for every JSON relay message
type Message struct {
	Type     MessageType     `json:"type"`
	DeviceID string          `json:"device_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope with payload marshaled to JSON. A nil
// payload produces an envelope without one.
func NewMessage(t MessageType, deviceID string, payload interface{}) (Message, error) {
	msg := Message{Type: t, DeviceID: deviceID}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: marshal %s payload: %w", t, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("protocol: %s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("protocol: invalid %s payload: %w", m.Type, err)
	}
	return nil
}

// JoinPayload is the payload for TypeJoin
type JoinPayload struct {
	// Control requests the device's control token
	Control bool `json:"control,omitempty"`
}

// PointerMovePayload is the payload for TypePointerMove. Coordinates are in
// the sender's viewport space.
type PointerMovePayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ViewportW float64 `json:"viewport_w"`
	ViewportH float64 `json:"viewport_h"`
}

// PointerClickPayload is the payload for TypePointerClick
type PointerClickPayload struct {
	Button   string `json:"button"` // "left", "right", "middle"
	IsDouble bool   `json:"is_double,omitempty"`
}

// ScrollPayload is the payload for TypePointerScroll
type ScrollPayload struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

const (
	DragDown = "down"
	DragUp   = "up"
)

// DragPayload is the payload for TypePointerDrag
type DragPayload struct {
	Direction string  `json:"direction"` // DragDown or DragUp
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ViewportW float64 `json:"viewport_w"`
	ViewportH float64 `json:"viewport_h"`
}

// KeyEventPayload is the payload for TypeKeyEvent
type KeyEventPayload struct {
	PrimaryKey   string   `json:"primary_key"`
	ModifierKeys []string `json:"modifier_keys,omitempty"`
}

// UserPayload is the payload for TypeLoginUser and TypeLogoutUser
type UserPayload struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Forced bool   `json:"forced,omitempty"`
}

// ScreenSizePayload is the payload for TypeScreenSize
type ScreenSizePayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ErrorPayload is the payload for TypeError
type ErrorPayload struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Refused MessageType `json:"refused,omitempty"`
}
