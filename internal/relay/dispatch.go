package relay

import (
	"context"
	"encoding/json"
	"log"

	"labwatch/internal/auth"
	"labwatch/internal/protocol"
)

// Error codes carried in protocol.ErrorPayload
const (
	CodeInvalid      = "invalid"
	CodeUnauthorized = "unauthorized"
	CodeNotJoined    = "not-joined"
	CodeControlHeld  = "control-held"
	CodeInternal     = "internal"
)

func (c *Client) handleText(ctx context.Context, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Relay: invalid message from %s: %v", c.id, err)
		c.reject("", CodeInvalid, "malformed message")
		return
	}
	if msg.DeviceID == "" && c.principal.Kind == auth.KindDevice {
		msg.DeviceID = c.deviceID
	}
	if msg.DeviceID == "" {
		c.reject(msg.Type, CodeInvalid, "device_id is required")
		return
	}

	switch {
	case msg.Type == protocol.TypeJoin:
		c.handleJoin(ctx, msg)

	case msg.Type == protocol.TypeLeave:
		c.hub.Leave(msg.DeviceID, c)
		c.hub.ReleaseControl(ctx, msg.DeviceID, c)
		c.markJoined(msg.DeviceID, false)

	case msg.Type.IsInput():
		c.handleInput(ctx, msg, data)

	case msg.Type == protocol.TypeScreencastStart, msg.Type == protocol.TypeScreencastStop:
		if c.principal.Kind != auth.KindController {
			c.reject(msg.Type, CodeUnauthorized, "only controllers may start or stop a screencast")
			return
		}
		if !c.joined(msg.DeviceID) {
			c.reject(msg.Type, CodeNotJoined, "join the device first")
			return
		}
		c.hub.Publish(msg.DeviceID, Outbound{Data: data}, c)

	case msg.Type == protocol.TypeScreenSize, msg.Type == protocol.TypeScreencastFrame:
		if !c.ownsDevice(msg.DeviceID) {
			c.reject(msg.Type, CodeUnauthorized, "only the device may publish to its topic")
			return
		}
		if msg.Type == protocol.TypeScreenSize {
			c.hub.PublishMessage(msg.DeviceID, msg, c)
			return
		}
		c.hub.Publish(msg.DeviceID, Outbound{Data: data}, c)

	default:
		// login-user, logout-user and error come from the server only
		c.reject(msg.Type, CodeInvalid, "message type not accepted from clients")
	}
}

func (c *Client) handleJoin(ctx context.Context, msg protocol.Message) {
	if c.principal.Kind == auth.KindDevice && msg.DeviceID != c.deviceID {
		c.reject(msg.Type, CodeUnauthorized, "devices may only join their own topic")
		return
	}

	var payload protocol.JoinPayload
	if len(msg.Payload) > 0 {
		if err := msg.Decode(&payload); err != nil {
			c.reject(msg.Type, CodeInvalid, err.Error())
			return
		}
	}

	if !c.joined(msg.DeviceID) {
		c.markJoined(msg.DeviceID, true)
		c.hub.Join(msg.DeviceID, c)
	}

	if !payload.Control {
		return
	}
	if !c.principal.CanControl() {
		c.reject(msg.Type, CodeUnauthorized, "role may not control devices")
		return
	}
	ok, err := c.hub.AcquireControl(ctx, msg.DeviceID, c)
	if err != nil {
		log.Printf("Relay: control acquire failed for %s: %v", msg.DeviceID, err)
		c.reject(msg.Type, CodeInternal, "control arbitration unavailable")
		return
	}
	if !ok {
		c.reject(msg.Type, CodeControlHeld, "another controller holds this device")
	}
}

func (c *Client) handleInput(ctx context.Context, msg protocol.Message, data []byte) {
	if c.principal.Kind != auth.KindController || !c.principal.CanControl() {
		c.reject(msg.Type, CodeUnauthorized, "role may not control devices")
		return
	}
	if !c.joined(msg.DeviceID) {
		c.reject(msg.Type, CodeNotJoined, "join the device first")
		return
	}
	// Acquire refreshes the token when c already holds it
	ok, err := c.hub.AcquireControl(ctx, msg.DeviceID, c)
	if err != nil {
		log.Printf("Relay: control refresh failed for %s: %v", msg.DeviceID, err)
		c.reject(msg.Type, CodeInternal, "control arbitration unavailable")
		return
	}
	if !ok {
		c.reject(msg.Type, CodeControlHeld, "another controller holds this device")
		return
	}
	c.hub.Publish(msg.DeviceID, Outbound{Data: data}, c)
}

func (c *Client) handleBinary(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		log.Printf("Relay: invalid frame from %s: %v", c.id, err)
		return
	}
	if !c.ownsDevice(frame.DeviceID) {
		c.reject(protocol.TypeScreencastFrame, CodeUnauthorized, "only the device may publish to its topic")
		return
	}
	c.hub.Publish(frame.DeviceID, Outbound{Binary: true, Data: data}, c)
}

func (c *Client) ownsDevice(deviceID string) bool {
	return c.principal.Kind == auth.KindDevice && c.deviceID == deviceID
}

func (c *Client) reject(refused protocol.MessageType, code, text string) {
	msg, err := protocol.NewMessage(protocol.TypeError, "", protocol.ErrorPayload{
		Code:    code,
		Message: text,
		Refused: refused,
	})
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.Deliver(Outbound{Data: data})
}

// disconnect removes c from every topic and releases its control tokens.
// When a device drops, controllers watching it are told the screencast
// has stopped.
func (c *Client) disconnect(ctx context.Context) {
	for _, topic := range c.joinedTopics() {
		c.hub.Leave(topic, c)
		if c.principal.Kind == auth.KindController {
			c.hub.ReleaseControl(ctx, topic, c)
		}
		c.markJoined(topic, false)
	}

	if c.principal.Kind == auth.KindDevice && c.hub.DetachDevice(c.deviceID, c) {
		msg, err := protocol.NewMessage(protocol.TypeScreencastStop, c.deviceID, nil)
		if err == nil {
			c.hub.PublishMessage(c.deviceID, msg, nil)
		}
	}

	c.close()
	log.Printf("Relay: %s disconnected", c.id)
}
