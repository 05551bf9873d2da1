// Package bridge applies routed input messages to the local desktop and
// tracks the agent state shown by the tray and local UI.
package bridge

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"labwatch/internal/geometry"
	"labwatch/internal/input"
	"labwatch/internal/protocol"
)

// State is a snapshot of what the agent knows about itself
type State struct {
	HardwareAddress string `json:"hardware_address"`
	DeviceID        string `json:"device_id"`
	BoundUser       string `json:"bound_user,omitempty"`
	BoundUserName   string `json:"bound_user_name,omitempty"`
	Connected       bool   `json:"connected"`
}

// Bridge turns relay messages into injector calls.
type Bridge struct {
	injector input.Injector

	mu       sync.Mutex
	state    State
	screen   geometry.Size
	lastDrag string
	subs     map[chan State]struct{}
}

// New creates a bridge for the device with the given hardware address.
func New(injector input.Injector, hardwareAddress string) *Bridge {
	return &Bridge{
		injector: injector,
		state:    State{HardwareAddress: hardwareAddress},
		subs:     make(map[chan State]struct{}),
	}
}

func (b *Bridge) HardwareAddress() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.HardwareAddress
}

func (b *Bridge) DeviceID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.DeviceID
}

func (b *Bridge) BoundUser() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.BoundUser
}

// State returns the current snapshot
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) SetDeviceID(id string) {
	b.update(func(s *State) { s.DeviceID = id })
}

// SetBoundUser records the checked-in user. An empty id means nobody.
func (b *Bridge) SetBoundUser(id, name string) {
	b.update(func(s *State) {
		s.BoundUser = id
		s.BoundUserName = name
	})
}

func (b *Bridge) SetConnected(connected bool) {
	b.update(func(s *State) { s.Connected = connected })
}

// Subscribe returns a channel receiving the latest state whenever it
// changes. Slow readers only see the most recent snapshot. Call the
// returned func to unsubscribe.
func (b *Bridge) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	ch <- b.state
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

func (b *Bridge) update(fn func(*State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	before := b.state
	fn(&b.state)
	if before == b.state {
		return
	}
	for ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- b.state
	}
}

// ScreenSize returns the local screen size, querying the injector the
// first time.
func (b *Bridge) ScreenSize() (geometry.Size, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.screen.Valid() {
		return b.screen, nil
	}
	w, h, err := b.injector.ScreenSize()
	if err != nil {
		return geometry.Size{}, err
	}
	b.screen = geometry.Size{Width: float64(w), Height: float64(h)}
	return b.screen, nil
}

// Handle applies one routed message. Messages that are not for the bridge
// are ignored.
func (b *Bridge) Handle(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypePointerMove:
		var p protocol.PointerMovePayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return b.moveTo(p.X, p.Y, p.ViewportW, p.ViewportH)

	case protocol.TypePointerDrag:
		var p protocol.DragPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return b.drag(p)

	case protocol.TypePointerClick:
		var p protocol.PointerClickPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		button, err := input.ParseButton(p.Button)
		if err != nil {
			return err
		}
		return b.injector.Click(button, p.IsDouble)

	case protocol.TypePointerScroll:
		var p protocol.ScrollPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return b.injector.Scroll(p.DX, p.DY)

	case protocol.TypeKeyEvent:
		var p protocol.KeyEventPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return b.key(p)

	case protocol.TypeLoginUser:
		var p protocol.UserPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		b.SetBoundUser(p.UserID, p.Name)
		log.Printf("Bridge: user %s logged in", p.UserID)

	case protocol.TypeLogoutUser:
		b.SetBoundUser("", "")
		log.Printf("Bridge: user logged out")
	}
	return nil
}

func (b *Bridge) moveTo(x, y, vw, vh float64) error {
	screen, err := b.ScreenSize()
	if err != nil {
		return fmt.Errorf("screen size: %w", err)
	}
	px, py := geometry.Pixel(geometry.Map(geometry.Point{X: x, Y: y}, geometry.Size{Width: vw, Height: vh}, screen))
	return b.injector.MoveTo(px, py)
}

// drag moves the pointer and toggles the left button only when the
// direction differs from the last applied one.
func (b *Bridge) drag(p protocol.DragPayload) error {
	if p.Direction != protocol.DragDown && p.Direction != protocol.DragUp {
		return fmt.Errorf("unknown drag direction %q", p.Direction)
	}
	if err := b.moveTo(p.X, p.Y, p.ViewportW, p.ViewportH); err != nil {
		return err
	}

	b.mu.Lock()
	changed := b.lastDrag != p.Direction
	b.lastDrag = p.Direction
	b.mu.Unlock()
	if !changed {
		return nil
	}
	return b.injector.Toggle(input.ButtonLeft, p.Direction == protocol.DragDown)
}

func (b *Bridge) key(p protocol.KeyEventPayload) error {
	if p.PrimaryKey == "" {
		return fmt.Errorf("key event without a key")
	}
	mods := p.ModifierKeys
	if len(mods) > 0 && !strings.EqualFold(mods[0], p.PrimaryKey) {
		if err := b.injector.KeyToggle(p.PrimaryKey, true, mods...); err != nil {
			return err
		}
		return b.injector.KeyToggle(p.PrimaryKey, false, mods...)
	}
	return b.injector.KeyTap(p.PrimaryKey)
}

func (b *Bridge) send(t protocol.MessageType, payload interface{}) error {
	msg, err := protocol.NewMessage(t, b.DeviceID(), payload)
	if err != nil {
		return err
	}
	return b.Handle(msg)
}

// The Send methods drive the local desktop through the same path as
// routed messages. The local UI uses them.

func (b *Bridge) SendPointerMove(p protocol.PointerMovePayload) error {
	return b.send(protocol.TypePointerMove, p)
}

func (b *Bridge) SendPointerClick(p protocol.PointerClickPayload) error {
	return b.send(protocol.TypePointerClick, p)
}

func (b *Bridge) SendPointerScroll(p protocol.ScrollPayload) error {
	return b.send(protocol.TypePointerScroll, p)
}

func (b *Bridge) SendPointerDrag(p protocol.DragPayload) error {
	return b.send(protocol.TypePointerDrag, p)
}

func (b *Bridge) SendKey(p protocol.KeyEventPayload) error {
	return b.send(protocol.TypeKeyEvent, p)
}
