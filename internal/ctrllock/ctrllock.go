// Package ctrllock grants at most one controller the right to drive a
// device's input at a time. Tokens expire unless refreshed.
package ctrllock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Grant is the outcome of an Acquire call.
type Grant int

const (
	// Refused means another holder owns an unexpired token.
	Refused Grant = iota
	// Granted means holder did not own the token before this call.
	Granted
	// Refreshed means holder already owned the token and its expiry moved.
	Refreshed
)

// Held reports whether holder owns the token after the call.
func (g Grant) Held() bool { return g != Refused }

// Locker hands out per-device control tokens.
type Locker interface {
	// Acquire grants or refreshes the token for holder in one step.
	Acquire(ctx context.Context, deviceID, holder string, ttl time.Duration) (Grant, error)

	// Release drops the token if holder owns it.
	Release(ctx context.Context, deviceID, holder string) error

	// Holder returns the current holder, or "" if the device is free.
	Holder(ctx context.Context, deviceID string) (string, error)
}

// Memory is a single-process Locker.
type Memory struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	tokens map[string]token
}

type token struct {
	holder  string
	expires time.Time
}

// NewMemory creates an in-process locker using clock for expiry.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{clock: clock, tokens: make(map[string]token)}
}

func (m *Memory) Acquire(_ context.Context, deviceID, holder string, ttl time.Duration) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	g := Granted
	if t, ok := m.tokens[deviceID]; ok && now.Before(t.expires) {
		if t.holder != holder {
			return Refused, nil
		}
		g = Refreshed
	}
	m.tokens[deviceID] = token{holder: holder, expires: now.Add(ttl)}
	return g, nil
}

func (m *Memory) Release(_ context.Context, deviceID, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[deviceID]; ok && t.holder == holder {
		delete(m.tokens, deviceID)
	}
	return nil
}

func (m *Memory) Holder(_ context.Context, deviceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[deviceID]
	if !ok || !m.clock.Now().Before(t.expires) {
		return "", nil
	}
	return t.holder, nil
}
