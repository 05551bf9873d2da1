package store

import (
	"context"
	"fmt"
	"sync"

	"labwatch/internal/domain"
)

// Memory is an in-process Store. Units of work are fully serialized and
// rolled back by restoring a snapshot taken when the unit started.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	devices  map[string]domain.Device
	users    map[string]domain.DeviceUser
	bindings map[string]domain.ActiveBinding
	audit    []domain.LoginAuditEntry
	power    []domain.PowerMonitoringLog
	activity []domain.ActivityLog
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{state: memState{
		devices:  make(map[string]domain.Device),
		users:    make(map[string]domain.DeviceUser),
		bindings: make(map[string]domain.ActiveBinding),
	}}
}

func (s memState) clone() memState {
	c := memState{
		devices:  make(map[string]domain.Device, len(s.devices)),
		users:    make(map[string]domain.DeviceUser, len(s.users)),
		bindings: make(map[string]domain.ActiveBinding, len(s.bindings)),
		audit:    append([]domain.LoginAuditEntry(nil), s.audit...),
		power:    append([]domain.PowerMonitoringLog(nil), s.power...),
		activity: append([]domain.ActivityLog(nil), s.activity...),
	}
	for k, v := range s.devices {
		c.devices[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.bindings {
		c.bindings[k] = v
	}
	return c
}

// WithinTx implements Store.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memTx{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Bindings returns a copy of all active bindings.
func (m *Memory) Bindings() []domain.ActiveBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ActiveBinding, 0, len(m.state.bindings))
	for _, b := range m.state.bindings {
		out = append(out, b)
	}
	return out
}

// LoginAudit returns a copy of the login audit trail in append order.
func (m *Memory) LoginAudit() []domain.LoginAuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LoginAuditEntry(nil), m.state.audit...)
}

// PowerLogs returns a copy of the power log in append order.
func (m *Memory) PowerLogs() []domain.PowerMonitoringLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PowerMonitoringLog(nil), m.state.power...)
}

// Activity returns a copy of the activity log in append order.
func (m *Memory) Activity() []domain.ActivityLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ActivityLog(nil), m.state.activity...)
}

type memTx struct {
	s *memState
}

func (t *memTx) Device(_ context.Context, id string) (*domain.Device, error) {
	d, ok := t.s.devices[id]
	if !ok {
		return nil, domain.ErrDeviceNotFound
	}
	return &d, nil
}

func (t *memTx) DeviceByHardwareAddress(_ context.Context, hw string) (*domain.Device, error) {
	hw = domain.NormalizeHardwareAddress(hw)
	for _, d := range t.s.devices {
		if d.HardwareAddress == hw {
			d := d
			return &d, nil
		}
	}
	return nil, domain.ErrDeviceNotFound
}

func (t *memTx) CreateDevice(_ context.Context, d *domain.Device) error {
	if _, ok := t.s.devices[d.ID]; ok {
		return fmt.Errorf("device %q already exists", d.ID)
	}
	d.HardwareAddress = domain.NormalizeHardwareAddress(d.HardwareAddress)
	for _, other := range t.s.devices {
		if other.HardwareAddress == d.HardwareAddress {
			return fmt.Errorf("hardware address %q already registered", d.HardwareAddress)
		}
	}
	t.s.devices[d.ID] = *d
	return nil
}

func (t *memTx) SetDeviceBusy(_ context.Context, deviceID string, busy bool) error {
	d, ok := t.s.devices[deviceID]
	if !ok {
		return domain.ErrDeviceNotFound
	}
	d.Busy = busy
	t.s.devices[deviceID] = d
	return nil
}

func (t *memTx) User(_ context.Context, id string) (*domain.DeviceUser, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (t *memTx) CreateUser(_ context.Context, u *domain.DeviceUser) error {
	if _, ok := t.s.users[u.ID]; ok {
		return fmt.Errorf("user %q already exists", u.ID)
	}
	t.s.users[u.ID] = *u
	return nil
}

func (t *memTx) BindingByUser(_ context.Context, userID string) (*domain.ActiveBinding, error) {
	for _, b := range t.s.bindings {
		if b.UserID == userID {
			b := b
			return &b, nil
		}
	}
	return nil, ErrNoBinding
}

func (t *memTx) BindingByDevice(_ context.Context, deviceID string) (*domain.ActiveBinding, error) {
	for _, b := range t.s.bindings {
		if b.DeviceID == deviceID {
			b := b
			return &b, nil
		}
	}
	return nil, ErrNoBinding
}

func (t *memTx) CreateBinding(_ context.Context, b *domain.ActiveBinding) error {
	for _, other := range t.s.bindings {
		if other.DeviceID == b.DeviceID {
			return domain.ErrDeviceBusy
		}
		if other.UserID == b.UserID {
			return fmt.Errorf("user %q already bound: %w", b.UserID, domain.ErrDeviceBusy)
		}
	}
	t.s.bindings[b.ID] = *b
	return nil
}

func (t *memTx) DeleteBinding(_ context.Context, id string) error {
	delete(t.s.bindings, id)
	return nil
}

func (t *memTx) AppendLoginAudit(_ context.Context, e *domain.LoginAuditEntry) error {
	t.s.audit = append(t.s.audit, *e)
	return nil
}

func (t *memTx) AppendPowerLog(_ context.Context, l *domain.PowerMonitoringLog) error {
	t.s.power = append(t.s.power, *l)
	return nil
}

func (t *memTx) AppendActivity(_ context.Context, a *domain.ActivityLog) error {
	t.s.activity = append(t.s.activity, *a)
	return nil
}
