// Package session implements the device session registry: it enforces at
// most one active (device, user) binding and records login audit entries.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"labwatch/internal/domain"
	"labwatch/internal/store"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Result is the transition a session request produced.
type Result string

const (
	LoggedIn  Result = "logged_in"
	LoggedOut Result = "logged_out"
)

// Outcome describes a committed session transition. DeviceID is the device
// whose binding changed, which for a logout may differ from the requested one.
type Outcome struct {
	Result   Result `json:"result"`
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
	LabID    string `json:"lab_id"`
	Forced   bool   `json:"forced,omitempty"`
}

// Registry owns ActiveBinding and LoginAuditEntry writes.
type Registry struct {
	store store.Store
	clock clockwork.Clock
	locks *keyLocks

	mu       sync.Mutex
	onChange func(Outcome)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for record timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// New creates a registry over st.
func New(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store: st,
		clock: clockwork.NewRealClock(),
		locks: newKeyLocks(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetOnChange sets the callback invoked after every committed transition.
func (r *Registry) SetOnChange(callback func(Outcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = callback
}

func (r *Registry) notify(o Outcome) {
	r.mu.Lock()
	cb := r.onChange
	r.mu.Unlock()
	if cb != nil {
		cb(o)
	}
}

// RequestSession toggles userID's session. If the user already has a
// binding it is removed (logout, no audit entry). Otherwise the user is
// bound to deviceID, the device is marked busy and a login audit entry is
// appended, all in one unit of work.
func (r *Registry) RequestSession(ctx context.Context, deviceID, userID string) (Outcome, error) {
	unlock := r.locks.lock("device:"+deviceID, "user:"+userID)
	defer unlock()

	var out Outcome
	err := r.store.WithinTx(ctx, func(tx store.Tx) error {
		existing, err := tx.BindingByUser(ctx, userID)
		switch {
		case err == nil:
			if err := release(ctx, tx, existing); err != nil {
				return err
			}
			out = Outcome{Result: LoggedOut, DeviceID: existing.DeviceID, UserID: userID, LabID: existing.LabID}
			return nil
		case !errors.Is(err, store.ErrNoBinding):
			return err
		}

		device, err := tx.Device(ctx, deviceID)
		if err != nil {
			return err
		}
		if _, err := tx.BindingByDevice(ctx, deviceID); err == nil {
			return domain.ErrDeviceBusy
		} else if !errors.Is(err, store.ErrNoBinding) {
			return err
		}

		now := r.clock.Now()
		binding := &domain.ActiveBinding{
			ID:        uuid.NewString(),
			LabID:     device.LabID,
			DeviceID:  device.ID,
			UserID:    userID,
			State:     domain.BindingActive,
			CreatedAt: now,
		}
		if err := tx.CreateBinding(ctx, binding); err != nil {
			return err
		}
		if err := tx.SetDeviceBusy(ctx, device.ID, true); err != nil {
			return err
		}
		if err := tx.AppendLoginAudit(ctx, &domain.LoginAuditEntry{
			ID:        uuid.NewString(),
			LabID:     device.LabID,
			UserID:    userID,
			DeviceID:  device.ID,
			Timestamp: now,
		}); err != nil {
			return err
		}
		out = Outcome{Result: LoggedIn, DeviceID: device.ID, UserID: userID, LabID: device.LabID}
		return nil
	})
	if err != nil {
		return Outcome{}, classify(err)
	}

	log.Printf("Registry: %s user=%s device=%s", out.Result, out.UserID, out.DeviceID)
	r.notify(out)
	return out, nil
}

// ForceLogoutByHardwareID removes whatever binding the device with the given
// hardware address holds. A device with no binding is a successful no-op.
func (r *Registry) ForceLogoutByHardwareID(ctx context.Context, hw string) (*Outcome, error) {
	device, err := r.ResolveDevice(ctx, hw)
	if err != nil {
		return nil, err
	}

	unlock := r.locks.lock("device:" + device.ID)
	defer unlock()

	var out *Outcome
	err = r.store.WithinTx(ctx, func(tx store.Tx) error {
		binding, err := tx.BindingByDevice(ctx, device.ID)
		if errors.Is(err, store.ErrNoBinding) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := release(ctx, tx, binding); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, &domain.ActivityLog{
			ID:        uuid.NewString(),
			DeviceID:  device.ID,
			UserID:    binding.UserID,
			Kind:      domain.ActivityForcedLogout,
			Timestamp: r.clock.Now(),
		}); err != nil {
			return err
		}
		out = &Outcome{Result: LoggedOut, DeviceID: device.ID, UserID: binding.UserID, LabID: binding.LabID, Forced: true}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if out == nil {
		return nil, nil
	}

	log.Printf("Registry: forced logout user=%s device=%s", out.UserID, out.DeviceID)
	r.notify(*out)
	return out, nil
}

// ResolveDevice looks a device up by hardware address.
func (r *Registry) ResolveDevice(ctx context.Context, hw string) (*domain.Device, error) {
	var device *domain.Device
	err := r.store.WithinTx(ctx, func(tx store.Tx) error {
		d, err := tx.DeviceByHardwareAddress(ctx, hw)
		device = d
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return device, nil
}

// ActiveUser returns the user currently bound to the device with the given
// hardware address, or ErrUnauthenticated if nobody is checked in.
func (r *Registry) ActiveUser(ctx context.Context, hw string) (*domain.DeviceUser, error) {
	var user *domain.DeviceUser
	err := r.store.WithinTx(ctx, func(tx store.Tx) error {
		device, err := tx.DeviceByHardwareAddress(ctx, hw)
		if err != nil {
			return err
		}
		binding, err := tx.BindingByDevice(ctx, device.ID)
		if errors.Is(err, store.ErrNoBinding) {
			return domain.ErrUnauthenticated
		}
		if err != nil {
			return err
		}
		user, err = tx.User(ctx, binding.UserID)
		if errors.Is(err, domain.ErrUserNotFound) {
			// Bindings can reference users managed outside this store.
			user = &domain.DeviceUser{ID: binding.UserID}
			return nil
		}
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return user, nil
}

// RecordPower appends a power log entry for the device with the given
// hardware address.
func (r *Registry) RecordPower(ctx context.Context, hw string, state domain.PowerState) error {
	if !state.Valid() {
		return fmt.Errorf("unknown power state %q", state)
	}
	err := r.store.WithinTx(ctx, func(tx store.Tx) error {
		device, err := tx.DeviceByHardwareAddress(ctx, hw)
		if err != nil {
			return err
		}
		return tx.AppendPowerLog(ctx, &domain.PowerMonitoringLog{
			ID:        uuid.NewString(),
			DeviceID:  device.ID,
			LabID:     device.LabID,
			State:     state,
			Timestamp: r.clock.Now(),
		})
	})
	return classify(err)
}

// RecordActivity appends a dashboard timeline entry. Failures are logged only.
func (r *Registry) RecordActivity(ctx context.Context, deviceID, userID string, kind domain.ActivityKind, detail string) {
	err := r.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.AppendActivity(ctx, &domain.ActivityLog{
			ID:        uuid.NewString(),
			DeviceID:  deviceID,
			UserID:    userID,
			Kind:      kind,
			Detail:    detail,
			Timestamp: r.clock.Now(),
		})
	})
	if err != nil {
		log.Printf("Registry: failed to record %s for device %s: %v", kind, deviceID, err)
	}
}

func release(ctx context.Context, tx store.Tx, b *domain.ActiveBinding) error {
	if err := tx.DeleteBinding(ctx, b.ID); err != nil {
		return err
	}
	return tx.SetDeviceBusy(ctx, b.DeviceID, false)
}

// classify keeps known sentinels and wraps everything else as ErrInternal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domain.ErrDeviceNotFound,
		domain.ErrDeviceBusy,
		domain.ErrUnauthenticated,
		domain.ErrUserNotFound,
		domain.ErrInternal,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrInternal, err)
}
