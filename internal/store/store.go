// Package store provides the persistence collaborator used by the session
// registry. All mutations happen inside a unit of work so a failed request
// leaves no partial state behind.
package store

import (
	"context"
	"errors"

	"labwatch/internal/domain"
)

// ErrNoBinding is returned by binding lookups when no active binding exists.
var ErrNoBinding = errors.New("no active binding")

// Store runs units of work against the lab records.
type Store interface {
	// WithinTx runs fn in a transaction. If fn returns an error every
	// change made through tx is discarded.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of record operations available inside a unit of work.
type Tx interface {
	Device(ctx context.Context, id string) (*domain.Device, error)
	DeviceByHardwareAddress(ctx context.Context, hw string) (*domain.Device, error)
	CreateDevice(ctx context.Context, d *domain.Device) error
	SetDeviceBusy(ctx context.Context, deviceID string, busy bool) error

	User(ctx context.Context, id string) (*domain.DeviceUser, error)
	CreateUser(ctx context.Context, u *domain.DeviceUser) error

	BindingByUser(ctx context.Context, userID string) (*domain.ActiveBinding, error)
	BindingByDevice(ctx context.Context, deviceID string) (*domain.ActiveBinding, error)
	CreateBinding(ctx context.Context, b *domain.ActiveBinding) error
	DeleteBinding(ctx context.Context, id string) error

	AppendLoginAudit(ctx context.Context, e *domain.LoginAuditEntry) error
	AppendPowerLog(ctx context.Context, l *domain.PowerMonitoringLog) error
	AppendActivity(ctx context.Context, a *domain.ActivityLog) error
}
