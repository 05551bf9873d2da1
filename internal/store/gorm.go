package store

import (
	"context"
	"errors"
	"fmt"

	"labwatch/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Gorm is a Store backed by a gorm database. Unique indexes on
// active_bindings.device_id and active_bindings.user_id back the
// one-binding-per-key invariant across processes.
type Gorm struct {
	db *gorm.DB
}

// OpenPostgres connects to postgres and migrates the lab tables.
func OpenPostgres(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGorm(db)
}

// NewGorm wraps an open gorm connection and runs AutoMigrate.
func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(
		&domain.Device{},
		&domain.DeviceUser{},
		&domain.ActiveBinding{},
		&domain.LoginAuditEntry{},
		&domain.PowerMonitoringLog{},
		&domain.ActivityLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Gorm{db: db}, nil
}

// WithinTx implements Store.
func (g *Gorm) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return g.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

type gormTx struct {
	db *gorm.DB
}

// notFound maps gorm.ErrRecordNotFound onto a domain sentinel.
func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return fmt.Errorf("%w: %v", domain.ErrInternal, err)
}

func (t *gormTx) Device(ctx context.Context, id string) (*domain.Device, error) {
	var d domain.Device
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, notFound(err, domain.ErrDeviceNotFound)
	}
	return &d, nil
}

func (t *gormTx) DeviceByHardwareAddress(ctx context.Context, hw string) (*domain.Device, error) {
	var d domain.Device
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("hardware_address = ?", domain.NormalizeHardwareAddress(hw)).
		First(&d).Error
	if err != nil {
		return nil, notFound(err, domain.ErrDeviceNotFound)
	}
	return &d, nil
}

func (t *gormTx) CreateDevice(ctx context.Context, d *domain.Device) error {
	d.HardwareAddress = domain.NormalizeHardwareAddress(d.HardwareAddress)
	return t.db.WithContext(ctx).Create(d).Error
}

func (t *gormTx) SetDeviceBusy(ctx context.Context, deviceID string, busy bool) error {
	res := t.db.WithContext(ctx).Model(&domain.Device{}).
		Where("id = ?", deviceID).
		Update("busy", busy)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}

func (t *gormTx) User(ctx context.Context, id string) (*domain.DeviceUser, error) {
	var u domain.DeviceUser
	if err := t.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err, domain.ErrUserNotFound)
	}
	return &u, nil
}

func (t *gormTx) CreateUser(ctx context.Context, u *domain.DeviceUser) error {
	return t.db.WithContext(ctx).Create(u).Error
}

func (t *gormTx) BindingByUser(ctx context.Context, userID string) (*domain.ActiveBinding, error) {
	var b domain.ActiveBinding
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&b).Error
	if err != nil {
		return nil, notFound(err, ErrNoBinding)
	}
	return &b, nil
}

func (t *gormTx) BindingByDevice(ctx context.Context, deviceID string) (*domain.ActiveBinding, error) {
	var b domain.ActiveBinding
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("device_id = ?", deviceID).
		First(&b).Error
	if err != nil {
		return nil, notFound(err, ErrNoBinding)
	}
	return &b, nil
}

func (t *gormTx) CreateBinding(ctx context.Context, b *domain.ActiveBinding) error {
	err := t.db.WithContext(ctx).Create(b).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDeviceBusy
	}
	return err
}

func (t *gormTx) DeleteBinding(ctx context.Context, id string) error {
	return t.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.ActiveBinding{}).Error
}

func (t *gormTx) AppendLoginAudit(ctx context.Context, e *domain.LoginAuditEntry) error {
	return t.db.WithContext(ctx).Create(e).Error
}

func (t *gormTx) AppendPowerLog(ctx context.Context, l *domain.PowerMonitoringLog) error {
	return t.db.WithContext(ctx).Create(l).Error
}

func (t *gormTx) AppendActivity(ctx context.Context, a *domain.ActivityLog) error {
	return t.db.WithContext(ctx).Create(a).Error
}
