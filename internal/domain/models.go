// Package domain holds the lab monitoring records shared by the registry,
// the stores and the HTTP API.
package domain

import "time"

// Device is a physical lab machine identified by its hardware address.
type Device struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	HardwareAddress string    `gorm:"uniqueIndex;size:32;not null" json:"hardware_address"`
	LabID           string    `gorm:"index;size:64" json:"lab_id"`
	Name            string    `json:"name"`
	Busy            bool      `json:"busy"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UserRole is the kind of person a DeviceUser is.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleGuest   UserRole = "guest"
)

// DeviceUser is a person eligible to occupy a device session.
type DeviceUser struct {
	ID   string   `gorm:"primaryKey;size:64" json:"id"`
	Name string   `json:"name"`
	Role UserRole `gorm:"size:16" json:"role"`
}

// BindingState is the state of an ActiveBinding. Only active bindings are stored.
type BindingState string

const BindingActive BindingState = "ACTIVE"

// ActiveBinding is the current (device, user) occupancy record.
// At most one exists per device and at most one per user.
type ActiveBinding struct {
	ID        string       `gorm:"primaryKey;size:64" json:"id"`
	LabID     string       `gorm:"index;size:64" json:"lab_id"`
	DeviceID  string       `gorm:"uniqueIndex;size:64;not null" json:"device_id"`
	UserID    string       `gorm:"uniqueIndex;size:64;not null" json:"user_id"`
	State     BindingState `gorm:"size:16" json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

// LoginAuditEntry is appended once per successful login and never changed.
type LoginAuditEntry struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	LabID     string    `gorm:"index;size:64" json:"lab_id"`
	UserID    string    `gorm:"index;size:64" json:"user_id"`
	DeviceID  string    `gorm:"size:64" json:"device_id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

// PowerState is a reported device power transition.
type PowerState string

const (
	PowerOn    PowerState = "on"
	PowerOff   PowerState = "off"
	PowerSleep PowerState = "sleep"
	PowerWake  PowerState = "wake"
)

// Valid reports whether s is a known power state.
func (s PowerState) Valid() bool {
	switch s {
	case PowerOn, PowerOff, PowerSleep, PowerWake:
		return true
	}
	return false
}

// PowerMonitoringLog records a power transition reported by a device.
type PowerMonitoringLog struct {
	ID        string     `gorm:"primaryKey;size:64" json:"id"`
	DeviceID  string     `gorm:"index;size:64" json:"device_id"`
	LabID     string     `gorm:"index;size:64" json:"lab_id"`
	State     PowerState `gorm:"size:16" json:"state"`
	Timestamp time.Time  `gorm:"index" json:"timestamp"`
}

// ActivityKind classifies an ActivityLog entry.
type ActivityKind string

const (
	ActivityForcedLogout ActivityKind = "forced-logout"
	ActivityControlGrant ActivityKind = "control-granted"
)

// ActivityLog is a timeline entry for the dashboard.
type ActivityLog struct {
	ID        string       `gorm:"primaryKey;size:64" json:"id"`
	DeviceID  string       `gorm:"index;size:64" json:"device_id"`
	UserID    string       `gorm:"size:64" json:"user_id,omitempty"`
	Kind      ActivityKind `gorm:"size:32" json:"kind"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `gorm:"index" json:"timestamp"`
}
