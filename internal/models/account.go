package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ParseRole accepts any casing; the empty string maps to employee.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleEmployee:
		return RoleEmployee, true
	case RoleManager:
		return RoleManager, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Elevated reports admin or manager privileges.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleManager
}

// Account is the aggregate root for credentials, lockout and devices.
type Account struct {
	AccountBucket     int            `db:"account_bucket" json:"-"`
	ID                string         `db:"account_id" json:"id"`
	Email             string         `db:"email" json:"email"`
	EmployeeID        string         `db:"employee_id" json:"employeeId"`
	Name              string         `db:"name" json:"name"`
	Department        string         `db:"department" json:"department,omitempty"`
	Role              Role           `db:"role" json:"role"`
	PasswordHash      string         `db:"password_hash" json:"-"`
	PasswordChangedAt time.Time      `db:"password_changed_at" json:"passwordChangedAt"`
	FailedAttempts    int            `db:"failed_attempts" json:"-"`
	LockUntil         *time.Time     `db:"lock_until" json:"-"`
	Devices           DeviceRegistry `db:"devices" json:"devices"`
	DevicesVersion    int64          `db:"devices_version" json:"-"`
	ResetTokenHash    string         `db:"reset_token_hash" json:"-"`
	ResetExpiresAt    *time.Time     `db:"reset_expires_at" json:"-"`
	PhoneEncrypted    string         `db:"phone_encrypted" json:"-"`
	IsActive          bool           `db:"is_active" json:"isActive"`
	LastLoginAt       *time.Time     `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updatedAt"`
}

func (a *Account) Lockout() LockoutState {
	return LockoutState{FailedAttempts: a.FailedAttempts, LockUntil: a.LockUntil}
}

// IsLocked is true iff a lock expiry exists and is still in the future.
func (a *Account) IsLocked(now time.Time) bool {
	return a.Lockout().Locked(now)
}

// LockRemaining is zero when the account is not locked.
func (a *Account) LockRemaining(now time.Time) time.Duration {
	if !a.IsLocked(now) {
		return 0
	}
	return a.LockUntil.Sub(now)
}

// AccountSummary is the client-facing view returned after login.
type AccountSummary struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	EmployeeID  string     `json:"employeeId"`
	Name        string     `json:"name"`
	Department  string     `json:"department,omitempty"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"isActive"`
	DeviceCount int        `json:"deviceCount"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:          a.ID,
		Email:       a.Email,
		EmployeeID:  a.EmployeeID,
		Name:        a.Name,
		Department:  a.Department,
		Role:        a.Role,
		IsActive:    a.IsActive,
		DeviceCount: len(a.Devices),
		LastLoginAt: a.LastLoginAt,
	}
}

// Clone returns a deep copy so callers can mutate without sharing slices.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Devices = a.Devices.clone()
	c.LockUntil = cloneTime(a.LockUntil)
	c.ResetExpiresAt = cloneTime(a.ResetExpiresAt)
	c.LastLoginAt = cloneTime(a.LastLoginAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
