// Package repository defines the storage contracts shared by the ScyllaDB and
// in-memory backends.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance-service/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrConflict      = errors.New("concurrent modification")
	ErrLocked        = errors.New("account locked")

	ErrEmailTaken      = fmt.Errorf("email %w", ErrAlreadyExists)
	ErrEmployeeIDTaken = fmt.Errorf("employee id %w", ErrAlreadyExists)
)

// AccountRepository stores the Account aggregate. Every mutating method is a
// single conditional write against the persisted row, never a blind
// overwrite of a copy read earlier.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByID(ctx context.Context, accountID string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)

	// RecordLoginFailure applies models.NextLockout to the stored state and
	// returns the state that was written.
	RecordLoginFailure(ctx context.Context, accountID string, policy models.LockoutPolicy, now time.Time) (models.LockoutState, error)
	// RecordLoginSuccess clears counter and lock and sets last login together,
	// unless the stored lock is still running at now. Then nothing is written
	// and it returns the stored state with ErrLocked.
	RecordLoginSuccess(ctx context.Context, accountID string, now time.Time) (models.LockoutState, error)
	ClearLockout(ctx context.Context, accountID string, now time.Time) error

	// ReplaceDevices writes devices only if the stored version still equals
	// expectedVersion. It reports false when another writer got there first.
	ReplaceDevices(ctx context.Context, accountID string, expectedVersion int64, devices models.DeviceRegistry, now time.Time) (bool, error)

	// UpdatePassword is the explicit "password changed" transition: it sets
	// the hash and changedAt and clears reset and lockout state.
	UpdatePassword(ctx context.Context, accountID, passwordHash string, changedAt time.Time) error
	SetResetToken(ctx context.Context, accountID, tokenHash string, expiresAt, now time.Time) error
	// ConsumeResetToken claims an unexpired token exactly once and applies
	// the password change. Unknown, expired or used tokens yield ErrNotFound.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*models.Account, error)

	SetActive(ctx context.Context, accountID string, active bool, now time.Time) error
	SetPhone(ctx context.Context, accountID, phoneEncrypted string, now time.Time) error
}

type AttendanceRepository interface {
	// CreateAttendance inserts rec if no record exists for its key. On
	// conflict it returns the existing record with ErrAlreadyExists.
	CreateAttendance(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error)
	GetAttendance(ctx context.Context, accountID, date string) (*models.AttendanceRecord, error)
	// CompleteCheckOut writes the checkout fields only while the stored status
	// is checked-in. On conflict it returns the current record with ErrConflict.
	CompleteCheckOut(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error)
	// ListAttendance returns records with from <= date <= to, newest first.
	ListAttendance(ctx context.Context, accountID, from, to string) ([]*models.AttendanceRecord, error)
	ListAttendanceByDate(ctx context.Context, date string) ([]*models.AttendanceRecord, error)
}

type OfficeLocationRepository interface {
	CreateOfficeLocation(ctx context.Context, loc *models.OfficeLocation) error
	UpdateOfficeLocation(ctx context.Context, loc *models.OfficeLocation) error
	GetOfficeLocation(ctx context.Context, id string) (*models.OfficeLocation, error)
	ListOfficeLocations(ctx context.Context) ([]*models.OfficeLocation, error)
	// ActiveOfficeLocations returns active locations, oldest first.
	ActiveOfficeLocations(ctx context.Context) ([]*models.OfficeLocation, error)
}

// SettingsRepository holds runtime settings shared by every replica.
type SettingsRepository interface {
	// GetWFHRadius returns ErrNotFound until a radius has been saved.
	GetWFHRadius(ctx context.Context) (float64, error)
	SaveWFHRadius(ctx context.Context, radius float64, now time.Time) error
}

// Store bundles the repositories served by one backend.
type Store interface {
	Accounts() AccountRepository
	Attendance() AttendanceRepository
	OfficeLocations() OfficeLocationRepository
	Settings() SettingsRepository
	HealthCheck(ctx context.Context) error
	Close()
}
