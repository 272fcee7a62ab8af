// Package memory is a process-local Store for development and tests. One
// mutex serializes every write, which gives the same conditional-update
// guarantees the ScyllaDB backend gets from lightweight transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"attendance-service/internal/models"
	"attendance-service/internal/repository"
)

type resetEntry struct {
	accountID string
	expiresAt time.Time
}

type Store struct {
	mu sync.Mutex

	accounts      map[string]*models.Account
	byEmail       map[string]string
	byEmployeeID  map[string]string
	resetTokens   map[string]resetEntry
	attendance    map[string]map[string]*models.AttendanceRecord
	locations     map[string]*models.OfficeLocation
	locationOrder []string
	wfhRadius     *float64
}

func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]*models.Account),
		byEmail:      make(map[string]string),
		byEmployeeID: make(map[string]string),
		resetTokens:  make(map[string]resetEntry),
		attendance:   make(map[string]map[string]*models.AttendanceRecord),
		locations:    make(map[string]*models.OfficeLocation),
	}
}

func (s *Store) Accounts() repository.AccountRepository { return s }
func (s *Store) Attendance() repository.AttendanceRepository { return s }
func (s *Store) OfficeLocations() repository.OfficeLocationRepository { return s }
func (s *Store) Settings() repository.SettingsRepository { return s }
func (s *Store) HealthCheck(context.Context) error { return nil }
func (s *Store) Close() {}

// account returns the stored pointer; callers must hold s.mu.
func (s *Store) account(id string) (*models.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, repository.ErrNotFound)
	}
	return a, nil
}

func (s *Store) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return fmt.Errorf("account %s: %w", account.ID, repository.ErrAlreadyExists)
	}
	if _, ok := s.byEmail[account.Email]; ok {
		return repository.ErrEmailTaken
	}
	if account.EmployeeID != "" {
		if _, ok := s.byEmployeeID[account.EmployeeID]; ok {
			return repository.ErrEmployeeIDTaken
		}
		s.byEmployeeID[account.EmployeeID] = account.ID
	}
	s.byEmail[account.Email] = account.ID
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *Store) GetAccountByID(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("email %s: %w", email, repository.ErrNotFound)
	}
	a, err := s.account(id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RecordLoginFailure(_ context.Context, accountID string, policy models.LockoutPolicy, now time.Time) (models.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(accountID)
	if err != nil {
		return models.LockoutState{}, err
	}
	next := models.NextLockout(a.Lockout(), policy, now)
	a.FailedAttempts = next.FailedAttempts
	a.LockUntil = next.LockUntil
	a.UpdatedAt = now
	return next, nil
}

func (s *Store) RecordLoginSuccess(_ context.Context, accountID string, now time.Time) (models.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(accountID)
	if err != nil {
		return models.LockoutState{}, err
	}
	if a.IsLocked(now) {
		return a.Lockout(), fmt.Errorf("account %s: %w", accountID, repository.ErrLocked)
	}
	a.FailedAttempts = 0
	a.LockUntil = nil
	a.LastLoginAt = &now
	a.UpdatedAt = now
	return models.LockoutState{}, nil
}

func (s *Store) ClearLockout(_ context.Context, accountID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(accountID)
	if err != nil {
		return err
	}
	a.FailedAttempts = 0
	a.LockUntil = nil
	a.UpdatedAt = now
	return nil
}

func (s *Store) ReplaceDevices(_ context.Context, accountID string, expectedVersion int64, devices models.DeviceRegistry, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(accountID)
	if err != nil {
		return false, err
	}
	if a.DevicesVersion != expectedVersion {
		return false, nil
	}
	a.Devices = append(models.DeviceRegistry(nil), devices...)
	a.DevicesVersion++
	a.UpdatedAt = now
	return true, nil
}

func (s *Store) UpdatePassword(_ context.Context, accountID, passwordHash string, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(accountID)
	if err != nil {
		return err
	}
	s.applyPassword(a, passwordHash, changedAt)
	return nil
}

func (s *Store) applyPassword(a *models.Account, passwordHash string, changedAt time.Time) {
	if a.ResetTokenHash != "" {
		delete(s.resetTokens, a.ResetTokenHash)
	}
	a.PasswordHash = passwordHash
	a.PasswordChangedAt = changedAt
	a.ResetTokenHash = ""
	a.ResetExpiresAt = nil
	a.FailedAttempts = 0
	a.LockUntil = nil
	a.UpdatedAt = changedAt
}

func (s *Store) SetResetToken(_ context.Context, accountID, tokenHash string, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(accountID)
	if err != nil {
		return err
	}
	if a.ResetTokenHash != "" {
		delete(s.resetTokens, a.ResetTokenHash)
	}
	a.ResetTokenHash = tokenHash
	a.ResetExpiresAt = &expiresAt
	a.UpdatedAt = now
	s.resetTokens[tokenHash] = resetEntry{accountID: accountID, expiresAt: expiresAt}
	return nil
}

func (s *Store) ConsumeResetToken(_ context.Context, tokenHash, passwordHash string, now time.Time) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.resetTokens[tokenHash]
	if !ok || !entry.expiresAt.After(now) {
		return nil, fmt.Errorf("reset token: %w", repository.ErrNotFound)
	}
	a, err := s.account(entry.accountID)
	if err != nil {
		return nil, err
	}
	if a.ResetTokenHash != tokenHash || a.ResetExpiresAt == nil || !a.ResetExpiresAt.After(now) {
		return nil, fmt.Errorf("reset token: %w", repository.ErrNotFound)
	}
	s.applyPassword(a, passwordHash, now)
	return a.Clone(), nil
}

func (s *Store) SetActive(_ context.Context, accountID string, active bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(accountID)
	if err != nil {
		return err
	}
	a.IsActive = active
	a.UpdatedAt = now
	return nil
}

func (s *Store) SetPhone(_ context.Context, accountID, phoneEncrypted string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(accountID)
	if err != nil {
		return err
	}
	a.PhoneEncrypted = phoneEncrypted
	a.UpdatedAt = now
	return nil
}

func (s *Store) CreateAttendance(_ context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, ok := s.attendance[rec.AccountID]
	if !ok {
		days = make(map[string]*models.AttendanceRecord)
		s.attendance[rec.AccountID] = days
	}
	if existing, ok := days[rec.Date]; ok {
		return existing.Clone(), fmt.Errorf("attendance %s/%s: %w", rec.AccountID, rec.Date, repository.ErrAlreadyExists)
	}
	days[rec.Date] = rec.Clone()
	return nil, nil
}

func (s *Store) GetAttendance(_ context.Context, accountID, date string) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attendance[accountID][date]
	if !ok {
		return nil, fmt.Errorf("attendance %s/%s: %w", accountID, date, repository.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) CompleteCheckOut(_ context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.attendance[rec.AccountID][rec.Date]
	if !ok {
		return nil, fmt.Errorf("attendance %s/%s: %w", rec.AccountID, rec.Date, repository.ErrNotFound)
	}
	if current.Status != models.StatusCheckedIn {
		return current.Clone(), fmt.Errorf("attendance %s/%s: %w", rec.AccountID, rec.Date, repository.ErrConflict)
	}

	current.Status = models.StatusCheckedOut
	current.CheckOutAt = rec.CheckOutAt
	current.CheckOutLocation = rec.CheckOutLocation
	current.WorkingHours = rec.WorkingHours
	return current.Clone(), nil
}

func (s *Store) ListAttendance(_ context.Context, accountID, from, to string) ([]*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.AttendanceRecord
	for date, rec := range s.attendance[accountID] {
		if date >= from && date <= to {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (s *Store) ListAttendanceByDate(_ context.Context, date string) ([]*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.AttendanceRecord
	for _, days := range s.attendance {
		if rec, ok := days[date]; ok {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckInAt.Before(out[j].CheckInAt) })
	return out, nil
}

func (s *Store) CreateOfficeLocation(_ context.Context, loc *models.OfficeLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[loc.ID]; ok {
		return fmt.Errorf("office location %s: %w", loc.ID, repository.ErrAlreadyExists)
	}
	c := *loc
	s.locations[loc.ID] = &c
	s.locationOrder = append(s.locationOrder, loc.ID)
	return nil
}

func (s *Store) UpdateOfficeLocation(_ context.Context, loc *models.OfficeLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[loc.ID]; !ok {
		return fmt.Errorf("office location %s: %w", loc.ID, repository.ErrNotFound)
	}
	c := *loc
	s.locations[loc.ID] = &c
	return nil
}

func (s *Store) GetOfficeLocation(_ context.Context, id string) (*models.OfficeLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[id]
	if !ok {
		return nil, fmt.Errorf("office location %s: %w", id, repository.ErrNotFound)
	}
	c := *loc
	return &c, nil
}

func (s *Store) ListOfficeLocations(_ context.Context) ([]*models.OfficeLocation, error) {
	return s.listLocations(false), nil
}

func (s *Store) ActiveOfficeLocations(_ context.Context) ([]*models.OfficeLocation, error) {
	return s.listLocations(true), nil
}

func (s *Store) listLocations(activeOnly bool) []*models.OfficeLocation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.OfficeLocation, 0, len(s.locationOrder))
	for _, id := range s.locationOrder {
		loc := s.locations[id]
		if activeOnly && !loc.IsActive {
			continue
		}
		c := *loc
		out = append(out, &c)
	}
	return out
}

func (s *Store) GetWFHRadius(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wfhRadius == nil {
		return 0, fmt.Errorf("wfh radius: %w", repository.ErrNotFound)
	}
	return *s.wfhRadius, nil
}

func (s *Store) SaveWFHRadius(_ context.Context, radius float64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wfhRadius = &radius
	return nil
}
