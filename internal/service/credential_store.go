package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance-service/internal/hashing"
	"attendance-service/internal/models"
	"attendance-service/internal/repository"
	"attendance-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MinPasswordLength    = 6
	DefaultResetTokenTTL = 15 * time.Minute

	deviceCASRetries = 5
)

// VerifyResult is the outcome of a password check. Locked is true when this
// attempt (or an earlier one) left the account locked.
type VerifyResult struct {
	Matched bool
	Locked  bool
	// Tripped is set when this attempt's failure started the lock.
	Tripped bool
	Lockout models.LockoutState
}

// CredentialStore owns password hashes, lockout counters, reset tokens and
// the device registry of each account. Every state change goes through a
// conditional write in the repository.
type CredentialStore struct {
	accounts repository.AccountRepository
	hasher   *hashing.Hasher
	policy   models.LockoutPolicy
	resetTTL time.Duration
	clock    Clock
	logger   *zap.Logger
}

func NewCredentialStore(
	accounts repository.AccountRepository,
	hasher *hashing.Hasher,
	policy models.LockoutPolicy,
	resetTTL time.Duration,
	clock Clock,
	logger *zap.Logger,
) *CredentialStore {
	if resetTTL <= 0 {
		resetTTL = DefaultResetTokenTTL
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &CredentialStore{
		accounts: accounts,
		hasher:   hasher,
		policy:   policy,
		resetTTL: resetTTL,
		clock:    clock,
		logger:   logger,
	}
}

func (s *CredentialStore) Policy() models.LockoutPolicy {
	return s.policy
}

// Create hashes rawPassword and persists account. The account's ID and
// timestamps are filled in when empty.
func (s *CredentialStore) Create(ctx context.Context, account *models.Account, rawPassword string) error {
	if len(rawPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	hash, err := s.hasher.HashPassword(rawPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.clock.Now()
	account.Email = util.NormalizeEmail(account.Email)
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Role == "" {
		account.Role = models.RoleEmployee
	}
	account.PasswordHash = hash
	account.PasswordChangedAt = now
	account.FailedAttempts = 0
	account.LockUntil = nil
	account.Devices = nil
	account.DevicesVersion = 0
	account.ResetTokenHash = ""
	account.ResetExpiresAt = nil
	account.CreatedAt = now
	account.UpdatedAt = now

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return ErrEmailTaken
		case errors.Is(err, repository.ErrEmployeeIDTaken):
			return ErrEmployeeIDTaken
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("Account created",
		zap.String("account_id", account.ID),
		zap.String("role", string(account.Role)))
	return nil
}

// Verify checks rawPassword against the stored hash and records the outcome
// atomically: a match clears counter and lock and stamps last login, a
// mismatch advances the counter under the lockout policy. A match against an
// account whose stored lock is running is rejected as Locked, even when
// account is an older copy that still looked unlocked.
func (s *CredentialStore) Verify(ctx context.Context, account *models.Account, rawPassword string) (VerifyResult, error) {
	matched, err := s.hasher.VerifyPassword(rawPassword, account.PasswordHash)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to verify password: %w", err)
	}

	now := s.clock.Now()
	if matched {
		state, err := s.accounts.RecordLoginSuccess(ctx, account.ID, now)
		if errors.Is(err, repository.ErrLocked) {
			account.FailedAttempts = state.FailedAttempts
			account.LockUntil = state.LockUntil
			return VerifyResult{Locked: true, Lockout: state}, nil
		}
		if err != nil {
			return VerifyResult{}, fmt.Errorf("failed to record login success: %w", err)
		}
		account.FailedAttempts = 0
		account.LockUntil = nil
		account.LastLoginAt = &now
		return VerifyResult{Matched: true}, nil
	}

	wasLocked := account.IsLocked(now)
	state, err := s.accounts.RecordLoginFailure(ctx, account.ID, s.policy, now)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to record login failure: %w", err)
	}
	account.FailedAttempts = state.FailedAttempts
	account.LockUntil = state.LockUntil

	locked := state.Locked(now)
	return VerifyResult{Lockout: state, Locked: locked, Tripped: locked && !wasLocked}, nil
}

// IsLocked is true iff the account has a lock expiry still in the future.
func (s *CredentialStore) IsLocked(account *models.Account) bool {
	return account.IsLocked(s.clock.Now())
}

// RegisterDevice records desc on the account's registry. A descriptor
// without an ID is a no-op. A known ID only refreshes last use. A new ID
// past the cap reports LimitReached and leaves the registry as it was.
func (s *CredentialStore) RegisterDevice(ctx context.Context, account *models.Account, desc models.DeviceDescriptor) (models.RegisterResult, error) {
	if desc.DeviceID == "" {
		return models.RegisterResult{}, nil
	}

	current := account
	for attempt := 0; attempt < deviceCASRetries; attempt++ {
		now := s.clock.Now()
		next, result := current.Devices.Register(desc, now)
		if result.LimitReached {
			return result, nil
		}

		ok, err := s.accounts.ReplaceDevices(ctx, current.ID, current.DevicesVersion, next, now)
		if err != nil {
			return models.RegisterResult{}, fmt.Errorf("failed to store devices: %w", err)
		}
		if ok {
			account.Devices = next
			account.DevicesVersion = current.DevicesVersion + 1
			return result, nil
		}

		if current, err = s.reload(ctx, account.ID); err != nil {
			return models.RegisterResult{}, err
		}
	}
	return models.RegisterResult{}, fmt.Errorf("device registry for %s: %w", account.ID, repository.ErrConflict)
}

// RemoveDevice drops deviceID from the registry, reporting whether it was
// present.
func (s *CredentialStore) RemoveDevice(ctx context.Context, account *models.Account, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}

	current := account
	for attempt := 0; attempt < deviceCASRetries; attempt++ {
		next, found := current.Devices.Remove(deviceID)
		if !found {
			return false, nil
		}

		ok, err := s.accounts.ReplaceDevices(ctx, current.ID, current.DevicesVersion, next, s.clock.Now())
		if err != nil {
			return false, fmt.Errorf("failed to store devices: %w", err)
		}
		if ok {
			account.Devices = next
			account.DevicesVersion = current.DevicesVersion + 1
			return true, nil
		}

		if current, err = s.reload(ctx, account.ID); err != nil {
			return false, err
		}
	}
	return false, fmt.Errorf("device registry for %s: %w", account.ID, repository.ErrConflict)
}

// CreateResetToken issues a 256-bit reset token. Only its digest is stored;
// the raw value is returned for out-of-band delivery and never logged.
func (s *CredentialStore) CreateResetToken(ctx context.Context, account *models.Account) (string, time.Time, error) {
	raw, err := hashing.NewToken()
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.resetTTL)
	digest := hashing.HashToken(raw)
	if err := s.accounts.SetResetToken(ctx, account.ID, digest, expiresAt, now); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store reset token: %w", err)
	}
	account.ResetTokenHash = digest
	account.ResetExpiresAt = &expiresAt

	return raw, expiresAt, nil
}

// ConsumeResetToken sets newPassword on the account holding an unexpired
// token matching rawToken, clearing reset and lockout state. A token works
// once.
func (s *CredentialStore) ConsumeResetToken(ctx context.Context, rawToken, newPassword string) (*models.Account, error) {
	if rawToken == "" {
		return nil, ErrInvalidResetToken
	}
	if len(newPassword) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := s.accounts.ConsumeResetToken(ctx, hashing.HashToken(rawToken), hash, s.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidResetToken
		}
		return nil, fmt.Errorf("failed to consume reset token: %w", err)
	}
	return account, nil
}

// ChangePassword verifies the current password, then applies the password
// changed transition. A wrong current password does not touch the lockout
// counter; the caller already holds a valid session.
func (s *CredentialStore) ChangePassword(ctx context.Context, account *models.Account, currentPassword, newPassword string) (time.Time, error) {
	if len(newPassword) < MinPasswordLength {
		return time.Time{}, ErrPasswordTooShort
	}
	if currentPassword == newPassword {
		return time.Time{}, ErrValidation.Withf("New password must differ from the current password")
	}

	matched, err := s.hasher.VerifyPassword(currentPassword, account.PasswordHash)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to verify password: %w", err)
	}
	if !matched {
		return time.Time{}, ErrInvalidCredentials.Withf("Current password is incorrect")
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.clock.Now()
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, now); err != nil {
		return time.Time{}, fmt.Errorf("failed to update password: %w", err)
	}
	account.PasswordHash = hash
	account.PasswordChangedAt = now
	account.ResetTokenHash = ""
	account.ResetExpiresAt = nil
	account.FailedAttempts = 0
	account.LockUntil = nil
	return now, nil
}

// Unlock clears the lockout counter and expiry.
func (s *CredentialStore) Unlock(ctx context.Context, accountID string) error {
	if err := s.accounts.ClearLockout(ctx, accountID, s.clock.Now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound.Withf("Employee not found")
		}
		return fmt.Errorf("failed to clear lockout: %w", err)
	}
	return nil
}

func (s *CredentialStore) reload(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to reload account: %w", err)
	}
	return account, nil
}
