package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"attendance-service/internal/bucketing"
	"attendance-service/internal/models"
	"attendance-service/internal/repository"
	"attendance-service/internal/util"
)

const accountColumns = `account_bucket, account_id, email, employee_id, name, department, role,
	password_hash, password_changed_at, failed_attempts, lock_until, devices, devices_version,
	reset_token_hash, reset_expires_at, phone_encrypted, is_active, last_login_at, created_at, updated_at`

type AccountRepository struct {
	client  *Client
	buckets *bucketing.Manager
}

func NewAccountRepository(client *Client, buckets *bucketing.Manager) *AccountRepository {
	return &AccountRepository{client: client, buckets: buckets}
}

func (r *AccountRepository) key(accountID string) (int, string) {
	return r.buckets.AccountBucket(accountID), accountID
}

func (r *AccountRepository) CreateAccount(ctx context.Context, a *models.Account) error {
	a.AccountBucket = r.buckets.AccountBucket(a.ID)

	applied, err := r.client.Applied(ctx,
		`INSERT INTO accounts_by_email (email, account_id) VALUES (?, ?) IF NOT EXISTS`,
		a.Email, a.ID)
	if err != nil {
		return fmt.Errorf("failed to reserve email: %w", err)
	}
	if !applied {
		return repository.ErrEmailTaken
	}

	if a.EmployeeID != "" {
		applied, err = r.client.Applied(ctx,
			`INSERT INTO accounts_by_employee_id (employee_id, account_id) VALUES (?, ?) IF NOT EXISTS`,
			a.EmployeeID, a.ID)
		if err != nil || !applied {
			r.release(ctx, `DELETE FROM accounts_by_email WHERE email = ? IF account_id = ?`, a.Email, a.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to reserve employee id: %w", err)
		}
		if !applied {
			return repository.ErrEmployeeIDTaken
		}
	}

	devices, err := encodeDevices(a.Devices)
	if err != nil {
		return err
	}

	applied, err = r.client.Applied(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		a.AccountBucket, a.ID, a.Email, a.EmployeeID, a.Name, a.Department, string(a.Role),
		a.PasswordHash, a.PasswordChangedAt, a.FailedAttempts, a.LockUntil, devices, a.DevicesVersion,
		a.ResetTokenHash, a.ResetExpiresAt, a.PhoneEncrypted, a.IsActive, a.LastLoginAt, a.CreatedAt, a.UpdatedAt)
	if err != nil || !applied {
		r.release(ctx, `DELETE FROM accounts_by_email WHERE email = ? IF account_id = ?`, a.Email, a.ID)
		if a.EmployeeID != "" {
			r.release(ctx, `DELETE FROM accounts_by_employee_id WHERE employee_id = ? IF account_id = ?`, a.EmployeeID, a.ID)
		}
	}
	if err != nil {
		util.Error("Failed to create account", zap.String("account_id", a.ID), zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}
	if !applied {
		return fmt.Errorf("account %s: %w", a.ID, repository.ErrAlreadyExists)
	}

	util.Info("Account created", zap.String("account_id", a.ID), zap.Int("account_bucket", a.AccountBucket))
	return nil
}

// release undoes a uniqueness reservation after a later step failed.
func (r *AccountRepository) release(ctx context.Context, stmt string, values ...interface{}) {
	if _, err := r.client.Applied(ctx, stmt, values...); err != nil {
		util.Warn("Failed to release account reservation", zap.Error(err))
	}
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	bucket, id := r.key(accountID)
	q := r.client.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_bucket = ? AND account_id = ?`, bucket, id)

	a, err := scanAccount(func(dest ...interface{}) error { return r.client.ScanWithRetry(q, dest...) })
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", accountID, repository.ErrNotFound)
		}
		util.Error("Failed to get account", zap.String("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var accountID string
	q := r.client.Query(ctx, `SELECT account_id FROM accounts_by_email WHERE email = ?`, email)
	if err := r.client.ScanWithRetry(q, &accountID); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("email: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	return r.GetAccountByID(ctx, accountID)
}

func (r *AccountRepository) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	scanner := r.client.Query(ctx, `SELECT `+accountColumns+` FROM accounts`).Iter().Scanner()

	var out []*models.Account
	for scanner.Next() {
		a, err := scanAccount(scanner.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return out, nil
}

func (r *AccountRepository) RecordLoginFailure(ctx context.Context, accountID string, policy models.LockoutPolicy, now time.Time) (models.LockoutState, error) {
	bucket, id := r.key(accountID)

	for attempt := 0; attempt < casRetries; attempt++ {
		a, err := r.GetAccountByID(ctx, accountID)
		if err != nil {
			return models.LockoutState{}, err
		}

		current := a.Lockout()
		next := models.NextLockout(current, policy, now)
		if next.Equal(current) {
			return current, nil
		}

		applied, err := r.client.Applied(ctx, `UPDATE accounts SET failed_attempts = ?, lock_until = ?, updated_at = ?
			WHERE account_bucket = ? AND account_id = ?
			IF failed_attempts = ? AND lock_until = ?`,
			next.FailedAttempts, next.LockUntil, now, bucket, id,
			current.FailedAttempts, current.LockUntil)
		if err != nil {
			return models.LockoutState{}, fmt.Errorf("failed to record login failure: %w", err)
		}
		if applied {
			return next, nil
		}
		util.Debug("Lockout update contended, retrying", zap.String("account_id", accountID), zap.Int("attempt", attempt))
	}
	return models.LockoutState{}, fmt.Errorf("record login failure: %w", repository.ErrConflict)
}

// RecordLoginSuccess only clears the lockout columns it read, so a lock
// written by a concurrent failure in between makes the update miss and the
// retry sees the lock.
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, accountID string, now time.Time) (models.LockoutState, error) {
	bucket, id := r.key(accountID)

	for attempt := 0; attempt < casRetries; attempt++ {
		a, err := r.GetAccountByID(ctx, accountID)
		if err != nil {
			return models.LockoutState{}, err
		}

		current := a.Lockout()
		if current.Locked(now) {
			return current, fmt.Errorf("account %s: %w", accountID, repository.ErrLocked)
		}

		applied, err := r.client.Applied(ctx, `UPDATE accounts SET failed_attempts = 0, lock_until = null, last_login_at = ?, updated_at = ?
			WHERE account_bucket = ? AND account_id = ?
			IF failed_attempts = ? AND lock_until = ?`,
			now, now, bucket, id,
			current.FailedAttempts, current.LockUntil)
		if err != nil {
			return models.LockoutState{}, fmt.Errorf("failed to record login success: %w", err)
		}
		if applied {
			return models.LockoutState{}, nil
		}
		util.Debug("Login success update contended, retrying", zap.String("account_id", accountID), zap.Int("attempt", attempt))
	}
	return models.LockoutState{}, fmt.Errorf("record login success: %w", repository.ErrConflict)
}

func (r *AccountRepository) ClearLockout(ctx context.Context, accountID string, now time.Time) error {
	bucket, id := r.key(accountID)
	return r.updateExisting(ctx, accountID, `UPDATE accounts SET failed_attempts = 0, lock_until = null, updated_at = ?
		WHERE account_bucket = ? AND account_id = ? IF EXISTS`, now, bucket, id)
}

func (r *AccountRepository) SetActive(ctx context.Context, accountID string, active bool, now time.Time) error {
	bucket, id := r.key(accountID)
	return r.updateExisting(ctx, accountID, `UPDATE accounts SET is_active = ?, updated_at = ?
		WHERE account_bucket = ? AND account_id = ? IF EXISTS`, active, now, bucket, id)
}

func (r *AccountRepository) SetPhone(ctx context.Context, accountID, phoneEncrypted string, now time.Time) error {
	bucket, id := r.key(accountID)
	return r.updateExisting(ctx, accountID, `UPDATE accounts SET phone_encrypted = ?, updated_at = ?
		WHERE account_bucket = ? AND account_id = ? IF EXISTS`, phoneEncrypted, now, bucket, id)
}

func (r *AccountRepository) updateExisting(ctx context.Context, accountID, stmt string, values ...interface{}) error {
	applied, err := r.client.Applied(ctx, stmt, values...)
	if err != nil {
		util.Error("Failed to update account", zap.String("account_id", accountID), zap.Error(err))
		return fmt.Errorf("failed to update account: %w", err)
	}
	if !applied {
		return fmt.Errorf("account %s: %w", accountID, repository.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) ReplaceDevices(ctx context.Context, accountID string, expectedVersion int64, devices models.DeviceRegistry, now time.Time) (bool, error) {
	bucket, id := r.key(accountID)
	encoded, err := encodeDevices(devices)
	if err != nil {
		return false, err
	}

	applied, err := r.client.Applied(ctx, `UPDATE accounts SET devices = ?, devices_version = ?, updated_at = ?
		WHERE account_bucket = ? AND account_id = ? IF devices_version = ?`,
		encoded, expectedVersion+1, now, bucket, id, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to replace devices: %w", err)
	}
	return applied, nil
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, accountID, passwordHash string, changedAt time.Time) error {
	a, err := r.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	bucket, id := r.key(accountID)
	if err := r.updateExisting(ctx, accountID, `UPDATE accounts SET password_hash = ?, password_changed_at = ?,
		reset_token_hash = null, reset_expires_at = null, failed_attempts = 0, lock_until = null, updated_at = ?
		WHERE account_bucket = ? AND account_id = ? IF EXISTS`,
		passwordHash, changedAt, changedAt, bucket, id); err != nil {
		return err
	}

	if a.ResetTokenHash != "" {
		r.release(ctx, `DELETE FROM reset_tokens WHERE token_hash = ? IF EXISTS`, a.ResetTokenHash)
	}
	return nil
}

func (r *AccountRepository) SetResetToken(ctx context.Context, accountID, tokenHash string, expiresAt, now time.Time) error {
	a, err := r.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	ttl := int(expiresAt.Sub(now).Seconds())
	if ttl < 1 {
		ttl = 1
	}
	if err := r.client.Query(ctx, `INSERT INTO reset_tokens (token_hash, account_id, expires_at) VALUES (?, ?, ?) USING TTL ?`,
		tokenHash, accountID, expiresAt, ttl).Exec(); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	bucket, id := r.key(accountID)
	if err := r.updateExisting(ctx, accountID, `UPDATE accounts SET reset_token_hash = ?, reset_expires_at = ?, updated_at = ?
		WHERE account_bucket = ? AND account_id = ? IF EXISTS`, tokenHash, expiresAt, now, bucket, id); err != nil {
		return err
	}

	if a.ResetTokenHash != "" && a.ResetTokenHash != tokenHash {
		r.release(ctx, `DELETE FROM reset_tokens WHERE token_hash = ? IF EXISTS`, a.ResetTokenHash)
	}
	return nil
}

func (r *AccountRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*models.Account, error) {
	var (
		accountID string
		expiresAt time.Time
	)
	q := r.client.Query(ctx, `SELECT account_id, expires_at FROM reset_tokens WHERE token_hash = ?`, tokenHash)
	if err := r.client.ScanWithRetry(q, &accountID, &expiresAt); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("reset token: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up reset token: %w", err)
	}
	if !expiresAt.After(now) {
		return nil, fmt.Errorf("reset token: %w", repository.ErrNotFound)
	}

	// the conditional delete is the single-use claim
	claimed, err := r.client.Applied(ctx, `DELETE FROM reset_tokens WHERE token_hash = ? IF account_id = ?`, tokenHash, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim reset token: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("reset token: %w", repository.ErrNotFound)
	}

	bucket, id := r.key(accountID)
	applied, err := r.client.Applied(ctx, `UPDATE accounts SET password_hash = ?, password_changed_at = ?,
		reset_token_hash = null, reset_expires_at = null, failed_attempts = 0, lock_until = null, updated_at = ?
		WHERE account_bucket = ? AND account_id = ? IF reset_token_hash = ?`,
		passwordHash, now, now, bucket, id, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("failed to apply password reset: %w", err)
	}
	if !applied {
		// superseded by a newer token
		return nil, fmt.Errorf("reset token: %w", repository.ErrNotFound)
	}

	return r.GetAccountByID(ctx, accountID)
}

func scanAccount(scan func(dest ...interface{}) error) (*models.Account, error) {
	var (
		a       models.Account
		role    string
		devices string
	)
	err := scan(
		&a.AccountBucket, &a.ID, &a.Email, &a.EmployeeID, &a.Name, &a.Department, &role,
		&a.PasswordHash, &a.PasswordChangedAt, &a.FailedAttempts, &a.LockUntil, &devices, &a.DevicesVersion,
		&a.ResetTokenHash, &a.ResetExpiresAt, &a.PhoneEncrypted, &a.IsActive, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Role = models.Role(role)
	if a.Devices, err = decodeDevices(devices); err != nil {
		return nil, err
	}
	return &a, nil
}

func encodeDevices(devices models.DeviceRegistry) (string, error) {
	if len(devices) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(devices)
	if err != nil {
		return "", fmt.Errorf("failed to encode devices: %w", err)
	}
	return string(raw), nil
}

func decodeDevices(raw string) (models.DeviceRegistry, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var devices models.DeviceRegistry
	if err := json.Unmarshal([]byte(raw), &devices); err != nil {
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}
	return devices, nil
}
