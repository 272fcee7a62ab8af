package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/geo"
	"attendance-service/internal/hashing"
	"attendance-service/internal/mail"
	"attendance-service/internal/models"
	"attendance-service/internal/repository"
	"attendance-service/internal/util"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	employeeIDAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	employeeIDLength   = 8
)

// RequestMeta identifies the caller for the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
	Path      string
}

type LoginRequest struct {
	Email    string                  `json:"email" validate:"required,email,max=254"`
	Password string                  `json:"password" validate:"required,max=128"`
	Device   models.DeviceDescriptor `json:"deviceInfo"`
	Location *geo.Point              `json:"location,omitempty"`
}

type LoginResult struct {
	Token     string                `json:"token"`
	ExpiresAt time.Time             `json:"expiresAt"`
	Account   models.AccountSummary `json:"user"`
	NewDevice bool                  `json:"newDevice"`
}

// AuthService orchestrates login, logout and the password lifecycle on top
// of the credential store and session issuer.
type AuthService struct {
	accounts    repository.AccountRepository
	credentials *CredentialStore
	sessions    *SessionIssuer
	hasher      *hashing.Hasher
	mailer      mail.Mailer
	trail       *audit.Trail
	clock       Clock
	logger      *zap.Logger
}

func NewAuthService(
	accounts repository.AccountRepository,
	credentials *CredentialStore,
	sessions *SessionIssuer,
	hasher *hashing.Hasher,
	mailer mail.Mailer,
	trail *audit.Trail,
	clock Clock,
	logger *zap.Logger,
) *AuthService {
	if clock == nil {
		clock = SystemClock()
	}
	return &AuthService{
		accounts:    accounts,
		credentials: credentials,
		sessions:    sessions,
		hasher:      hasher,
		mailer:      mailer,
		trail:       trail,
		clock:       clock,
		logger:      logger,
	}
}

// Login checks lock and activity before spending a verify cycle, then the
// password, then the device cap, and only then issues a token. Unknown
// emails burn a dummy verify so timing does not reveal them.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, meta RequestMeta) (*LoginResult, error) {
	email := util.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, ErrValidation.Withf("Email and password are required")
	}

	fail := func(account *models.Account, reason string, err *Error) (*LoginResult, error) {
		s.record(ctx, models.EventLoginFailure, reason, account, email, req.Device.DeviceID, meta, locationDetails(req.Location))
		return nil, err
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load account: %w", err)
		}
		s.hasher.DummyVerify(req.Password)
		return fail(nil, "unknown_email", ErrInvalidCredentials)
	}

	if s.credentials.IsLocked(account) {
		s.hasher.DummyVerify(req.Password)
		return fail(account, "account_locked", LockedError(account, s.clock.Now()))
	}
	if !account.IsActive {
		s.hasher.DummyVerify(req.Password)
		return fail(account, "account_inactive", ErrAccountInactive)
	}

	result, err := s.credentials.Verify(ctx, account, req.Password)
	if err != nil {
		return nil, err
	}
	if !result.Matched {
		if result.Locked && !result.Tripped {
			return fail(account, "account_locked", LockedError(account, s.clock.Now()))
		}
		if result.Locked {
			s.record(ctx, models.EventAccountLocked, "max_failed_attempts", account, email, req.Device.DeviceID, meta, map[string]string{
				"failed_attempts": strconv.Itoa(result.Lockout.FailedAttempts),
			})
			return fail(account, "invalid_password", LockedError(account, s.clock.Now()))
		}
		return fail(account, "invalid_password", ErrInvalidCredentials.With(map[string]interface{}{
			"attemptsRemaining": result.Lockout.AttemptsRemaining(s.credentials.Policy()),
		}))
	}

	registered, err := s.credentials.RegisterDevice(ctx, account, req.Device)
	if err != nil {
		return nil, err
	}
	if registered.LimitReached {
		return fail(account, "device_limit_reached", ErrDeviceLimitReached.With(map[string]interface{}{
			"maxDevices": models.MaxDevices,
			"devices":    account.Devices,
		}))
	}

	token, claims, err := s.sessions.Issue(account)
	if err != nil {
		return nil, err
	}

	s.record(ctx, models.EventLoginSuccess, "", account, email, req.Device.DeviceID, meta, locationDetails(req.Location))
	s.logger.Info("Login succeeded",
		zap.String("account_id", account.ID),
		zap.Bool("new_device", registered.IsNew))

	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		Account:   account.Summary(),
		NewDevice: registered.IsNew,
	}, nil
}

// Logout removes the presented device from the account's registry. The
// token itself stays valid until expiry or the next password change.
func (s *AuthService) Logout(ctx context.Context, account *models.Account, deviceID string, meta RequestMeta) error {
	removed, err := s.credentials.RemoveDevice(ctx, account, deviceID)
	if err != nil {
		return err
	}
	s.record(ctx, models.EventLogout, "", account, account.Email, deviceID, meta, map[string]string{
		"device_removed": strconv.FormatBool(removed),
	})
	return nil
}

// RemoveDevice drops a device the caller no longer uses.
func (s *AuthService) RemoveDevice(ctx context.Context, account *models.Account, deviceID string, meta RequestMeta) error {
	removed, err := s.credentials.RemoveDevice(ctx, account, deviceID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrDeviceNotRegistered
	}
	s.record(ctx, models.EventDeviceRemoved, "", account, account.Email, deviceID, meta, nil)
	return nil
}

// ForgotPassword always reports success to the caller so it cannot be used
// to probe which emails are registered.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, meta RequestMeta) error {
	email = util.NormalizeEmail(email)
	if email == "" {
		return ErrValidation.Withf("Email is required")
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.record(ctx, models.EventPasswordResetSent, "unknown_email", nil, email, "", meta, nil)
			return nil
		}
		return fmt.Errorf("failed to load account: %w", err)
	}
	if !account.IsActive {
		s.record(ctx, models.EventPasswordResetSent, "account_inactive", account, email, "", meta, nil)
		return nil
	}

	rawToken, expiresAt, err := s.credentials.CreateResetToken(ctx, account)
	if err != nil {
		return err
	}

	if err := s.mailer.SendPasswordReset(ctx, account.Email, account.Name, rawToken, expiresAt); err != nil {
		s.logger.Error("Failed to send password reset email",
			zap.String("account_id", account.ID),
			zap.Error(err))
	}
	s.record(ctx, models.EventPasswordResetSent, "", account, email, "", meta, map[string]string{
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	return nil
}

// ResetPassword consumes a reset token. Tokens issued before the reset stop
// working because the password changed timestamp moves forward.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string, meta RequestMeta) error {
	account, err := s.credentials.ConsumeResetToken(ctx, rawToken, newPassword)
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			s.record(ctx, models.EventAuthFailure, "invalid_reset_token", nil, "", "", meta, nil)
		}
		return err
	}
	s.record(ctx, models.EventPasswordChanged, "reset", account, account.Email, "", meta, nil)
	return nil
}

// ChangePassword applies a new password and returns a fresh token, since
// every token issued before the change is now stale.
func (s *AuthService) ChangePassword(ctx context.Context, account *models.Account, currentPassword, newPassword string, meta RequestMeta) (*LoginResult, error) {
	if _, err := s.credentials.ChangePassword(ctx, account, currentPassword, newPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.record(ctx, models.EventAuthFailure, "wrong_current_password", account, account.Email, "", meta, nil)
		}
		return nil, err
	}

	token, claims, err := s.sessions.Issue(account)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.EventPasswordChanged, "change", account, account.Email, "", meta, nil)

	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		Account:   account.Summary(),
	}, nil
}

// Bootstrap creates the first admin account when email is set and no
// account with that email exists yet.
func (s *AuthService) Bootstrap(ctx context.Context, email, password, name string) (bool, error) {
	email = util.NormalizeEmail(email)
	if email == "" {
		return false, nil
	}

	if _, err := s.accounts.GetAccountByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, fmt.Errorf("failed to look up bootstrap admin: %w", err)
	}

	if name == "" {
		name = "Administrator"
	}
	employeeID, err := NewEmployeeID()
	if err != nil {
		return false, err
	}
	account := &models.Account{
		Email:      email,
		EmployeeID: employeeID,
		Name:       util.SanitizeInput(name),
		Role:       models.RoleAdmin,
		IsActive:   true,
	}
	if err := s.credentials.Create(ctx, account, password); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return false, nil
		}
		return false, err
	}

	s.logger.Info("Bootstrap admin created",
		zap.String("account_id", account.ID),
		zap.String("email", util.MaskEmail(email)))
	return true, nil
}

func (s *AuthService) record(ctx context.Context, eventType, reason string, account *models.Account, email, deviceID string, meta RequestMeta, details map[string]string) {
	event := models.SecurityEvent{
		EventType: eventType,
		Reason:    reason,
		Email:     email,
		DeviceID:  deviceID,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Path:      meta.Path,
		Details:   details,
	}
	if account != nil {
		event.AccountID = account.ID
	}
	s.trail.Record(ctx, event)
}

// NewEmployeeID returns an identifier like EMP-7K2Q9X4M.
func NewEmployeeID() (string, error) {
	id, err := gonanoid.Generate(employeeIDAlphabet, employeeIDLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate employee id: %w", err)
	}
	return "EMP-" + id, nil
}

// LockedError reports the remaining lock time in whole minutes, rounded up.
func LockedError(account *models.Account, now time.Time) *Error {
	minutes := int(math.Ceil(account.LockRemaining(now).Minutes()))
	return ErrAccountLocked.Withf("Account is locked. Try again in %d minutes", minutes).With(map[string]interface{}{
		"remainingMinutes": minutes,
		"lockUntil":        account.LockUntil,
	})
}

func locationDetails(p *geo.Point) map[string]string {
	if p == nil || !p.Valid() {
		return nil
	}
	return map[string]string{
		"latitude":  strconv.FormatFloat(p.Latitude, 'f', 6, 64),
		"longitude": strconv.FormatFloat(p.Longitude, 'f', 6, 64),
	}
}
