package service

import (
	"context"
	"testing"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeta = RequestMeta{IP: "198.51.100.7", UserAgent: "test-agent", Path: "/api/v1/auth/login"}

func login(env *testEnv, email, password, deviceID string) (*LoginResult, error) {
	return env.factory.Auth().Login(context.Background(), LoginRequest{
		Email:    email,
		Password: password,
		Device:   models.DeviceDescriptor{DeviceID: deviceID},
	}, testMeta)
}

func eventTypes(t *testing.T, env *testEnv, accountID string) []string {
	t.Helper()
	events, err := env.events.Recent(context.Background(), audit.Filter{AccountID: accountID, Limit: 100})
	require.NoError(t, err)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "Jane@Example.com", "hunter22", models.RoleEmployee)

	result, err := login(env, " JANE@example.com ", "hunter22", "phone-1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.True(t, result.NewDevice)
	assert.Equal(t, account.ID, result.Account.ID)
	assert.Equal(t, 1, result.Account.DeviceCount)

	claims, err := env.factory.Sessions().Validate(result.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.AccountID())

	assert.Contains(t, eventTypes(t, env, account.ID), models.EventLoginSuccess)
}

func TestLoginUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	_, err := login(env, "nobody@example.com", "whatever", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	events, err := env.events.Recent(context.Background(), audit.Filter{EventType: models.EventLoginFailure})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "unknown_email", events[0].Reason)
	assert.Equal(t, testMeta.IP, events[0].IPAddress)
	assert.Equal(t, testMeta.UserAgent, events[0].UserAgent)
}

func TestLoginLockout(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "a@example.com", "hunter22", models.RoleEmployee)

	for i := 1; i < models.DefaultMaxFailedAttempts; i++ {
		_, err := login(env, "a@example.com", "wrong", "")
		e := serviceError(t, err)
		assert.Equal(t, "INVALID_CREDENTIALS", e.Code)
		assert.Equal(t, models.DefaultMaxFailedAttempts-i, e.Details["attemptsRemaining"])
	}

	_, err := login(env, "a@example.com", "wrong", "")
	e := serviceError(t, err)
	assert.Equal(t, "ACCOUNT_LOCKED", e.Code)
	assert.Equal(t, 30, e.Details["remainingMinutes"])

	// the right password is refused while locked and the counter stays put
	env.clock.Advance(5 * time.Minute)
	_, err = login(env, "a@example.com", "hunter22", "")
	e = serviceError(t, err)
	assert.Equal(t, "ACCOUNT_LOCKED", e.Code)
	assert.Equal(t, 25, e.Details["remainingMinutes"])
	assert.Equal(t, models.DefaultMaxFailedAttempts, env.reload(t, account.ID).FailedAttempts)

	env.clock.Advance(25*time.Minute + time.Second)
	_, err = login(env, "a@example.com", "hunter22", "")
	require.NoError(t, err)
	assert.Zero(t, env.reload(t, account.ID).FailedAttempts)

	assert.Contains(t, eventTypes(t, env, account.ID), models.EventAccountLocked)
}

func TestLoginInactive(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "a@example.com", "hunter22", models.RoleEmployee)
	require.NoError(t, env.store.SetActive(context.Background(), account.ID, false, testEpoch))

	_, err := login(env, "a@example.com", "hunter22", "")
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestLoginDeviceLimit(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "a@example.com", "hunter22", models.RoleEmployee)

	for _, d := range []string{"d1", "d2", "d3"} {
		_, err := login(env, "a@example.com", "hunter22", d)
		require.NoError(t, err)
	}

	_, err := login(env, "a@example.com", "hunter22", "d4")
	e := serviceError(t, err)
	assert.Equal(t, "DEVICE_LIMIT_REACHED", e.Code)
	assert.Equal(t, models.MaxDevices, e.Details["maxDevices"])
	assert.Len(t, env.reload(t, account.ID).Devices, 3)

	// a known device still gets in
	result, err := login(env, "a@example.com", "hunter22", "d2")
	require.NoError(t, err)
	assert.False(t, result.NewDevice)
}

func TestLogoutRemovesDevice(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "a@example.com", "hunter22", models.RoleEmployee)
	_, err := login(env, "a@example.com", "hunter22", "d1")
	require.NoError(t, err)

	require.NoError(t, env.factory.Auth().Logout(context.Background(), env.reload(t, account.ID), "d1", testMeta))
	assert.Empty(t, env.reload(t, account.ID).Devices)
	assert.Contains(t, eventTypes(t, env, account.ID), models.EventLogout)
}

func TestRemoveUnknownDevice(t *testing.T) {
	env := newTestEnv(t)
	account := env.createAccount(t, "a@example.com", "hunter22", models.RoleEmployee)

	err := env.factory.Auth().RemoveDevice(context.Background(), account, "missing", testMeta)
	assert.ErrorIs(t, err, ErrDeviceNotRegistered)
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	auth := env.factory.Auth()
	ctx := context.Background()
	account := env.createAccount(t, "a@example.com", "hunter22", models.RoleEmployee)

	require.NoError(t, auth.ForgotPassword(ctx, "nobody@example.com", testMeta))
	_, sent := env.mailer.last()
	assert.False(t, sent, "unknown emails get no mail")

	require.NoError(t, auth.ForgotPassword(ctx, "A@example.com", testMeta))
	mail, sent := env.mailer.last()
	require.True(t, sent)
	assert.Equal(t, "a@example.com", mail.To)
	assert.Equal(t, testEpoch.Add(DefaultResetTokenTTL), mail.ExpiresAt)

	for _, e := range mustRecent(t, env, models.EventPasswordResetSent) {
		for _, v := range e.Details {
			assert.NotEqual(t, mail.RawToken, v)
		}
	}

	env.clock.Advance(time.Minute)
	require.NoError(t, auth.ResetPassword(ctx, mail.RawToken, "brandnew1", testMeta))

	err := auth.ResetPassword(ctx, mail.RawToken, "brandnew2", testMeta)
	assert.ErrorIs(t, err, ErrInvalidResetToken)

	_, err = login(env, "a@example.com", "hunter22", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = login(env, "a@example.com", "brandnew1", "")
	require.NoError(t, err)

	assert.Contains(t, eventTypes(t, env, account.ID), models.EventPasswordChanged)
}

func TestChangePasswordIssuesFreshToken(t *testing.T) {
	env := newTestEnv(t)
	auth := env.factory.Auth()
	ctx := context.Background()
	account := env.createAccount(t, "a@example.com", "hunter22", models.RoleEmployee)

	old, err := login(env, "a@example.com", "hunter22", "")
	require.NoError(t, err)
	oldClaims, err := env.factory.Sessions().Validate(old.Token)
	require.NoError(t, err)

	env.clock.Advance(time.Second)
	_, err = auth.ChangePassword(ctx, env.reload(t, account.ID), "wrong", "brandnew1", testMeta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	fresh, err := auth.ChangePassword(ctx, env.reload(t, account.ID), "hunter22", "brandnew1", testMeta)
	require.NoError(t, err)

	stored := env.reload(t, account.ID)
	assert.True(t, IsStale(oldClaims, stored))

	freshClaims, err := env.factory.Sessions().Validate(fresh.Token)
	require.NoError(t, err)
	assert.False(t, IsStale(freshClaims, stored))
}

func TestChangePasswordSameSecondInvalidatesEarlierToken(t *testing.T) {
	env := newTestEnv(t)
	auth := env.factory.Auth()
	ctx := context.Background()
	account := env.createAccount(t, "a@example.com", "hunter22", models.RoleEmployee)

	env.clock.Advance(100 * time.Millisecond)
	old, err := login(env, "a@example.com", "hunter22", "")
	require.NoError(t, err)

	env.clock.Advance(400 * time.Millisecond)
	fresh, err := auth.ChangePassword(ctx, env.reload(t, account.ID), "hunter22", "brandnew1", testMeta)
	require.NoError(t, err)

	stored := env.reload(t, account.ID)
	oldClaims, err := env.factory.Sessions().Validate(old.Token)
	require.NoError(t, err)
	freshClaims, err := env.factory.Sessions().Validate(fresh.Token)
	require.NoError(t, err)
	require.Equal(t, oldClaims.IssuedAtTime().Unix(), freshClaims.IssuedAtTime().Unix())

	assert.True(t, IsStale(oldClaims, stored))
	assert.False(t, IsStale(freshClaims, stored))
}

func TestBootstrapCreatesAdminOnce(t *testing.T) {
	env := newTestEnv(t)
	auth := env.factory.Auth()
	ctx := context.Background()

	created, err := auth.Bootstrap(ctx, "", "", "")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = auth.Bootstrap(ctx, "Admin@Example.com", "adminpass", "")
	require.NoError(t, err)
	assert.True(t, created)

	admin, err := env.store.GetAccountByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.True(t, admin.IsActive)
	assert.Regexp(t, `^EMP-[0-9A-Z]{8}$`, admin.EmployeeID)

	created, err = auth.Bootstrap(ctx, "admin@example.com", "otherpass", "")
	require.NoError(t, err)
	assert.False(t, created)
}

func mustRecent(t *testing.T, env *testEnv, eventType string) []models.SecurityEvent {
	t.Helper()
	events, err := env.events.Recent(context.Background(), audit.Filter{EventType: eventType, Limit: 100})
	require.NoError(t, err)
	return events
}
