package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/models"
	"attendance-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var hq = map[string]interface{}{
	"name":         "HQ",
	"latitude":     12.9716,
	"longitude":    77.5946,
	"radiusMeters": 100,
}

func TestLoginAndMe(t *testing.T) {
	env := newAPIEnv(t)
	account := env.createAccount(t, "jane@example.com", models.RoleEmployee)

	token := env.login(t, "Jane@Example.com", "secret12")

	rec := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.True(t, body.Success)

	var me models.AccountSummary
	require.NoError(t, json.Unmarshal(body.Data, &me))
	assert.Equal(t, account.ID, me.ID)
	assert.Equal(t, 1, me.DeviceCount)
}

func TestLoginFailureEnvelope(t *testing.T) {
	env := newAPIEnv(t)
	env.createAccount(t, "jane@example.com", models.RoleEmployee)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "jane@example.com", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "INVALID_CREDENTIALS", body.Code)
	assert.EqualValues(t, models.DefaultMaxFailedAttempts-1, body.Details["attemptsRemaining"])

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	fields, ok := body.Details["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
}

func TestAuthGateRejections(t *testing.T) {
	env := newAPIEnv(t)
	account := env.createAccount(t, "jane@example.com", models.RoleEmployee)
	token := env.login(t, "jane@example.com", "secret12")

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{name: "missing", header: "", code: "NO_TOKEN"},
		{name: "wrong scheme", header: "Basic " + token, code: "NO_TOKEN"},
		{name: "garbage", header: "Bearer not.a.token", code: "INVALID_TOKEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/attendance/today", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tc.code, decode(t, rec).Code)
		})
	}

	failures, err := env.events.Recent(context.Background(), audit.Filter{EventType: models.EventAuthFailure})
	require.NoError(t, err)
	assert.Len(t, failures, len(cases))

	require.NoError(t, env.store.SetActive(context.Background(), account.ID, false, testEpoch))
	rec := env.do(t, http.MethodGet, "/api/v1/attendance/today", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "ACCOUNT_INACTIVE", decode(t, rec).Code)
}

func TestAuthGateExpiredToken(t *testing.T) {
	env := newAPIEnv(t)
	env.createAccount(t, "jane@example.com", models.RoleEmployee)
	token := env.login(t, "jane@example.com", "secret12")

	env.clock.Advance(service.DefaultSessionTTL + time.Second)
	rec := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_EXPIRED", decode(t, rec).Code)
}

func TestAuthGateLockedAccount(t *testing.T) {
	env := newAPIEnv(t)
	env.createAccount(t, "jane@example.com", models.RoleEmployee)
	token := env.login(t, "jane@example.com", "secret12")

	for i := 0; i < models.DefaultMaxFailedAttempts; i++ {
		env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "jane@example.com", "password": "wrong-password",
		})
	}

	rec := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ACCOUNT_LOCKED", body.Code)
	assert.EqualValues(t, 30, body.Details["remainingMinutes"])
}

func TestPasswordChangeInvalidatesOldTokens(t *testing.T) {
	env := newAPIEnv(t)
	env.createAccount(t, "jane@example.com", models.RoleEmployee)
	old := env.login(t, "jane@example.com", "secret12")

	env.clock.Advance(time.Second)
	rec := env.do(t, http.MethodPost, "/api/v1/auth/change-password", old, map[string]string{
		"currentPassword": "secret12",
		"newPassword":     "brand-new-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result service.LoginResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	require.NotEmpty(t, result.Token)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", old, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "PASSWORD_CHANGED", decode(t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", result.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoleGates(t *testing.T) {
	env := newAPIEnv(t)
	env.createAccount(t, "emp@example.com", models.RoleEmployee)
	env.createAccount(t, "mgr@example.com", models.RoleManager)
	env.createAccount(t, "admin@example.com", models.RoleAdmin)

	employee := env.login(t, "emp@example.com", "secret12")
	manager := env.login(t, "mgr@example.com", "secret12")
	admin := env.login(t, "admin@example.com", "secret12")

	rec := env.do(t, http.MethodGet, "/api/v1/admin/stats", employee, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/stats", manager, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/office-locations", manager, hq)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/office-locations", admin, hq)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/admin/office-locations", manager, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	denied, err := env.events.Recent(context.Background(), audit.Filter{EventType: models.EventAuthorizationDenied})
	require.NoError(t, err)
	assert.Len(t, denied, 2)
}

func TestAttendanceFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.createAccount(t, "admin@example.com", models.RoleAdmin)
	env.createAccount(t, "emp@example.com", models.RoleEmployee)
	admin := env.login(t, "admin@example.com", "secret12")
	employee := env.login(t, "emp@example.com", "secret12")

	rec := env.do(t, http.MethodPost, "/api/v1/admin/office-locations", admin, hq)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/attendance/checkin", employee, map[string]interface{}{
		"latitude": 13.5, "longitude": 77.5946, "workMode": "Office",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "OUT_OF_OFFICE_RADIUS", body.Code)
	assert.Contains(t, body.Details, "distance")
	assert.EqualValues(t, 100, body.Details["allowedRadius"])

	rec = env.do(t, http.MethodPost, "/api/v1/attendance/checkin", employee, map[string]interface{}{
		"latitude": 12.9716, "longitude": 77.5946, "workMode": "Office",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/attendance/checkin", employee, map[string]interface{}{
		"latitude": 12.9716, "longitude": 77.5946, "workMode": "office",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_CHECKED_IN", decode(t, rec).Code)

	env.clock.Advance(8*time.Hour + 15*time.Minute)
	rec = env.do(t, http.MethodPost, "/api/v1/attendance/checkout", employee, map[string]interface{}{
		"latitude": 12.9716, "longitude": 77.5946,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var closed models.AttendanceRecord
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &closed))
	assert.Equal(t, models.StatusCheckedOut, closed.Status)
	assert.Equal(t, 8.25, closed.WorkingHours)

	rec = env.do(t, http.MethodPost, "/api/v1/attendance/checkout", employee, map[string]interface{}{
		"latitude": 12.9716, "longitude": 77.5946,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_CHECKED_OUT", decode(t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/v1/attendance/history", employee, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history service.AttendanceHistory
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &history))
	assert.Len(t, history.Records, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/attendance?date=2026-03-02", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []service.DailyAttendanceRow
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &rows))
	assert.Len(t, rows, 1)
}

func TestCheckInValidation(t *testing.T) {
	env := newAPIEnv(t)
	env.createAccount(t, "emp@example.com", models.RoleEmployee)
	employee := env.login(t, "emp@example.com", "secret12")

	rec := env.do(t, http.MethodPost, "/api/v1/attendance/checkin", employee, map[string]interface{}{
		"longitude": 200, "workMode": "office",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	fields := body.Details["fields"].(map[string]interface{})
	assert.Contains(t, fields, "latitude")
	assert.Contains(t, fields, "longitude")

	rec = env.do(t, http.MethodPost, "/api/v1/attendance/checkin", employee, map[string]interface{}{
		"latitude": 12.9, "longitude": 77.5, "workMode": "remote",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_WORK_MODE", decode(t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/attendance/checkout", employee, map[string]interface{}{
		"latitude": 12.9, "longitude": 77.5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NOT_CHECKED_IN", decode(t, rec).Code)
}

func TestLoginThrottled(t *testing.T) {
	env := newAPIEnv(t)
	env.limiter.calls = 100

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "jane@example.com", "password": "secret12",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode(t, rec).Code)

	limited, err := env.events.Recent(context.Background(), audit.Filter{EventType: models.EventRateLimited})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeviceEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	account := env.createAccount(t, "jane@example.com", models.RoleEmployee)
	token := env.login(t, "jane@example.com", "secret12")

	rec := env.do(t, http.MethodGet, "/api/v1/auth/devices", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/auth/devices/unknown", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DEVICE_NOT_FOUND", decode(t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/logout", token, map[string]string{"deviceId": "device-jane@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := env.store.GetAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Devices)
}

func TestAdminEmployeeEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	boss := env.createAccount(t, "admin@example.com", models.RoleAdmin)
	admin := env.login(t, "admin@example.com", "secret12")

	rec := env.do(t, http.MethodPost, "/api/v1/admin/employees", admin, map[string]string{
		"email": "new@example.com", "password": "secret12", "name": "New Hire", "role": "manager",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.AccountSummary
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	assert.Equal(t, models.RoleManager, created.Role)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/employees", admin, map[string]string{
		"email": "new@example.com", "password": "secret12", "name": "Again",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMAIL_TAKEN", decode(t, rec).Code)

	rec = env.do(t, http.MethodPatch, "/api/v1/admin/employees/"+boss.ID+"/status", admin, map[string]bool{"isActive": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/v1/admin/employees/"+created.ID+"/status", admin, map[string]bool{"isActive": false})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/employees/"+created.ID, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/admin/settings/wfh-radius", admin, map[string]float64{"radiusMeters": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/admin/settings/wfh-radius", admin, map[string]float64{"radiusMeters": 250})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/security-events?limit=abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/security-events?type=login_success", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.SecurityEvent
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &events))
	assert.NotEmpty(t, events)
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	respondWithError(rec, req, zap.NewNop(), errors.New("scylla: connection refused to 10.0.0.4"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.4")
}

func TestUnknownRoute(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec).Code)

	rec = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
