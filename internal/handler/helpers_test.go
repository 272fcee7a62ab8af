package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/bucketing"
	"attendance-service/internal/hashing"
	"attendance-service/internal/models"
	"attendance-service/internal/repository/memory"
	"attendance-service/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type nopMailer struct{}

func (nopMailer) SendPasswordReset(context.Context, string, string, string, time.Time) error {
	return nil
}

type denyLimiter struct {
	calls int
}

func (l *denyLimiter) Allow(_ context.Context, _, _ string, limit int, _ time.Duration) (bool, time.Duration, error) {
	l.calls++
	return l.calls <= limit, 42 * time.Second, nil
}

type apiEnv struct {
	clock   *fakeClock
	store   *memory.Store
	events  *audit.MemorySink
	factory *service.ServiceFactory
	limiter *denyLimiter
	router  chi.Router
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	env := &apiEnv{
		clock:   &fakeClock{t: testEpoch},
		store:   memory.NewStore(),
		events:  audit.NewMemorySink(200),
		limiter: &denyLimiter{},
	}
	logger := zap.NewNop()
	trail := audit.NewTrail(logger, bucketing.NewManager(8, 8), nil, env.events)
	hasher := hashing.NewHasher(hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}, map[int]string{1: "test-pepper"})

	env.factory = service.NewServiceFactory(service.FactoryDeps{
		Store:  env.store,
		Hasher: hasher,
		Mailer: nopMailer{},
		Trail:  trail,
		Events: env.events,
		Clock:  env.clock,
		Logger: logger,
	}, service.FactoryConfig{
		JWTSecret:       "handler-test-secret",
		TokenTTL:        service.DefaultSessionTTL,
		Lockout:         models.DefaultLockoutPolicy(),
		ResetTokenTTL:   service.DefaultResetTokenTTL,
		WFHRadiusMeters: service.DefaultWFHRadiusMeters,
		Location:        time.UTC,
	})

	env.router = NewRouter(RouterConfig{
		Auth:           NewAuthHandler(env.factory.Auth(), logger),
		Attendance:     NewAttendanceHandler(env.factory.Attendance(), logger),
		Admin:          NewAdminHandler(env.factory.Admin(), logger),
		Gate:           NewAuthGate(env.factory.Sessions(), env.factory.Accounts(), trail, env.clock, logger),
		Trail:          trail,
		Limiter:        env.limiter,
		AuthRateLimit:  100,
		AuthRateWindow: time.Minute,
		Logger:         logger,
	})
	return env
}

func (e *apiEnv) createAccount(t *testing.T, email string, role models.Role) *models.Account {
	t.Helper()
	account := &models.Account{Email: email, Name: string(role) + " user", Role: role, IsActive: true}
	require.NoError(t, e.factory.Credentials().Create(context.Background(), account, "secret12"))
	return account
}

// login signs in through the API and returns the bearer token.
func (e *apiEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]interface{}{
		"email":      email,
		"password":   password,
		"deviceInfo": map[string]string{"deviceId": "device-" + email},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.Token)
	return body.Data.Token
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}
