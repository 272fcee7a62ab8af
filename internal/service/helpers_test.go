package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/bucketing"
	"attendance-service/internal/geo"
	"attendance-service/internal/hashing"
	"attendance-service/internal/models"
	"attendance-service/internal/repository/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

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

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type sentReset struct {
	To        string
	RawToken  string
	ExpiresAt time.Time
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentReset
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, to, _, rawToken string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentReset{To: to, RawToken: rawToken, ExpiresAt: expiresAt})
	return nil
}

func (m *recordingMailer) last() (sentReset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentReset{}, false
	}
	return m.sent[len(m.sent)-1], true
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []AttendanceEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e AttendanceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// reverseSealer is a reversible stand-in for envelope encryption.
type reverseSealer struct{}

func (reverseSealer) Seal(_ context.Context, plaintext, _ string) (string, error) {
	return "sealed:" + reverse(plaintext), nil
}

func (reverseSealer) Open(_ context.Context, sealed string) (string, error) {
	return reverse(sealed[len("sealed:"):]), nil
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

type mapStatsCache struct {
	mu     sync.Mutex
	values map[string]DashboardStats
	hits   int
}

func (c *mapStatsCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return false, nil
	}
	c.hits++
	*(dest.(*DashboardStats)) = v
	return true, nil
}

func (c *mapStatsCache) Put(_ context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]DashboardStats{}
	}
	c.values[key] = *(value.(*DashboardStats))
	return nil
}

type testEnv struct {
	clock     *fakeClock
	store     *memory.Store
	hasher    *hashing.Hasher
	events    *audit.MemorySink
	mailer    *recordingMailer
	publisher *recordingPublisher
	stats     *mapStatsCache
	factory   *ServiceFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:     newFakeClock(testEpoch),
		store:     memory.NewStore(),
		hasher:    hashing.NewHasher(hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}, map[int]string{1: "test-pepper"}),
		events:    audit.NewMemorySink(100),
		mailer:    &recordingMailer{},
		publisher: &recordingPublisher{},
		stats:     &mapStatsCache{},
	}
	trail := audit.NewTrail(zap.NewNop(), bucketing.NewManager(8, 8), nil, env.events)

	env.factory = NewServiceFactory(FactoryDeps{
		Store:     env.store,
		Hasher:    env.hasher,
		Sealer:    reverseSealer{},
		Mailer:    env.mailer,
		Trail:     trail,
		Events:    env.events,
		Stats:     env.stats,
		Publisher: env.publisher,
		Clock:     env.clock,
		Logger:    zap.NewNop(),
	}, FactoryConfig{
		JWTSecret:       "test-secret",
		TokenTTL:        DefaultSessionTTL,
		Lockout:         models.DefaultLockoutPolicy(),
		ResetTokenTTL:   DefaultResetTokenTTL,
		WFHRadiusMeters: DefaultWFHRadiusMeters,
		Location:        time.UTC,
	})
	return env
}

func (e *testEnv) createAccount(t *testing.T, email, password string, role models.Role) *models.Account {
	t.Helper()
	account := &models.Account{Email: email, Name: "Test " + string(role), Role: role, IsActive: true}
	require.NoError(t, e.factory.Credentials().Create(context.Background(), account, password))
	return account
}

func (e *testEnv) reload(t *testing.T, id string) *models.Account {
	t.Helper()
	account, err := e.store.GetAccountByID(context.Background(), id)
	require.NoError(t, err)
	return account
}

func (e *testEnv) addOffice(t *testing.T, name string, center geo.Point, radius float64) *models.OfficeLocation {
	t.Helper()
	loc, err := e.factory.Admin().CreateOfficeLocation(context.Background(), OfficeLocationRequest{
		Name:         name,
		Latitude:     center.Latitude,
		Longitude:    center.Longitude,
		RadiusMeters: radius,
	})
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	return loc
}

// north returns p moved meters due north.
func north(p geo.Point, meters float64) geo.Point {
	return geo.Point{
		Latitude:  p.Latitude + meters/(geo.EarthRadiusMeters*math.Pi/180),
		Longitude: p.Longitude,
	}
}

func serviceError(t *testing.T, err error) *Error {
	t.Helper()
	require.Error(t, err)
	e, ok := AsError(err)
	require.True(t, ok, "expected *service.Error, got %v", err)
	return e
}
