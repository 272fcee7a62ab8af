package service

import (
	"sync"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/hashing"
	"attendance-service/internal/mail"
	"attendance-service/internal/models"
	"attendance-service/internal/repository"

	"go.uber.org/zap"
)

// FactoryConfig carries the settings the services need from config.Config.
type FactoryConfig struct {
	JWTSecret       string
	TokenTTL        time.Duration
	Lockout         models.LockoutPolicy
	ResetTokenTTL   time.Duration
	WFHRadiusMeters float64
	Location        *time.Location
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	store     repository.Store
	hasher    *hashing.Hasher
	sealer    FieldSealer
	mailer    mail.Mailer
	trail     *audit.Trail
	events    audit.Searcher
	stats     StatsCache
	publisher AttendancePublisher
	cfg       FactoryConfig
	clock     Clock
	logger    *zap.Logger

	mu          sync.Mutex
	credentials *CredentialStore
	sessions    *SessionIssuer
	attendance  *AttendanceService
	auth        *AuthService
	admin       *AdminService
}

type FactoryDeps struct {
	Store     repository.Store
	Hasher    *hashing.Hasher
	Sealer    FieldSealer
	Mailer    mail.Mailer
	Trail     *audit.Trail
	Events    audit.Searcher
	Stats     StatsCache
	Publisher AttendancePublisher
	Clock     Clock
	Logger    *zap.Logger
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(d FactoryDeps, cfg FactoryConfig) *ServiceFactory {
	if d.Clock == nil {
		d.Clock = SystemClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &ServiceFactory{
		store:     d.Store,
		hasher:    d.Hasher,
		sealer:    d.Sealer,
		mailer:    d.Mailer,
		trail:     d.Trail,
		events:    d.Events,
		stats:     d.Stats,
		publisher: d.Publisher,
		cfg:       cfg,
		clock:     d.Clock,
		logger:    d.Logger,
	}
}

// Credentials returns the credential store instance (singleton)
func (f *ServiceFactory) Credentials() *CredentialStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credentialsLocked()
}

func (f *ServiceFactory) credentialsLocked() *CredentialStore {
	if f.credentials == nil {
		f.credentials = NewCredentialStore(
			f.store.Accounts(),
			f.hasher,
			f.cfg.Lockout,
			f.cfg.ResetTokenTTL,
			f.clock,
			f.logger.Named("credentials"),
		)
	}
	return f.credentials
}

// Sessions returns the session issuer instance (singleton)
func (f *ServiceFactory) Sessions() *SessionIssuer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionsLocked()
}

func (f *ServiceFactory) sessionsLocked() *SessionIssuer {
	if f.sessions == nil {
		f.sessions = NewSessionIssuer(f.cfg.JWTSecret, f.cfg.TokenTTL, f.clock)
	}
	return f.sessions
}

// Attendance returns the attendance service instance (singleton)
func (f *ServiceFactory) Attendance() *AttendanceService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attendanceLocked()
}

func (f *ServiceFactory) attendanceLocked() *AttendanceService {
	if f.attendance == nil {
		f.attendance = NewAttendanceService(
			f.store.Attendance(),
			f.store.OfficeLocations(),
			f.store.Settings(),
			f.publisher,
			f.cfg.WFHRadiusMeters,
			f.cfg.Location,
			f.clock,
			f.logger.Named("attendance"),
		)
	}
	return f.attendance
}

// Auth returns the auth service instance (singleton)
func (f *ServiceFactory) Auth() *AuthService {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.auth == nil {
		f.auth = NewAuthService(
			f.store.Accounts(),
			f.credentialsLocked(),
			f.sessionsLocked(),
			f.hasher,
			f.mailer,
			f.trail,
			f.clock,
			f.logger.Named("auth"),
		)
	}
	return f.auth
}

// Admin returns the admin service instance (singleton)
func (f *ServiceFactory) Admin() *AdminService {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.admin == nil {
		f.admin = NewAdminService(AdminDeps{
			Accounts:    f.store.Accounts(),
			Attendance:  f.store.Attendance(),
			Offices:     f.store.OfficeLocations(),
			Credentials: f.credentialsLocked(),
			Tracker:     f.attendanceLocked(),
			Sealer:      f.sealer,
			Stats:       f.stats,
			Events:      f.events,
			Trail:       f.trail,
			Clock:       f.clock,
			Logger:      f.logger.Named("admin"),
		})
	}
	return f.admin
}

// Accounts exposes the account repository for the authorization gate.
func (f *ServiceFactory) Accounts() repository.AccountRepository {
	return f.store.Accounts()
}
