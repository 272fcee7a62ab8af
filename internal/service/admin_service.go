package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/geo"
	"attendance-service/internal/models"
	"attendance-service/internal/repository"
	"attendance-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	phonePurpose        = "employee_phone"
	employeeIDAttempts  = 3
	defaultEventsLimit  = 50
	maxEventsLimit      = 500
	statsCacheKeyPrefix = "overview:"
)

// FieldSealer encrypts single text fields for storage.
type FieldSealer interface {
	Seal(ctx context.Context, plaintext, purpose string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

// StatsCache is the short-lived dashboard snapshot store.
type StatsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Put(ctx context.Context, key string, value interface{}) error
}

type CreateEmployeeRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,min=6,max=128"`
	Name       string `json:"name" validate:"required,min=1,max=120"`
	EmployeeID string `json:"employeeId" validate:"omitempty,max=32"`
	Department string `json:"department" validate:"omitempty,max=120"`
	Role       string `json:"role" validate:"omitempty,oneof=employee manager admin"`
	Phone      string `json:"phone" validate:"omitempty,e164"`
}

type OfficeLocationRequest struct {
	Name         string  `json:"name" validate:"required,min=1,max=120"`
	Address      string  `json:"address" validate:"omitempty,max=255"`
	Latitude     float64 `json:"latitude" validate:"latitude"`
	Longitude    float64 `json:"longitude" validate:"longitude"`
	RadiusMeters float64 `json:"radiusMeters" validate:"required,gte=10,lte=5000"`
	IsActive     *bool   `json:"isActive"`
}

// OfficeLocationPatch updates only the fields that are set.
type OfficeLocationPatch struct {
	Name         *string  `json:"name" validate:"omitempty,min=1,max=120"`
	Address      *string  `json:"address" validate:"omitempty,max=255"`
	Latitude     *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude    *float64 `json:"longitude" validate:"omitempty,longitude"`
	RadiusMeters *float64 `json:"radiusMeters"`
	IsActive     *bool    `json:"isActive"`
}

// EmployeeDetail is an account summary plus decrypted contact data.
type EmployeeDetail struct {
	models.AccountSummary
	Phone     string          `json:"phone,omitempty"`
	Locked    bool            `json:"locked"`
	LockUntil *time.Time      `json:"lockUntil,omitempty"`
	Devices   []models.Device `json:"devices"`
}

// DailyAttendanceRow joins a record with its employee.
type DailyAttendanceRow struct {
	Employee models.AccountSummary    `json:"employee"`
	Record   *models.AttendanceRecord `json:"record"`
}

type DashboardStats struct {
	Date                  string    `json:"date"`
	TotalEmployees        int       `json:"totalEmployees"`
	ActiveEmployees       int       `json:"activeEmployees"`
	LockedAccounts        int       `json:"lockedAccounts"`
	CheckedInToday        int       `json:"checkedInToday"`
	CheckedOutToday       int       `json:"checkedOutToday"`
	AbsentToday           int       `json:"absentToday"`
	OfficeToday           int       `json:"officeToday"`
	WFHToday              int       `json:"wfhToday"`
	ActiveOfficeLocations int       `json:"activeOfficeLocations"`
	WFHRadiusMeters       float64   `json:"wfhRadiusMeters"`
	GeneratedAt           time.Time `json:"generatedAt"`
}

// AdminService is the administrative plumbing around the core: employees,
// office locations, daily attendance and dashboard numbers.
type AdminService struct {
	accounts    repository.AccountRepository
	attendance  repository.AttendanceRepository
	offices     repository.OfficeLocationRepository
	credentials *CredentialStore
	tracker     *AttendanceService
	sealer      FieldSealer
	stats       StatsCache
	events      audit.Searcher
	trail       *audit.Trail
	clock       Clock
	logger      *zap.Logger
}

type AdminDeps struct {
	Accounts    repository.AccountRepository
	Attendance  repository.AttendanceRepository
	Offices     repository.OfficeLocationRepository
	Credentials *CredentialStore
	Tracker     *AttendanceService
	Sealer      FieldSealer
	Stats       StatsCache
	Events      audit.Searcher
	Trail       *audit.Trail
	Clock       Clock
	Logger      *zap.Logger
}

func NewAdminService(d AdminDeps) *AdminService {
	if d.Clock == nil {
		d.Clock = SystemClock()
	}
	return &AdminService{
		accounts:    d.Accounts,
		attendance:  d.Attendance,
		offices:     d.Offices,
		credentials: d.Credentials,
		tracker:     d.Tracker,
		sealer:      d.Sealer,
		stats:       d.Stats,
		events:      d.Events,
		trail:       d.Trail,
		clock:       d.Clock,
		logger:      d.Logger,
	}
}

// CreateEmployee provisions an active account. A missing employee ID is
// generated; a phone number is envelope-encrypted before it is stored.
func (s *AdminService) CreateEmployee(ctx context.Context, req CreateEmployeeRequest) (*models.AccountSummary, error) {
	role, ok := models.ParseRole(req.Role)
	if !ok {
		return nil, ErrValidation.Withf("Role must be employee, manager or admin")
	}
	email := util.NormalizeEmail(req.Email)
	if email == "" {
		return nil, ErrValidation.Withf("Email is required")
	}

	account := &models.Account{
		Email:      email,
		EmployeeID: strings.TrimSpace(req.EmployeeID),
		Name:       util.SanitizeInput(req.Name),
		Department: util.SanitizeInput(req.Department),
		Role:       role,
		IsActive:   true,
	}

	if req.Phone != "" {
		if s.sealer == nil {
			return nil, ErrValidation.Withf("Phone numbers cannot be stored: encryption is not configured")
		}
		sealed, err := s.sealer.Seal(ctx, req.Phone, phonePurpose)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt phone: %w", err)
		}
		account.PhoneEncrypted = sealed
	}

	generated := account.EmployeeID == ""
	for attempt := 0; ; attempt++ {
		if generated {
			id, err := NewEmployeeID()
			if err != nil {
				return nil, err
			}
			account.EmployeeID = id
		}

		err := s.credentials.Create(ctx, account, req.Password)
		if err == nil {
			break
		}
		if generated && errors.Is(err, ErrEmployeeIDTaken) && attempt+1 < employeeIDAttempts {
			account.ID = ""
			continue
		}
		return nil, err
	}

	summary := account.Summary()
	return &summary, nil
}

func (s *AdminService) ListEmployees(ctx context.Context) ([]models.AccountSummary, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	out := make([]models.AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetEmployee returns one account with its phone number decrypted.
func (s *AdminService) GetEmployee(ctx context.Context, accountID string) (*EmployeeDetail, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	detail := &EmployeeDetail{
		AccountSummary: account.Summary(),
		Locked:         account.IsLocked(now),
		Devices:        account.Devices,
	}
	if detail.Locked {
		detail.LockUntil = account.LockUntil
	}
	if detail.Devices == nil {
		detail.Devices = []models.Device{}
	}

	if account.PhoneEncrypted != "" && s.sealer != nil {
		phone, err := s.sealer.Open(ctx, account.PhoneEncrypted)
		if err != nil {
			s.logger.Error("Failed to decrypt employee phone",
				zap.String("account_id", account.ID),
				zap.Error(err))
		} else {
			detail.Phone = phone
		}
	}
	return detail, nil
}

// SetEmployeeActive soft-enables or disables an account. Admins cannot
// disable themselves.
func (s *AdminService) SetEmployeeActive(ctx context.Context, actor *models.Account, accountID string, active bool) error {
	if actor != nil && actor.ID == accountID && !active {
		return ErrValidation.Withf("You cannot deactivate your own account")
	}
	if err := s.accounts.SetActive(ctx, accountID, active, s.clock.Now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound.Withf("Employee not found")
		}
		return fmt.Errorf("failed to update account status: %w", err)
	}

	s.logger.Info("Employee status changed",
		zap.String("account_id", accountID),
		zap.Bool("active", active),
		zap.String("actor_id", actorID(actor)))
	return nil
}

// UnlockEmployee clears a brute-force lockout ahead of its expiry.
func (s *AdminService) UnlockEmployee(ctx context.Context, actor *models.Account, accountID string, meta RequestMeta) error {
	if err := s.credentials.Unlock(ctx, accountID); err != nil {
		return err
	}
	s.trail.Record(ctx, models.SecurityEvent{
		EventType: models.EventAccountUnlocked,
		Reason:    "admin_unlock",
		AccountID: accountID,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Path:      meta.Path,
		Details:   map[string]string{"actor_id": actorID(actor)},
	})
	return nil
}

func (s *AdminService) ListOfficeLocations(ctx context.Context) ([]*models.OfficeLocation, error) {
	locations, err := s.offices.ListOfficeLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list office locations: %w", err)
	}
	return locations, nil
}

func (s *AdminService) CreateOfficeLocation(ctx context.Context, req OfficeLocationRequest) (*models.OfficeLocation, error) {
	center := geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	if !center.Valid() {
		return nil, ErrInvalidLocation
	}
	if err := validateRadius(req.RadiusMeters); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	loc := &models.OfficeLocation{
		ID:           uuid.NewString(),
		Name:         util.SanitizeInput(req.Name),
		Address:      util.SanitizeInput(req.Address),
		Center:       center,
		RadiusMeters: req.RadiusMeters,
		IsActive:     req.IsActive == nil || *req.IsActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.offices.CreateOfficeLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("failed to create office location: %w", err)
	}

	s.logger.Info("Office location created",
		zap.String("location_id", loc.ID),
		zap.Float64("radius_meters", loc.RadiusMeters))
	return loc, nil
}

// UpdateOfficeLocation applies patch. Radius stays within 10 to 5000 meters.
func (s *AdminService) UpdateOfficeLocation(ctx context.Context, id string, patch OfficeLocationPatch) (*models.OfficeLocation, error) {
	loc, err := s.offices.GetOfficeLocation(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound.Withf("Office location not found")
		}
		return nil, fmt.Errorf("failed to load office location: %w", err)
	}

	if patch.Name != nil {
		loc.Name = util.SanitizeInput(*patch.Name)
	}
	if patch.Address != nil {
		loc.Address = util.SanitizeInput(*patch.Address)
	}
	if patch.Latitude != nil {
		loc.Center.Latitude = *patch.Latitude
	}
	if patch.Longitude != nil {
		loc.Center.Longitude = *patch.Longitude
	}
	if !loc.Center.Valid() {
		return nil, ErrInvalidLocation
	}
	if patch.RadiusMeters != nil {
		if err := validateRadius(*patch.RadiusMeters); err != nil {
			return nil, err
		}
		loc.RadiusMeters = *patch.RadiusMeters
	}
	if patch.IsActive != nil {
		loc.IsActive = *patch.IsActive
	}
	loc.UpdatedAt = s.clock.Now()

	if err := s.offices.UpdateOfficeLocation(ctx, loc); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound.Withf("Office location not found")
		}
		return nil, fmt.Errorf("failed to update office location: %w", err)
	}
	return loc, nil
}

// SetWFHRadius changes the radius captured by future WFH check-ins.
func (s *AdminService) SetWFHRadius(ctx context.Context, actor *models.Account, radius float64) (float64, error) {
	previous, err := s.tracker.SetWFHRadius(ctx, radius)
	if err != nil {
		return 0, err
	}
	s.logger.Info("WFH radius changed by admin",
		zap.String("actor_id", actorID(actor)),
		zap.Float64("previous_meters", previous),
		zap.Float64("radius_meters", radius))
	return previous, nil
}

// AttendanceForDate lists every record for date joined with its employee.
// An empty date means today.
func (s *AdminService) AttendanceForDate(ctx context.Context, date string) ([]DailyAttendanceRow, error) {
	if date == "" {
		date = s.tracker.CurrentDate()
	} else if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, ErrValidation.Withf("Invalid date, expected YYYY-MM-DD")
	}

	records, err := s.attendance.ListAttendanceByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	byID := make(map[string]*models.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	rows := make([]DailyAttendanceRow, 0, len(records))
	for _, rec := range records {
		row := DailyAttendanceRow{Record: rec}
		if a, ok := byID[rec.AccountID]; ok {
			row.Employee = a.Summary()
		} else {
			row.Employee = models.AccountSummary{ID: rec.AccountID}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DashboardStats serves today's overview from the stats cache when fresh,
// computing and caching it otherwise. Cache failures fall through to a
// fresh computation.
func (s *AdminService) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	date := s.tracker.CurrentDate()
	key := statsCacheKeyPrefix + date

	if s.stats != nil {
		var cached DashboardStats
		found, err := s.stats.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("Stats cache read failed", zap.Error(err))
		} else if found {
			return &cached, nil
		}
	}

	stats, err := s.computeStats(ctx, date)
	if err != nil {
		return nil, err
	}

	if s.stats != nil {
		if err := s.stats.Put(ctx, key, stats); err != nil {
			s.logger.Warn("Stats cache write failed", zap.Error(err))
		}
	}
	return stats, nil
}

func (s *AdminService) computeStats(ctx context.Context, date string) (*DashboardStats, error) {
	now := s.clock.Now()

	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	records, err := s.attendance.ListAttendanceByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	offices, err := s.offices.ActiveOfficeLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list office locations: %w", err)
	}

	wfhRadius, err := s.tracker.WFHRadius(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		Date:                  date,
		TotalEmployees:        len(accounts),
		ActiveOfficeLocations: len(offices),
		WFHRadiusMeters:       wfhRadius,
		GeneratedAt:           now,
	}
	for _, a := range accounts {
		if a.IsActive {
			stats.ActiveEmployees++
		}
		if a.IsLocked(now) {
			stats.LockedAccounts++
		}
	}
	for _, rec := range records {
		if rec.CheckedOut() {
			stats.CheckedOutToday++
		} else {
			stats.CheckedInToday++
		}
		if rec.WorkMode == models.WorkModeWFH {
			stats.WFHToday++
		} else {
			stats.OfficeToday++
		}
	}
	stats.AbsentToday = int(math.Max(0, float64(stats.ActiveEmployees-len(records))))
	return stats, nil
}

// SecurityEvents returns recent audit events, newest first.
func (s *AdminService) SecurityEvents(ctx context.Context, filter audit.Filter) ([]models.SecurityEvent, error) {
	if s.events == nil {
		return []models.SecurityEvent{}, nil
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultEventsLimit
	}
	if filter.Limit > maxEventsLimit {
		filter.Limit = maxEventsLimit
	}

	events, err := s.events.Recent(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search security events: %w", err)
	}
	if events == nil {
		events = []models.SecurityEvent{}
	}
	return events, nil
}

func (s *AdminService) loadAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound.Withf("Employee not found")
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

func validateRadius(radius float64) error {
	if math.IsNaN(radius) || radius < models.MinOfficeRadiusMeters || radius > models.MaxOfficeRadiusMeters {
		return ErrInvalidRadius.Withf("Radius must be between %d and %d meters", models.MinOfficeRadiusMeters, models.MaxOfficeRadiusMeters)
	}
	return nil
}

func actorID(actor *models.Account) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}
