package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"attendance-service/internal/geo"
	"attendance-service/internal/models"
	"attendance-service/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultWFHRadiusMeters = 100.0
	DefaultHistoryDays     = 30
	MaxHistoryDays         = 366
)

// AttendanceHistory is a date range of records with its aggregate.
type AttendanceHistory struct {
	From    string                     `json:"from"`
	To      string                     `json:"to"`
	Records []*models.AttendanceRecord `json:"records"`
	Summary models.AttendanceSummary   `json:"summary"`
}

// AttendanceService runs the per-account per-day check-in/check-out state
// machine. The stored record for (account, date) is the only mutex between
// concurrent callers.
type AttendanceService struct {
	attendance repository.AttendanceRepository
	offices    repository.OfficeLocationRepository
	settings   repository.SettingsRepository
	publisher  AttendancePublisher
	location   *time.Location
	clock      Clock
	logger     *zap.Logger

	// used until an admin saves a radius
	defaultWFHRadius float64
}

func NewAttendanceService(
	attendance repository.AttendanceRepository,
	offices repository.OfficeLocationRepository,
	settings repository.SettingsRepository,
	publisher AttendancePublisher,
	wfhRadius float64,
	location *time.Location,
	clock Clock,
	logger *zap.Logger,
) *AttendanceService {
	if wfhRadius <= 0 {
		wfhRadius = DefaultWFHRadiusMeters
	}
	if location == nil {
		location = time.UTC
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &AttendanceService{
		attendance:       attendance,
		offices:          offices,
		settings:         settings,
		publisher:        publisher,
		location:         location,
		clock:            clock,
		logger:           logger,
		defaultWFHRadius: wfhRadius,
	}
}

// DateKey formats t as the calendar day in the configured timezone.
func (s *AttendanceService) DateKey(t time.Time) string {
	return t.In(s.location).Format(models.DateLayout)
}

// CurrentDate is today's date key.
func (s *AttendanceService) CurrentDate() string {
	return s.DateKey(s.clock.Now())
}

// WFHRadius is the radius captured by new WFH check-ins: the saved setting,
// or the configured default when none was saved.
func (s *AttendanceService) WFHRadius(ctx context.Context) (float64, error) {
	radius, err := s.settings.GetWFHRadius(ctx)
	switch {
	case err == nil && radius > 0:
		return radius, nil
	case err == nil, errors.Is(err, repository.ErrNotFound):
		return s.defaultWFHRadius, nil
	}
	return 0, fmt.Errorf("failed to load wfh radius: %w", err)
}

// SetWFHRadius changes the radius for future WFH check-ins only. Open days
// keep the radius they captured. It returns the previous value.
func (s *AttendanceService) SetWFHRadius(ctx context.Context, radius float64) (float64, error) {
	if math.IsNaN(radius) || radius < models.MinOfficeRadiusMeters || radius > models.MaxOfficeRadiusMeters {
		return 0, ErrInvalidRadius.With(map[string]interface{}{
			"min": models.MinOfficeRadiusMeters,
			"max": models.MaxOfficeRadiusMeters,
		})
	}

	previous, err := s.WFHRadius(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.settings.SaveWFHRadius(ctx, radius, s.clock.Now()); err != nil {
		return 0, fmt.Errorf("failed to save wfh radius: %w", err)
	}

	s.logger.Info("WFH radius updated",
		zap.Float64("previous_meters", previous),
		zap.Float64("radius_meters", radius))
	return previous, nil
}

// CheckIn opens the day for accountID. An empty date means today. WFH
// check-ins skip the distance check and anchor checkout to coords with the
// radius in force right now.
func (s *AttendanceService) CheckIn(ctx context.Context, accountID, date string, coords geo.Point, mode models.WorkMode) (*models.AttendanceRecord, error) {
	mode, ok := models.ParseWorkMode(string(mode))
	if !ok {
		return nil, ErrInvalidWorkMode
	}
	if !coords.Valid() {
		return nil, ErrInvalidLocation
	}

	now := s.clock.Now()
	if date == "" {
		date = s.DateKey(now)
	}

	existing, err := s.attendance.GetAttendance(ctx, accountID, date)
	switch {
	case err == nil:
		return existing, alreadyCheckedIn(existing)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}

	rec := &models.AttendanceRecord{
		AccountID:       accountID,
		Date:            date,
		WorkMode:        mode,
		Status:          models.StatusCheckedIn,
		CheckInAt:       now,
		CheckInLocation: coords,
	}

	switch mode {
	case models.WorkModeOffice:
		office, _, err := s.matchOffice(ctx, coords)
		if err != nil {
			return nil, err
		}
		rec.OfficeLocationID = office.ID
	case models.WorkModeWFH:
		radius, err := s.WFHRadius(ctx)
		if err != nil {
			return nil, err
		}
		rec.WFHRadiusMeters = radius
	}

	existing, err = s.attendance.CreateAttendance(ctx, rec)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return existing, alreadyCheckedIn(existing)
		}
		return nil, fmt.Errorf("failed to create attendance: %w", err)
	}

	s.logger.Info("Checked in",
		zap.String("account_id", accountID),
		zap.String("date", date),
		zap.String("work_mode", string(mode)))
	s.publish(ctx, newAttendanceEvent(AttendanceEventCheckedIn, rec, now, coords))

	return rec, nil
}

// CheckOut closes the day. Office days are re-validated against the current
// office configuration, WFH days against the anchor and radius captured at
// check-in. A day already closed is returned together with
// ErrAlreadyCheckedOut.
func (s *AttendanceService) CheckOut(ctx context.Context, accountID, date string, coords geo.Point) (*models.AttendanceRecord, error) {
	if !coords.Valid() {
		return nil, ErrInvalidLocation
	}

	now := s.clock.Now()
	if date == "" {
		date = s.DateKey(now)
	}

	rec, err := s.attendance.GetAttendance(ctx, accountID, date)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotCheckedIn
		}
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}
	if rec.CheckedOut() {
		return rec, alreadyCheckedOut(rec)
	}

	switch rec.WorkMode {
	case models.WorkModeWFH:
		radius := rec.WFHRadiusMeters
		if radius <= 0 {
			radius = DefaultWFHRadiusMeters
		}
		distance, ok := geo.Within(rec.CheckInLocation, coords, radius)
		if !ok {
			return nil, ErrOutOfWFHRadius.With(map[string]interface{}{
				"distance":      math.Round(distance),
				"allowedRadius": radius,
			})
		}
	default:
		if _, _, err := s.matchOffice(ctx, coords); err != nil {
			return nil, err
		}
	}

	closed := rec.Clone()
	closed.Status = models.StatusCheckedOut
	closed.CheckOutAt = &now
	closed.CheckOutLocation = &coords
	closed.WorkingHours = WorkingHours(rec.CheckInAt, now)

	current, err := s.attendance.CompleteCheckOut(ctx, closed)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict) && current != nil:
			return current, alreadyCheckedOut(current)
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotCheckedIn
		}
		return nil, fmt.Errorf("failed to complete checkout: %w", err)
	}

	s.logger.Info("Checked out",
		zap.String("account_id", accountID),
		zap.String("date", date),
		zap.Float64("working_hours", current.WorkingHours))
	s.publish(ctx, newAttendanceEvent(AttendanceEventCheckedOut, current, now, coords))

	return current, nil
}

// Today returns the record for (accountID, date), or nil when absent. An
// empty date means the current day.
func (s *AttendanceService) Today(ctx context.Context, accountID, date string) (*models.AttendanceRecord, error) {
	if date == "" {
		date = s.CurrentDate()
	}
	rec, err := s.attendance.GetAttendance(ctx, accountID, date)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}
	return rec, nil
}

// History returns records between from and to inclusive, newest first.
// Empty bounds default to the last DefaultHistoryDays days.
func (s *AttendanceService) History(ctx context.Context, accountID, from, to string) (*AttendanceHistory, error) {
	now := s.clock.Now().In(s.location)
	if to == "" {
		to = now.Format(models.DateLayout)
	}
	toDate, err := time.Parse(models.DateLayout, to)
	if err != nil {
		return nil, ErrValidation.Withf("Invalid 'to' date, expected YYYY-MM-DD")
	}
	if from == "" {
		from = toDate.AddDate(0, 0, -(DefaultHistoryDays - 1)).Format(models.DateLayout)
	}
	fromDate, err := time.Parse(models.DateLayout, from)
	if err != nil {
		return nil, ErrValidation.Withf("Invalid 'from' date, expected YYYY-MM-DD")
	}
	if fromDate.After(toDate) {
		return nil, ErrValidation.Withf("'from' must not be after 'to'")
	}
	if toDate.Sub(fromDate) >= MaxHistoryDays*24*time.Hour {
		return nil, ErrValidation.Withf("Date range must not exceed %d days", MaxHistoryDays)
	}

	records, err := s.attendance.ListAttendance(ctx, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	if records == nil {
		records = []*models.AttendanceRecord{}
	}

	return &AttendanceHistory{
		From:    from,
		To:      to,
		Records: records,
		Summary: Summarize(records),
	}, nil
}

// Summarize reduces records to counts, total and average hours. The
// average is over completed days.
func Summarize(records []*models.AttendanceRecord) models.AttendanceSummary {
	var summary models.AttendanceSummary
	total := decimal.Zero
	for _, rec := range records {
		summary.Days++
		switch rec.WorkMode {
		case models.WorkModeOffice:
			summary.OfficeDays++
		case models.WorkModeWFH:
			summary.WFHDays++
		}
		if rec.CheckedOut() {
			summary.Completed++
			total = total.Add(decimal.NewFromFloat(rec.WorkingHours))
		}
	}

	summary.TotalHours = total.Round(2).InexactFloat64()
	if summary.Completed > 0 {
		summary.AverageHours = total.Div(decimal.NewFromInt(int64(summary.Completed))).Round(2).InexactFloat64()
	}
	return summary
}

// WorkingHours is (out - in) in hours rounded to two decimals; never negative.
func WorkingHours(in, out time.Time) float64 {
	elapsed := out.Sub(in)
	if elapsed < 0 {
		return 0
	}
	hours := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(time.Hour)))
	return hours.Round(2).InexactFloat64()
}

// matchOffice returns the first active office whose geofence contains
// coords. When none does, the error describes the nearest one.
func (s *AttendanceService) matchOffice(ctx context.Context, coords geo.Point) (*models.OfficeLocation, float64, error) {
	offices, err := s.offices.ActiveOfficeLocations(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load office locations: %w", err)
	}
	if len(offices) == 0 {
		return nil, 0, ErrOfficeNotConfigured
	}

	var nearest *models.OfficeLocation
	nearestDistance := math.Inf(1)
	for _, office := range offices {
		distance, ok := geo.Within(office.Center, coords, office.RadiusMeters)
		if ok {
			return office, distance, nil
		}
		if distance < nearestDistance {
			nearest, nearestDistance = office, distance
		}
	}

	return nil, 0, ErrOutOfOfficeRadius.With(map[string]interface{}{
		"distance":         math.Round(nearestDistance),
		"allowedRadius":    nearest.RadiusMeters,
		"officeLocationId": nearest.ID,
		"officeName":       nearest.Name,
	})
}

func (s *AttendanceService) publish(ctx context.Context, event AttendanceEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish attendance event",
			zap.String("type", event.Type),
			zap.String("account_id", event.AccountID),
			zap.Error(err))
	}
}

func alreadyCheckedIn(existing *models.AttendanceRecord) *Error {
	if existing == nil {
		return ErrAlreadyCheckedIn
	}
	details := map[string]interface{}{
		"date":      existing.Date,
		"status":    existing.Status,
		"checkInAt": existing.CheckInAt,
	}
	if existing.CheckedOut() {
		return ErrAlreadyCheckedIn.Withf("Attendance for today is already completed").With(details)
	}
	return ErrAlreadyCheckedIn.With(details)
}

func alreadyCheckedOut(rec *models.AttendanceRecord) *Error {
	return ErrAlreadyCheckedOut.With(map[string]interface{}{
		"record": rec,
	})
}
