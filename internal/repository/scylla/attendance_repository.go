package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"attendance-service/internal/geo"
	"attendance-service/internal/models"
	"attendance-service/internal/repository"
	"attendance-service/internal/util"
)

const attendanceColumns = `account_id, work_date, work_mode, status, check_in_at, check_in_lat, check_in_lng,
	check_out_at, check_out_lat, check_out_lng, working_hours, wfh_radius_meters, office_location_id`

// AttendanceRepository keeps the authoritative per-account table plus a
// per-date copy for the admin day view.
type AttendanceRepository struct {
	client *Client
}

func NewAttendanceRepository(client *Client) *AttendanceRepository {
	return &AttendanceRepository{client: client}
}

func attendanceValues(rec *models.AttendanceRecord) []interface{} {
	var outLat, outLng *float64
	if rec.CheckOutLocation != nil {
		outLat, outLng = &rec.CheckOutLocation.Latitude, &rec.CheckOutLocation.Longitude
	}
	return []interface{}{
		rec.AccountID, rec.Date, string(rec.WorkMode), string(rec.Status), rec.CheckInAt,
		rec.CheckInLocation.Latitude, rec.CheckInLocation.Longitude,
		rec.CheckOutAt, outLat, outLng, rec.WorkingHours, rec.WFHRadiusMeters, rec.OfficeLocationID,
	}
}

func (r *AttendanceRepository) CreateAttendance(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	values := attendanceValues(rec)

	applied, err := r.client.Applied(ctx, `INSERT INTO attendance (`+attendanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`, values...)
	if err != nil {
		util.Error("Failed to create attendance",
			zap.String("account_id", rec.AccountID), zap.String("date", rec.Date), zap.Error(err))
		return nil, fmt.Errorf("failed to create attendance: %w", err)
	}
	if !applied {
		existing, err := r.GetAttendance(ctx, rec.AccountID, rec.Date)
		if err != nil {
			return nil, err
		}
		return existing, fmt.Errorf("attendance %s/%s: %w", rec.AccountID, rec.Date, repository.ErrAlreadyExists)
	}

	r.writeDayView(ctx, rec)
	return nil, nil
}

func (r *AttendanceRepository) writeDayView(ctx context.Context, rec *models.AttendanceRecord) {
	values := attendanceValues(rec)
	// same columns, date-partitioned
	values[0], values[1] = rec.Date, rec.AccountID
	err := r.client.Query(ctx, `INSERT INTO attendance_by_date (work_date, account_id, work_mode, status, check_in_at,
		check_in_lat, check_in_lng, check_out_at, check_out_lat, check_out_lng, working_hours, wfh_radius_meters, office_location_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, values...).Exec()
	if err != nil {
		util.Warn("Failed to update attendance day view",
			zap.String("account_id", rec.AccountID), zap.String("date", rec.Date), zap.Error(err))
	}
}

func (r *AttendanceRepository) GetAttendance(ctx context.Context, accountID, date string) (*models.AttendanceRecord, error) {
	q := r.client.Query(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE account_id = ? AND work_date = ?`, accountID, date)
	rec, err := scanAttendance(func(dest ...interface{}) error { return r.client.ScanWithRetry(q, dest...) })
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("attendance %s/%s: %w", accountID, date, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attendance: %w", err)
	}
	return rec, nil
}

func (r *AttendanceRepository) CompleteCheckOut(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if rec.CheckOutAt == nil || rec.CheckOutLocation == nil {
		return nil, errors.New("checkout time and location are required")
	}

	applied, err := r.client.Applied(ctx, `UPDATE attendance SET status = ?, check_out_at = ?, check_out_lat = ?, check_out_lng = ?, working_hours = ?
		WHERE account_id = ? AND work_date = ? IF status = ?`,
		string(models.StatusCheckedOut), *rec.CheckOutAt, rec.CheckOutLocation.Latitude, rec.CheckOutLocation.Longitude, rec.WorkingHours,
		rec.AccountID, rec.Date, string(models.StatusCheckedIn))
	if err != nil {
		util.Error("Failed to complete checkout",
			zap.String("account_id", rec.AccountID), zap.String("date", rec.Date), zap.Error(err))
		return nil, fmt.Errorf("failed to complete checkout: %w", err)
	}

	current, getErr := r.GetAttendance(ctx, rec.AccountID, rec.Date)
	if getErr != nil {
		return nil, getErr
	}
	if !applied {
		return current, fmt.Errorf("attendance %s/%s: %w", rec.AccountID, rec.Date, repository.ErrConflict)
	}

	r.writeDayView(ctx, current)
	return current, nil
}

func (r *AttendanceRepository) ListAttendance(ctx context.Context, accountID, from, to string) ([]*models.AttendanceRecord, error) {
	scanner := r.client.Query(ctx, `SELECT `+attendanceColumns+` FROM attendance
		WHERE account_id = ? AND work_date >= ? AND work_date <= ?`, accountID, from, to).Iter().Scanner()
	return collectAttendance(scanner)
}

func (r *AttendanceRepository) ListAttendanceByDate(ctx context.Context, date string) ([]*models.AttendanceRecord, error) {
	scanner := r.client.Query(ctx, `SELECT account_id, work_date, work_mode, status, check_in_at, check_in_lat, check_in_lng,
		check_out_at, check_out_lat, check_out_lng, working_hours, wfh_radius_meters, office_location_id
		FROM attendance_by_date WHERE work_date = ?`, date).Iter().Scanner()
	return collectAttendance(scanner)
}

func collectAttendance(scanner gocql.Scanner) ([]*models.AttendanceRecord, error) {
	var out []*models.AttendanceRecord
	for scanner.Next() {
		rec, err := scanAttendance(scanner.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	return out, nil
}

func scanAttendance(scan func(dest ...interface{}) error) (*models.AttendanceRecord, error) {
	var (
		rec            models.AttendanceRecord
		mode, status   string
		checkOutAt     *time.Time
		outLat, outLng *float64
	)
	err := scan(
		&rec.AccountID, &rec.Date, &mode, &status, &rec.CheckInAt,
		&rec.CheckInLocation.Latitude, &rec.CheckInLocation.Longitude,
		&checkOutAt, &outLat, &outLng, &rec.WorkingHours, &rec.WFHRadiusMeters, &rec.OfficeLocationID,
	)
	if err != nil {
		return nil, err
	}
	rec.WorkMode = models.WorkMode(mode)
	rec.Status = models.AttendanceStatus(status)
	rec.CheckOutAt = checkOutAt
	if outLat != nil && outLng != nil {
		rec.CheckOutLocation = &geo.Point{Latitude: *outLat, Longitude: *outLng}
	}
	return &rec, nil
}
