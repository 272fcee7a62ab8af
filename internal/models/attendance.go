package models

import (
	"strings"
	"time"

	"attendance-service/internal/geo"
)

type WorkMode string

const (
	WorkModeOffice WorkMode = "office"
	WorkModeWFH    WorkMode = "wfh"
)

// ParseWorkMode accepts "Office", "office", "WFH", "wfh".
func ParseWorkMode(s string) (WorkMode, bool) {
	switch WorkMode(strings.ToLower(strings.TrimSpace(s))) {
	case WorkModeOffice:
		return WorkModeOffice, true
	case WorkModeWFH:
		return WorkModeWFH, true
	}
	return "", false
}

type AttendanceStatus string

const (
	StatusCheckedIn  AttendanceStatus = "checked-in"
	StatusCheckedOut AttendanceStatus = "checked-out"
)

// DateLayout is the calendar key for attendance records.
const DateLayout = "2006-01-02"

// AttendanceRecord is the single per-account per-day record.
type AttendanceRecord struct {
	AccountID        string           `db:"account_id" json:"accountId"`
	Date             string           `db:"work_date" json:"date"`
	WorkMode         WorkMode         `db:"work_mode" json:"workMode"`
	Status           AttendanceStatus `db:"status" json:"status"`
	CheckInAt        time.Time        `db:"check_in_at" json:"checkInAt"`
	CheckInLocation  geo.Point        `db:"check_in_location" json:"checkInLocation"`
	CheckOutAt       *time.Time       `db:"check_out_at" json:"checkOutAt,omitempty"`
	CheckOutLocation *geo.Point       `db:"check_out_location" json:"checkOutLocation,omitempty"`
	WorkingHours     float64          `db:"working_hours" json:"workingHours"`
	WFHRadiusMeters  float64          `db:"wfh_radius_meters" json:"wfhRadiusMeters,omitempty"`
	OfficeLocationID string           `db:"office_location_id" json:"officeLocationId,omitempty"`
}

func (r *AttendanceRecord) CheckedOut() bool {
	return r.Status == StatusCheckedOut
}

func (r *AttendanceRecord) Clone() *AttendanceRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.CheckOutAt = cloneTime(r.CheckOutAt)
	if r.CheckOutLocation != nil {
		p := *r.CheckOutLocation
		c.CheckOutLocation = &p
	}
	return &c
}

// AttendanceSummary aggregates a range of records.
type AttendanceSummary struct {
	Days         int     `json:"days"`
	Completed    int     `json:"completed"`
	TotalHours   float64 `json:"totalHours"`
	AverageHours float64 `json:"averageHours"`
	OfficeDays   int     `json:"officeDays"`
	WFHDays      int     `json:"wfhDays"`
}
