package models

import "time"

// Security event types.
const (
	EventLoginSuccess        = "login_success"
	EventLoginFailure        = "login_failure"
	EventLogout              = "logout"
	EventAuthFailure         = "auth_failure"
	EventAuthorizationDenied = "authorization_denied"
	EventPasswordChanged     = "password_changed"
	EventPasswordResetSent   = "password_reset_requested"
	EventAccountLocked       = "account_locked"
	EventAccountUnlocked     = "account_unlocked"
	EventDeviceRemoved       = "device_removed"
	EventRateLimited         = "rate_limited"
)

type SecurityEvent struct {
	EventID     string            `db:"event_id" json:"eventId"`
	EventBucket int               `db:"event_bucket" json:"eventBucket"`
	EventDate   string            `db:"event_date" json:"eventDate"`
	EventTime   time.Time         `db:"event_time" json:"eventTime"`
	EventType   string            `db:"event_type" json:"eventType"`
	Reason      string            `db:"reason" json:"reason,omitempty"`
	AccountID   string            `db:"account_id" json:"accountId,omitempty"`
	Email       string            `db:"email" json:"email,omitempty"`
	DeviceID    string            `db:"device_id" json:"deviceId,omitempty"`
	IPAddress   string            `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent   string            `db:"user_agent" json:"userAgent,omitempty"`
	Path        string            `db:"path" json:"path,omitempty"`
	Country     string            `db:"country" json:"country,omitempty"`
	City        string            `db:"city" json:"city,omitempty"`
	Details     map[string]string `db:"details" json:"details,omitempty"`
}
