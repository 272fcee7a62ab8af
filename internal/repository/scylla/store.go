package scylla

import (
	"context"

	"attendance-service/internal/bucketing"
	"attendance-service/internal/repository"
)

// Store serves every repository from one ScyllaDB session.
type Store struct {
	client     *Client
	accounts   *AccountRepository
	attendance *AttendanceRepository
	locations  *OfficeLocationRepository
	settings   *SettingsRepository
}

func NewStore(client *Client, buckets *bucketing.Manager) *Store {
	return &Store{
		client:     client,
		accounts:   NewAccountRepository(client, buckets),
		attendance: NewAttendanceRepository(client),
		locations:  NewOfficeLocationRepository(client),
		settings:   NewSettingsRepository(client),
	}
}

func (s *Store) Accounts() repository.AccountRepository { return s.accounts }
func (s *Store) Attendance() repository.AttendanceRepository { return s.attendance }
func (s *Store) OfficeLocations() repository.OfficeLocationRepository { return s.locations }
func (s *Store) Settings() repository.SettingsRepository { return s.settings }

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func (s *Store) Close() {
	s.client.Close()
}
