package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"attendance-service/internal/repository"
)

const settingWFHRadius = "wfh_radius_meters"

// SettingsRepository keeps one row per named setting so every replica reads
// the same value.
type SettingsRepository struct {
	client *Client
}

func NewSettingsRepository(client *Client) *SettingsRepository {
	return &SettingsRepository{client: client}
}

func (r *SettingsRepository) GetWFHRadius(ctx context.Context) (float64, error) {
	var radius float64
	q := r.client.Query(ctx, `SELECT float_value FROM settings WHERE name = ?`, settingWFHRadius)
	if err := r.client.ScanWithRetry(q, &radius); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return 0, fmt.Errorf("wfh radius: %w", repository.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to read wfh radius: %w", err)
	}
	return radius, nil
}

func (r *SettingsRepository) SaveWFHRadius(ctx context.Context, radius float64, now time.Time) error {
	if err := r.client.Query(ctx, `INSERT INTO settings (name, float_value, updated_at) VALUES (?, ?, ?)`,
		settingWFHRadius, radius, now).Exec(); err != nil {
		return fmt.Errorf("failed to save wfh radius: %w", err)
	}
	return nil
}
