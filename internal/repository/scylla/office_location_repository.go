package scylla

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gocql/gocql"

	"attendance-service/internal/models"
	"attendance-service/internal/repository"
)

const locationColumns = `location_id, name, address, latitude, longitude, radius_meters, is_active, created_at, updated_at`

type OfficeLocationRepository struct {
	client *Client
}

func NewOfficeLocationRepository(client *Client) *OfficeLocationRepository {
	return &OfficeLocationRepository{client: client}
}

func (r *OfficeLocationRepository) CreateOfficeLocation(ctx context.Context, loc *models.OfficeLocation) error {
	applied, err := r.client.Applied(ctx, `INSERT INTO office_locations (`+locationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		loc.ID, loc.Name, loc.Address, loc.Center.Latitude, loc.Center.Longitude,
		loc.RadiusMeters, loc.IsActive, loc.CreatedAt, loc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create office location: %w", err)
	}
	if !applied {
		return fmt.Errorf("office location %s: %w", loc.ID, repository.ErrAlreadyExists)
	}
	return nil
}

func (r *OfficeLocationRepository) UpdateOfficeLocation(ctx context.Context, loc *models.OfficeLocation) error {
	applied, err := r.client.Applied(ctx, `UPDATE office_locations SET name = ?, address = ?, latitude = ?, longitude = ?,
		radius_meters = ?, is_active = ?, updated_at = ? WHERE location_id = ? IF EXISTS`,
		loc.Name, loc.Address, loc.Center.Latitude, loc.Center.Longitude,
		loc.RadiusMeters, loc.IsActive, loc.UpdatedAt, loc.ID)
	if err != nil {
		return fmt.Errorf("failed to update office location: %w", err)
	}
	if !applied {
		return fmt.Errorf("office location %s: %w", loc.ID, repository.ErrNotFound)
	}
	return nil
}

func (r *OfficeLocationRepository) GetOfficeLocation(ctx context.Context, id string) (*models.OfficeLocation, error) {
	q := r.client.Query(ctx, `SELECT `+locationColumns+` FROM office_locations WHERE location_id = ?`, id)
	loc, err := scanLocation(func(dest ...interface{}) error { return r.client.ScanWithRetry(q, dest...) })
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("office location %s: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get office location: %w", err)
	}
	return loc, nil
}

// ListOfficeLocations reads the whole table; a deployment has a handful of offices.
func (r *OfficeLocationRepository) ListOfficeLocations(ctx context.Context) ([]*models.OfficeLocation, error) {
	scanner := r.client.Query(ctx, `SELECT `+locationColumns+` FROM office_locations`).Iter().Scanner()

	var out []*models.OfficeLocation
	for scanner.Next() {
		loc, err := scanLocation(scanner.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan office location: %w", err)
		}
		out = append(out, loc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to list office locations: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *OfficeLocationRepository) ActiveOfficeLocations(ctx context.Context) ([]*models.OfficeLocation, error) {
	all, err := r.ListOfficeLocations(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, loc := range all {
		if loc.IsActive {
			active = append(active, loc)
		}
	}
	return active, nil
}

func scanLocation(scan func(dest ...interface{}) error) (*models.OfficeLocation, error) {
	var loc models.OfficeLocation
	err := scan(&loc.ID, &loc.Name, &loc.Address, &loc.Center.Latitude, &loc.Center.Longitude,
		&loc.RadiusMeters, &loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
