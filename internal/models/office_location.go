package models

import (
	"time"

	"attendance-service/internal/geo"
)

const (
	MinOfficeRadiusMeters = 10
	MaxOfficeRadiusMeters = 5000
)

type OfficeLocation struct {
	ID           string    `db:"location_id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Address      string    `db:"address" json:"address,omitempty"`
	Center       geo.Point `db:"center" json:"center"`
	RadiusMeters float64   `db:"radius_meters" json:"radiusMeters"`
	IsActive     bool      `db:"is_active" json:"isActive"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}
