package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"attendance-service/internal/client"
	"attendance-service/internal/geo"
	"attendance-service/internal/models"
)

const (
	AttendanceEventCheckedIn  = "attendance.checked_in"
	AttendanceEventCheckedOut = "attendance.checked_out"
)

// AttendanceEvent is published after a check-in or check-out is stored.
type AttendanceEvent struct {
	Type         string          `json:"type"`
	AccountID    string          `json:"accountId"`
	Date         string          `json:"date"`
	WorkMode     models.WorkMode `json:"workMode"`
	At           time.Time       `json:"at"`
	Latitude     float64         `json:"latitude"`
	Longitude    float64         `json:"longitude"`
	WorkingHours float64         `json:"workingHours,omitempty"`
	OfficeID     string          `json:"officeLocationId,omitempty"`
}

// AttendancePublisher delivers attendance events downstream. Failures never
// roll back the stored record.
type AttendancePublisher interface {
	Publish(ctx context.Context, event AttendanceEvent) error
}

// KafkaAttendancePublisher keys messages by account so one employee's
// events stay ordered within a partition.
type KafkaAttendancePublisher struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaAttendancePublisher(producer *client.KafkaProducer, topic string) *KafkaAttendancePublisher {
	return &KafkaAttendancePublisher{producer: producer, topic: topic}
}

func (p *KafkaAttendancePublisher) Publish(ctx context.Context, event AttendanceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode attendance event: %w", err)
	}
	return p.producer.ProduceMessage(ctx, p.topic, []byte(event.AccountID), payload, map[string]string{
		"event_type": event.Type,
		"work_mode":  string(event.WorkMode),
	})
}

func newAttendanceEvent(eventType string, rec *models.AttendanceRecord, at time.Time, point geo.Point) AttendanceEvent {
	return AttendanceEvent{
		Type:         eventType,
		AccountID:    rec.AccountID,
		Date:         rec.Date,
		WorkMode:     rec.WorkMode,
		At:           at,
		Latitude:     point.Latitude,
		Longitude:    point.Longitude,
		WorkingHours: rec.WorkingHours,
		OfficeID:     rec.OfficeLocationID,
	}
}
