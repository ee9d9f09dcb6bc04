// Package storage defines the durable storage ports used by the sensor alert
// engine: the sensor alert queue, the alert system (armed) flag and the
// current sensor state/data.
package storage

import (
	"context"
	"errors"

	"github.com/alertr/alertrd/internal/types"
)

// ErrNotFound is returned when a sensor or sensor alert does not exist.
var ErrNotFound = errors.New("storage: not found")

// Queue is the durable sensor alert queue. Records are consumed by deleting
// them; there is no replay once deleted.
type Queue interface {
	// AddSensorAlert stores a record and returns its id.
	AddSensorAlert(ctx context.Context, alert *types.SensorAlert) (int64, error)
	// PendingSensorAlerts returns all queued records in insertion order.
	PendingSensorAlerts(ctx context.Context) ([]*types.SensorAlert, error)
	DeleteSensorAlert(ctx context.Context, id int64) error
}

// AlertSystemState reports whether the alarm system is armed.
type AlertSystemState interface {
	IsAlertSystemActive(ctx context.Context) (bool, error)
}

// SensorStore gives the latest known state and data of a sensor.
type SensorStore interface {
	SensorState(ctx context.Context, sensorID int) (int, error)
	SensorData(ctx context.Context, sensorID int) (types.SensorData, error)
}

// Store is implemented by every storage backend.
type Store interface {
	Queue
	AlertSystemState
	SensorStore
	Close() error
}
