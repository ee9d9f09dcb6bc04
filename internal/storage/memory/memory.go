package memory

import (
	"context"
	"sync"

	"github.com/alertr/alertrd/internal/storage"
	"github.com/alertr/alertrd/internal/types"
)

type sensor struct {
	state int
	data  types.SensorData
}

// Store is an in-memory storage backend.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	queue   []*types.SensorAlert
	active  bool
	sensors map[int]sensor

	// DeleteHook, when set, is consulted before a record is deleted and
	// may fail the deletion.
	DeleteHook func(id int64) error
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sensors: make(map[int]sensor),
	}
}

func (m *Store) AddSensorAlert(ctx context.Context, alert *types.SensorAlert) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec := alert.Clone()
	rec.ID = m.nextID
	m.queue = append(m.queue, rec)
	return rec.ID, nil
}

func (m *Store) PendingSensorAlerts(ctx context.Context) ([]*types.SensorAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.SensorAlert, 0, len(m.queue))
	for _, rec := range m.queue {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *Store) DeleteSensorAlert(ctx context.Context, id int64) error {
	if m.DeleteHook != nil {
		if err := m.DeleteHook(id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.queue {
		if rec.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

// Len returns the number of queued records.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue)
}

func (m *Store) IsAlertSystemActive(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, nil
}

// SetAlertSystemActive arms or disarms the system.
func (m *Store) SetAlertSystemActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

// SetSensor records the latest state and data of a sensor.
func (m *Store) SetSensor(sensorID, state int, data types.SensorData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensors[sensorID] = sensor{state: state, data: data}
}

func (m *Store) SensorState(ctx context.Context, sensorID int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sensors[sensorID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return s.state, nil
}

func (m *Store) SensorData(ctx context.Context, sensorID int) (types.SensorData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sensors[sensorID]
	if !ok {
		return types.SensorData{}, storage.ErrNotFound
	}
	return s.data, nil
}

func (m *Store) Close() error { return nil }
