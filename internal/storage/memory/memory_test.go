package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/alertr/alertrd/internal/storage"
	"github.com/alertr/alertrd/internal/types"
)

func TestQueue_AddPendingDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	id1, _ := s.AddSensorAlert(ctx, &types.SensorAlert{SensorID: 1, AlertLevels: []int{1}})
	id2, _ := s.AddSensorAlert(ctx, &types.SensorAlert{SensorID: 2})
	if id1 == id2 {
		t.Fatal("ids must be unique")
	}

	pending, err := s.PendingSensorAlerts(ctx)
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending = %d, err = %v", len(pending), err)
	}
	if pending[0].SensorID != 1 || pending[1].SensorID != 2 {
		t.Fatalf("pending not in insertion order")
	}

	// returned records are copies
	pending[0].AlertLevels[0] = 99
	again, _ := s.PendingSensorAlerts(ctx)
	if again[0].AlertLevels[0] != 1 {
		t.Fatal("pending records share memory with the queue")
	}

	if err := s.DeleteSensorAlert(ctx, id1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteSensorAlert(ctx, id1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestSensorsAndArmedFlag(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.SensorState(ctx, 5); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	s.SetSensor(5, 1, types.SensorData{Type: types.SensorDataFloat, Float: 2.5})
	st, _ := s.SensorState(ctx, 5)
	d, _ := s.SensorData(ctx, 5)
	if st != 1 || d.Float != 2.5 {
		t.Fatalf("state=%d data=%+v", st, d)
	}

	if on, _ := s.IsAlertSystemActive(ctx); on {
		t.Fatal("system must start disarmed")
	}
	s.SetAlertSystemActive(true)
	if on, _ := s.IsAlertSystemActive(ctx); !on {
		t.Fatal("system must be armed")
	}
}
