package postgres

// ALERTR_TEST_DATABASE_URL=postgres://... go test ./internal/storage/postgres -count=1

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/alertr/alertrd/internal/storage"
	"github.com/alertr/alertrd/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ALERTR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ALERTR_TEST_DATABASE_URL empty")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE sensor_alerts, options, sensors`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestSensorAlertQueue(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	in := &types.SensorAlert{
		NodeID:          1,
		SensorID:        7,
		Description:     "front door",
		TimeReceived:    1700000000,
		AlertDelay:      5,
		State:           types.StateTriggered,
		HasOptionalData: true,
		OptionalData:    map[string]any{"zone": "hall"},
		HasLatestData:   true,
		AlertLevels:     []int{1, 3},
		DataType:        types.SensorDataFloat,
		Data:            types.SensorData{Type: types.SensorDataFloat, Float: 21.5, Unit: "C"},
	}
	id, err := s.AddSensorAlert(ctx, in)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	pending, err := s.PendingSensorAlerts(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %d, err = %v", len(pending), err)
	}
	got := pending[0]
	if got.ID != id || got.SensorID != 7 || got.AlertDelay != 5 || !got.SameAlertLevels(in) {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Data.Float != 21.5 || got.Data.Unit != "C" || got.OptionalData["zone"] != "hall" {
		t.Fatalf("payload not preserved: %+v", got)
	}

	if err := s.DeleteSensorAlert(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteSensorAlert(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestOptionsAndSensors(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if on, err := s.IsAlertSystemActive(ctx); err != nil || on {
		t.Fatalf("want disarmed, got %v err=%v", on, err)
	}
	if err := s.SetAlertSystemActive(ctx, true); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if on, _ := s.IsAlertSystemActive(ctx); !on {
		t.Fatal("want armed")
	}

	if _, err := s.SensorState(ctx, 9); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	data := types.SensorData{Type: types.SensorDataInt, Int: 4, Unit: "ppm"}
	if err := s.UpsertSensor(ctx, 9, 1, data); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	st, _ := s.SensorState(ctx, 9)
	d, err := s.SensorData(ctx, 9)
	if st != 1 || err != nil || d != data {
		t.Fatalf("state=%d data=%+v err=%v", st, d, err)
	}
}
