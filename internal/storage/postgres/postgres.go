package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/alertr/alertrd/internal/storage"
	"github.com/alertr/alertrd/internal/types"
)

var _ storage.Store = (*Store)(nil)

const alertSystemActiveOption = "alert_system_active"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sensor_alerts (
		id                BIGSERIAL PRIMARY KEY,
		node_id           INTEGER NOT NULL,
		sensor_id         INTEGER NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		time_received     BIGINT NOT NULL,
		alert_delay       BIGINT NOT NULL DEFAULT 0,
		state             SMALLINT NOT NULL,
		has_optional_data BOOLEAN NOT NULL DEFAULT FALSE,
		optional_data     JSONB,
		change_state      BOOLEAN NOT NULL DEFAULT FALSE,
		has_latest_data   BOOLEAN NOT NULL DEFAULT FALSE,
		alert_levels      JSONB NOT NULL DEFAULT '[]',
		data_type         SMALLINT NOT NULL DEFAULT 0,
		data              JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS options (
		type  TEXT PRIMARY KEY,
		value DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sensors (
		id        INTEGER PRIMARY KEY,
		state     SMALLINT NOT NULL DEFAULT 0,
		data_type SMALLINT NOT NULL DEFAULT 0,
		data      JSONB NOT NULL DEFAULT '{}'
	)`,
}

type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func New(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log.With().Str("component", "storage").Logger()}, nil
}

// Migrate creates the tables used by the engine if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.log.Debug().Int("statements", len(schema)).Msg("Schema migrated")
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ---- Queue ----

func (s *Store) AddSensorAlert(ctx context.Context, a *types.SensorAlert) (int64, error) {
	optional, err := json.Marshal(a.OptionalData)
	if err != nil {
		return 0, fmt.Errorf("encode optional data: %w", err)
	}
	levels := a.AlertLevels
	if levels == nil {
		levels = []int{}
	}
	levelsJSON, err := json.Marshal(levels)
	if err != nil {
		return 0, fmt.Errorf("encode alert levels: %w", err)
	}
	data, err := json.Marshal(a.Data)
	if err != nil {
		return 0, fmt.Errorf("encode sensor data: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO sensor_alerts
		   (node_id, sensor_id, description, time_received, alert_delay, state,
		    has_optional_data, optional_data, change_state, has_latest_data,
		    alert_levels, data_type, data)
		 VALUES
		   ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11::jsonb, $12, $13::jsonb)
		 RETURNING id`,
		a.NodeID, a.SensorID, a.Description, a.TimeReceived, a.AlertDelay, a.State,
		a.HasOptionalData, string(optional), a.ChangeState, a.HasLatestData,
		string(levelsJSON), int(a.DataType), string(data),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sensor alert: %w", err)
	}
	return id, nil
}

func (s *Store) PendingSensorAlerts(ctx context.Context) ([]*types.SensorAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, node_id, sensor_id, description, time_received, alert_delay, state,
		        has_optional_data, optional_data, change_state, has_latest_data,
		        alert_levels, data_type, data
		   FROM sensor_alerts
		  ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sensor alerts: %w", err)
	}
	defer rows.Close()

	var out []*types.SensorAlert
	for rows.Next() {
		var (
			a          types.SensorAlert
			optional   []byte
			levelsJSON []byte
			dataType   int
			data       []byte
		)
		if err := rows.Scan(&a.ID, &a.NodeID, &a.SensorID, &a.Description, &a.TimeReceived,
			&a.AlertDelay, &a.State, &a.HasOptionalData, &optional, &a.ChangeState,
			&a.HasLatestData, &levelsJSON, &dataType, &data); err != nil {
			return nil, fmt.Errorf("scan sensor alert: %w", err)
		}
		if len(optional) > 0 {
			if err := json.Unmarshal(optional, &a.OptionalData); err != nil {
				return nil, fmt.Errorf("decode optional data of sensor alert %d: %w", a.ID, err)
			}
		}
		if err := json.Unmarshal(levelsJSON, &a.AlertLevels); err != nil {
			return nil, fmt.Errorf("decode alert levels of sensor alert %d: %w", a.ID, err)
		}
		a.DataType = types.SensorDataType(dataType)
		if a.Data, err = types.ParseSensorData(a.DataType, data); err != nil {
			return nil, fmt.Errorf("sensor alert %d: %w", a.ID, err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSensorAlert(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sensor_alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sensor alert %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ---- AlertSystemState ----

func (s *Store) IsAlertSystemActive(ctx context.Context) (bool, error) {
	var v float64
	err := s.pool.QueryRow(ctx, `SELECT value FROM options WHERE type = $1`, alertSystemActiveOption).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", alertSystemActiveOption, err)
	}
	return v == 1, nil
}

func (s *Store) SetAlertSystemActive(ctx context.Context, active bool) error {
	v := 0.0
	if active {
		v = 1
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO options (type, value) VALUES ($1, $2)
		 ON CONFLICT (type) DO UPDATE SET value = EXCLUDED.value`,
		alertSystemActiveOption, v)
	if err != nil {
		return fmt.Errorf("write %s: %w", alertSystemActiveOption, err)
	}
	return nil
}

// ---- SensorStore ----

func (s *Store) SensorState(ctx context.Context, sensorID int) (int, error) {
	var state int
	err := s.pool.QueryRow(ctx, `SELECT state FROM sensors WHERE id = $1`, sensorID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sensor %d state: %w", sensorID, err)
	}
	return state, nil
}

func (s *Store) SensorData(ctx context.Context, sensorID int) (types.SensorData, error) {
	var (
		dataType int
		raw      []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT data_type, data FROM sensors WHERE id = $1`, sensorID).Scan(&dataType, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.SensorData{}, storage.ErrNotFound
	}
	if err != nil {
		return types.SensorData{}, fmt.Errorf("sensor %d data: %w", sensorID, err)
	}
	return types.ParseSensorData(types.SensorDataType(dataType), raw)
}

func (s *Store) UpsertSensor(ctx context.Context, sensorID, state int, data types.SensorData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode sensor data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sensors (id, state, data_type, data) VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (id) DO UPDATE
		   SET state = EXCLUDED.state, data_type = EXCLUDED.data_type, data = EXCLUDED.data`,
		sensorID, state, int(data.Type), string(raw))
	if err != nil {
		return fmt.Errorf("upsert sensor %d: %w", sensorID, err)
	}
	return nil
}
