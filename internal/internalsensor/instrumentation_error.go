// Package internalsensor contains sensors that live inside the server and
// raise sensor alerts about the server itself.
package internalsensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alertr/alertrd/internal/instrumentation"
	"github.com/alertr/alertrd/internal/storage"
	"github.com/alertr/alertrd/internal/types"
)

// Waker is woken after a sensor alert was queued.
type Waker interface {
	Wake()
}

// InstrumentationErrorSensor raises a sensor alert whenever an alert
// level instrumentation fails.
type InstrumentationErrorSensor struct {
	logger      zerolog.Logger
	queue       storage.Queue
	nodeID      int
	sensorID    int
	description string
	alertLevels []int
	now         func() time.Time

	mu    sync.RWMutex
	waker Waker
}

var _ instrumentation.ErrorReporter = (*InstrumentationErrorSensor)(nil)

func NewInstrumentationErrorSensor(logger zerolog.Logger, queue storage.Queue, nodeID, sensorID int, description string, alertLevels []int) *InstrumentationErrorSensor {
	return &InstrumentationErrorSensor{
		logger:      logger.With().Str("component", "internal_sensor").Int("sensor_id", sensorID).Logger(),
		queue:       queue,
		nodeID:      nodeID,
		sensorID:    sensorID,
		description: description,
		alertLevels: append([]int(nil), alertLevels...),
		now:         time.Now,
	}
}

// Attach sets the waker notified after a sensor alert was queued. The
// engine is built after the instrumentation runner, so it is attached late.
func (s *InstrumentationErrorSensor) Attach(w Waker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waker = w
}

func message(f instrumentation.Failure) string {
	switch f.Kind {
	case instrumentation.FailureExecution:
		return fmt.Sprintf("Executing instrumentation for Alert Level '%d' failed.", f.Level.Level)
	case instrumentation.FailureTimeout:
		return fmt.Sprintf("Instrumentation for Alert Level '%d' timed out.", f.Level.Level)
	case instrumentation.FailureExitCode:
		return fmt.Sprintf("Instrumentation for Alert Level '%d' exited with exit code '%d'.", f.Level.Level, f.ExitCode)
	case instrumentation.FailureOutputEmpty:
		return fmt.Sprintf("No output for instrumentation for Alert Level '%d'.", f.Level.Level)
	case instrumentation.FailureOutputInvalid:
		return fmt.Sprintf("Unable to process output from instrumentation for Alert Level '%d'.", f.Level.Level)
	}
	return fmt.Sprintf("Instrumentation for Alert Level '%d' failed.", f.Level.Level)
}

// ReportInstrumentationFailure queues a triggered sensor alert describing f.
func (s *InstrumentationErrorSensor) ReportInstrumentationFailure(f instrumentation.Failure) {
	optional := map[string]any{
		"message":                 message(f),
		"alert_level":             f.Level.Level,
		"instrumentation_cmd":     f.Level.InstrumentationCmd,
		"instrumentation_timeout": f.Level.InstrumentationTimeout,
	}
	if f.Kind == instrumentation.FailureExitCode {
		optional["exit_code"] = f.ExitCode
	}

	alert := &types.SensorAlert{
		NodeID:          s.nodeID,
		SensorID:        s.sensorID,
		Description:     s.description,
		TimeReceived:    s.now().Unix(),
		State:           types.StateTriggered,
		HasOptionalData: true,
		OptionalData:    optional,
		AlertLevels:     s.alertLevels,
		DataType:        types.SensorDataNone,
		Data:            types.NoSensorData(),
	}

	s.logger.Debug().
		Int("alert_level", f.Level.Level).
		Str("kind", string(f.Kind)).
		Msg("Triggering sensor alert for instrumentation error")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.queue.AddSensorAlert(ctx, alert); err != nil {
		s.logger.Error().Err(err).Msg("Not able to add sensor alert for instrumentation error sensor")
		return
	}

	s.mu.RLock()
	w := s.waker
	s.mu.RUnlock()
	if w != nil {
		w.Wake()
	}
}
