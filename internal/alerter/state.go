package alerter

import (
	"errors"

	"github.com/alertr/alertrd/internal/instrumentation"
	"github.com/alertr/alertrd/internal/types"
)

var (
	ErrInstrumentationNotRun      = errors.New("instrumentation not started")
	ErrInstrumentationNotFinished = errors.New("instrumentation not finished")
	ErrInstrumentationFailed      = errors.New("instrumentation failed")
)

// sensorAlertState tracks one sensor alert record while the engine decides
// whether, when and in which form it triggers. It is owned by the engine
// loop and never shared.
type sensorAlertState struct {
	// record is shared read-only between states split from the same record.
	record    *types.SensorAlert
	suitable  []types.AlertLevel
	timeValid int64

	usesInstrumentation bool
	promise             *instrumentation.Promise
	// processed is set once the polarity check ran against the final alert.
	processed bool

	triggered []int
}

func newSensorAlertState(record *types.SensorAlert, levels []types.AlertLevel) *sensorAlertState {
	return &sensorAlertState{
		record:    record,
		suitable:  levels,
		timeValid: record.TimeValid(),
	}
}

// resolvedAlert returns the alert that triggers for this state. For
// instrumented states it is the instrumentation's replacement; a nil alert
// with nil error means the instrumentation suppressed the sensor alert.
func (s *sensorAlertState) resolvedAlert() (*types.SensorAlert, error) {
	if !s.usesInstrumentation {
		return s.record, nil
	}
	if s.promise == nil {
		return nil, ErrInstrumentationNotRun
	}
	ok, err := s.promise.WasSuccess()
	if err != nil {
		return nil, ErrInstrumentationNotFinished
	}
	if !ok {
		return nil, ErrInstrumentationFailed
	}
	return s.promise.Replacement(), nil
}

func (s *sensorAlertState) instrumentationFinished() bool {
	return s.promise != nil && s.promise.IsFinished()
}

func (s *sensorAlertState) levelIDs() []int {
	return types.LevelIDs(s.suitable)
}
