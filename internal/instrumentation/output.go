package instrumentation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alertr/alertrd/internal/types"
)

const levelKey = "instrumentationAlertLevel"

// ErrInvalidOutput is returned when the command output cannot be accepted
// as a sensor alert.
var ErrInvalidOutput = errors.New("invalid instrumentation output")

// BuildPayload returns the argument handed to the instrumentation command:
// the alert's wire form without triggeredAlertLevels and with the level
// being instrumented.
func BuildPayload(level int, alert *types.SensorAlert) ([]byte, error) {
	raw, err := json.Marshal(alert)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "triggeredAlertLevels")
	fields[levelKey] = json.RawMessage(fmt.Sprintf("%d", level))
	return json.Marshal(fields)
}

// ParseOutput validates the command output against the original alert.
// It returns (nil, nil) when the output suppresses the alert.
func ParseOutput(level int, original *types.SensorAlert, output []byte) (*types.SensorAlert, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(output))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: not a json object", ErrInvalidOutput)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	fields["triggeredAlertLevels"] = json.RawMessage("[]")
	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	var out types.SensorAlert
	if err := json.Unmarshal(normalized, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	switch {
	case out.NodeID != original.NodeID:
		return nil, fmt.Errorf("%w: nodeId not allowed to change", ErrInvalidOutput)
	case out.SensorID != original.SensorID:
		return nil, fmt.Errorf("%w: sensorId not allowed to change", ErrInvalidOutput)
	case out.Description != original.Description:
		return nil, fmt.Errorf("%w: description not allowed to change", ErrInvalidOutput)
	case out.TimeReceived != original.TimeReceived:
		return nil, fmt.Errorf("%w: timeReceived not allowed to change", ErrInvalidOutput)
	case out.AlertDelay != original.AlertDelay:
		return nil, fmt.Errorf("%w: alertDelay not allowed to change", ErrInvalidOutput)
	case !out.SameAlertLevels(original):
		return nil, fmt.Errorf("%w: alertLevels not allowed to change", ErrInvalidOutput)
	case out.DataType != original.DataType:
		return nil, fmt.Errorf("%w: dataType not allowed to change", ErrInvalidOutput)
	}

	rawLevel, ok := fields[levelKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s missing", ErrInvalidOutput, levelKey)
	}
	var got json.Number
	if err := json.Unmarshal(rawLevel, &got); err != nil {
		return nil, fmt.Errorf("%w: %s is not a number", ErrInvalidOutput, levelKey)
	}
	if n, err := got.Int64(); err != nil || n != int64(level) {
		return nil, fmt.Errorf("%w: %s not allowed to change", ErrInvalidOutput, levelKey)
	}

	out.ID = original.ID
	return &out, nil
}
