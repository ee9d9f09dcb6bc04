package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SensorDataType constrains which value a SensorData carries.
type SensorDataType int

const (
	SensorDataNone  SensorDataType = 0
	SensorDataInt   SensorDataType = 1
	SensorDataFloat SensorDataType = 2
)

// ErrInvalidSensorData is returned when sensor data does not match its type.
var ErrInvalidSensorData = errors.New("invalid sensor data")

// Valid reports whether t is a known data type.
func (t SensorDataType) Valid() bool {
	return t == SensorDataNone || t == SensorDataInt || t == SensorDataFloat
}

func (t SensorDataType) String() string {
	switch t {
	case SensorDataNone:
		return "none"
	case SensorDataInt:
		return "int"
	case SensorDataFloat:
		return "float"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// SensorData is the data attached to a sensor. Only the field matching
// Type is meaningful.
type SensorData struct {
	Type  SensorDataType
	Int   int64
	Float float64
	Unit  string
}

// NoSensorData returns the data of a sensor without data.
func NoSensorData() SensorData {
	return SensorData{Type: SensorDataNone}
}

type sensorDataWire struct {
	Value json.Number `json:"value"`
	Unit  string      `json:"unit"`
}

// MarshalJSON encodes {} for none and {"value":..,"unit":..} otherwise.
func (d SensorData) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case SensorDataNone:
		return []byte("{}"), nil
	case SensorDataInt:
		return json.Marshal(struct {
			Value int64  `json:"value"`
			Unit  string `json:"unit"`
		}{d.Int, d.Unit})
	case SensorDataFloat:
		return json.Marshal(struct {
			Value float64 `json:"value"`
			Unit  string  `json:"unit"`
		}{d.Float, d.Unit})
	}
	return nil, fmt.Errorf("%w: unknown data type %d", ErrInvalidSensorData, int(d.Type))
}

// ParseSensorData decodes raw according to the given data type.
func ParseSensorData(t SensorDataType, raw json.RawMessage) (SensorData, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return SensorData{}, fmt.Errorf("%w: data is not an object", ErrInvalidSensorData)
	}

	switch t {
	case SensorDataNone:
		if len(fields) != 0 {
			return SensorData{}, fmt.Errorf("%w: none data must be empty", ErrInvalidSensorData)
		}
		return NoSensorData(), nil

	case SensorDataInt, SensorDataFloat:
		if len(fields) != 2 || fields["value"] == nil || fields["unit"] == nil {
			return SensorData{}, fmt.Errorf("%w: expected value and unit", ErrInvalidSensorData)
		}
		var wire sensorDataWire
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&wire); err != nil {
			return SensorData{}, fmt.Errorf("%w: %v", ErrInvalidSensorData, err)
		}
		out := SensorData{Type: t, Unit: wire.Unit}
		if t == SensorDataInt {
			v, err := wire.Value.Int64()
			if err != nil {
				return SensorData{}, fmt.Errorf("%w: value is not an integer", ErrInvalidSensorData)
			}
			out.Int = v
			return out, nil
		}
		v, err := wire.Value.Float64()
		if err != nil {
			return SensorData{}, fmt.Errorf("%w: value is not a number", ErrInvalidSensorData)
		}
		out.Float = v
		return out, nil
	}

	return SensorData{}, fmt.Errorf("%w: unknown data type %d", ErrInvalidSensorData, int(t))
}
