package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Sensor alert states.
const (
	StateNormal    = 0
	StateTriggered = 1
)

// ErrInvalidSensorAlert is returned when a sensor alert fails validation.
var ErrInvalidSensorAlert = errors.New("invalid sensor alert")

// SensorAlert is a raw sensor alert record as stored in the durable queue.
// Records are treated as immutable once created; use Clone before changing one.
type SensorAlert struct {
	ID           int64
	NodeID       int
	SensorID     int
	Description  string
	TimeReceived int64 // unix seconds
	AlertDelay   int64 // seconds
	State        int

	HasOptionalData bool
	OptionalData    map[string]any

	ChangeState   bool
	HasLatestData bool

	AlertLevels          []int
	TriggeredAlertLevels []int

	DataType SensorDataType
	Data     SensorData
}

// TimeValid returns the unix time after which the alert may trigger.
func (s *SensorAlert) TimeValid() int64 {
	return s.TimeReceived + s.AlertDelay
}

// HasAlertLevel reports whether level is one of the alert's levels.
func (s *SensorAlert) HasAlertLevel(level int) bool {
	for _, l := range s.AlertLevels {
		if l == level {
			return true
		}
	}
	return false
}

// SameAlertLevels reports whether both alerts carry the same set of levels.
func (s *SensorAlert) SameAlertLevels(other *SensorAlert) bool {
	a := append([]int(nil), s.AlertLevels...)
	b := append([]int(nil), other.AlertLevels...)
	sort.Ints(a)
	sort.Ints(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the alert.
func (s *SensorAlert) Clone() *SensorAlert {
	if s == nil {
		return nil
	}
	c := *s
	c.AlertLevels = append([]int(nil), s.AlertLevels...)
	c.TriggeredAlertLevels = append([]int(nil), s.TriggeredAlertLevels...)
	if s.OptionalData != nil {
		c.OptionalData = deepCopyMap(s.OptionalData)
	}
	return &c
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = deepCopyValue(t[i])
		}
		return cp
	}
	return v
}

// sensorAlertWire is the JSON form exchanged with clients and
// instrumentation scripts.
type sensorAlertWire struct {
	NodeID               int             `json:"nodeId"`
	SensorID             int             `json:"sensorId"`
	Description          string          `json:"description"`
	TimeReceived         int64           `json:"timeReceived"`
	AlertDelay           int64           `json:"alertDelay"`
	State                int             `json:"state"`
	HasOptionalData      bool            `json:"hasOptionalData"`
	OptionalData         map[string]any  `json:"optionalData"`
	ChangeState          bool            `json:"changeState"`
	AlertLevels          []int           `json:"alertLevels"`
	TriggeredAlertLevels []int           `json:"triggeredAlertLevels"`
	HasLatestData        bool            `json:"hasLatestData"`
	DataType             SensorDataType  `json:"dataType"`
	Data                 json.RawMessage `json:"data"`
}

// MarshalJSON encodes the alert in its wire form. The storage id is not
// part of the wire form.
func (s SensorAlert) MarshalJSON() ([]byte, error) {
	data, err := s.Data.MarshalJSON()
	if err != nil {
		return nil, err
	}
	w := sensorAlertWire{
		NodeID:               s.NodeID,
		SensorID:             s.SensorID,
		Description:          s.Description,
		TimeReceived:         s.TimeReceived,
		AlertDelay:           s.AlertDelay,
		State:                s.State,
		HasOptionalData:      s.HasOptionalData,
		OptionalData:         s.OptionalData,
		ChangeState:          s.ChangeState,
		AlertLevels:          nonNil(s.AlertLevels),
		TriggeredAlertLevels: nonNil(s.TriggeredAlertLevels),
		HasLatestData:        s.HasLatestData,
		DataType:             s.DataType,
		Data:                 data,
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes and validates the wire form.
func (s *SensorAlert) UnmarshalJSON(b []byte) error {
	var w sensorAlertWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSensorAlert, err)
	}
	if w.State != StateNormal && w.State != StateTriggered {
		return fmt.Errorf("%w: state %d", ErrInvalidSensorAlert, w.State)
	}
	if w.HasOptionalData && w.OptionalData == nil {
		return fmt.Errorf("%w: optional data missing", ErrInvalidSensorAlert)
	}
	if !w.DataType.Valid() {
		return fmt.Errorf("%w: data type %d", ErrInvalidSensorAlert, int(w.DataType))
	}
	data, err := ParseSensorData(w.DataType, w.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSensorAlert, err)
	}

	*s = SensorAlert{
		ID:                   s.ID,
		NodeID:               w.NodeID,
		SensorID:             w.SensorID,
		Description:          w.Description,
		TimeReceived:         w.TimeReceived,
		AlertDelay:           w.AlertDelay,
		State:                w.State,
		HasOptionalData:      w.HasOptionalData,
		OptionalData:         w.OptionalData,
		ChangeState:          w.ChangeState,
		AlertLevels:          w.AlertLevels,
		TriggeredAlertLevels: w.TriggeredAlertLevels,
		HasLatestData:        w.HasLatestData,
		DataType:             w.DataType,
		Data:                 data,
	}
	return nil
}

func nonNil(in []int) []int {
	if in == nil {
		return []int{}
	}
	return in
}

// StateChange is a sensor state/data update for manager clients.
type StateChange struct {
	SensorID int        `json:"sensorId"`
	State    int        `json:"state"`
	Data     SensorData `json:"data"`
}

// MarshalJSON adds the data type next to the data.
func (c StateChange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SensorID int            `json:"sensorId"`
		State    int            `json:"state"`
		DataType SensorDataType `json:"dataType"`
		Data     SensorData     `json:"data"`
	}{c.SensorID, c.State, c.Data.Type, c.Data})
}
