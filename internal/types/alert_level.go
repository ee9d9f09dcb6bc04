package types

import "time"

// AlertLevel is one entry of the alert level policy table. It is read-only
// once the configuration has been loaded.
type AlertLevel struct {
	Level int    `json:"level"`
	Name  string `json:"name"`

	// TriggerAlways fires the level even if the alert system is disarmed.
	TriggerAlways         bool `json:"triggerAlways"`
	TriggerAlertTriggered bool `json:"triggerAlertTriggered"`
	TriggerAlertNormal    bool `json:"triggerAlertNormal"`

	// RulesActivated hands sensor alerts of this level to the rule engine
	// instead of the delay/instrumentation path.
	RulesActivated bool `json:"rulesActivated"`

	InstrumentationActive  bool   `json:"instrumentationActive"`
	InstrumentationCmd     string `json:"instrumentationCmd,omitempty"`
	InstrumentationTimeout int    `json:"instrumentationTimeout,omitempty"` // seconds
}

// Timeout returns the instrumentation timeout as a duration.
func (a AlertLevel) Timeout() time.Duration {
	return time.Duration(a.InstrumentationTimeout) * time.Second
}

// TriggersOnState reports whether the level fires for a sensor alert
// with the given state.
func (a AlertLevel) TriggersOnState(state int) bool {
	switch state {
	case StateTriggered:
		return a.TriggerAlertTriggered
	case StateNormal:
		return a.TriggerAlertNormal
	}
	return false
}

// LevelIDs returns the ids of the given alert levels in order.
func LevelIDs(levels []AlertLevel) []int {
	ids := make([]int, 0, len(levels))
	for _, l := range levels {
		ids = append(ids, l.Level)
	}
	return ids
}
