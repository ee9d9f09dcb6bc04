package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func sampleAlert() *SensorAlert {
	return &SensorAlert{
		ID:           42,
		NodeID:       3,
		SensorID:     7,
		Description:  "front door",
		TimeReceived: 1700000000,
		AlertDelay:   5,
		State:        StateTriggered,
		AlertLevels:  []int{10, 20},
		DataType:     SensorDataInt,
		Data:         SensorData{Type: SensorDataInt, Int: 21, Unit: "°C"},
	}
}

func TestSensorAlertWireForm(t *testing.T) {
	b, err := json.Marshal(sampleAlert())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"sensorId":7`, `"state":1`, `"triggeredAlertLevels":[]`, `"data":{"value":21,"unit":"°C"}`} {
		if !strings.Contains(s, want) {
			t.Errorf("wire form %s missing %s", s, want)
		}
	}

	var back SensorAlert
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Data.Int != 21 || back.Data.Unit != "°C" || !back.SameAlertLevels(sampleAlert()) {
		t.Fatalf("unexpected decoded alert: %+v", back)
	}
}

func TestSensorAlertUnmarshalRejects(t *testing.T) {
	valid := func() map[string]any {
		var m map[string]any
		b, _ := json.Marshal(sampleAlert())
		_ = json.Unmarshal(b, &m)
		return m
	}

	tests := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"state out of range", func(m map[string]any) { m["state"] = 2 }},
		{"float value for int data", func(m map[string]any) { m["data"] = map[string]any{"value": 1.5, "unit": "x"} }},
		{"unknown data type", func(m map[string]any) { m["dataType"] = 9 }},
		{"none data with fields", func(m map[string]any) { m["dataType"] = 0 }},
		{"missing data", func(m map[string]any) { delete(m, "data") }},
		{"optional data flag without data", func(m map[string]any) { m["hasOptionalData"] = true }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := valid()
			tc.mutate(m)
			b, _ := json.Marshal(m)
			var out SensorAlert
			err := json.Unmarshal(b, &out)
			if !errors.Is(err, ErrInvalidSensorAlert) {
				t.Fatalf("want ErrInvalidSensorAlert, got %v", err)
			}
		})
	}
}

func TestSensorAlertClone(t *testing.T) {
	orig := sampleAlert()
	orig.HasOptionalData = true
	orig.OptionalData = map[string]any{"nested": map[string]any{"k": "v"}}

	c := orig.Clone()
	c.AlertLevels[0] = 99
	c.OptionalData["nested"].(map[string]any)["k"] = "changed"

	if orig.AlertLevels[0] != 10 {
		t.Fatalf("clone shares alert levels")
	}
	if orig.OptionalData["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("clone shares optional data")
	}
}

func TestAlertLevelTriggersOnState(t *testing.T) {
	l := AlertLevel{TriggerAlertTriggered: true}
	if !l.TriggersOnState(StateTriggered) {
		t.Fatal("expected trigger on triggered state")
	}
	if l.TriggersOnState(StateNormal) {
		t.Fatal("unexpected trigger on normal state")
	}
}
