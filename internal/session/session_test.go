package session

import (
	"context"
	"testing"

	"github.com/alertr/alertrd/internal/types"
)

type stubSession struct {
	addr   string
	levels []int
}

func (s *stubSession) Initialized() bool   { return true }
func (s *stubSession) NodeType() NodeType  { return NodeAlert }
func (s *stubSession) AlertLevels() []int  { return s.levels }
func (s *stubSession) Address() string     { return s.addr }
func (s *stubSession) SendSensorAlert(context.Context, *types.SensorAlert) error {
	return nil
}
func (s *stubSession) SendStateChange(context.Context, types.StateChange) error {
	return nil
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	a := &stubSession{addr: "a"}
	b := &stubSession{addr: "b"}
	r.Add(a)
	r.Add(b)

	snap := r.Sessions()
	r.Remove(a)
	r.Remove(&stubSession{addr: "unknown"})

	if len(snap) != 2 {
		t.Fatalf("snapshot changed: %d", len(snap))
	}
	if r.Len() != 1 || r.Sessions()[0].Address() != "b" {
		t.Fatalf("unexpected registry content")
	}
}

func TestSubscribes(t *testing.T) {
	s := &stubSession{levels: []int{1, 5}}
	if !Subscribes(s, []int{3, 5}) {
		t.Fatal("expected intersection on level 5")
	}
	if Subscribes(s, []int{2}) || Subscribes(s, nil) {
		t.Fatal("expected no intersection")
	}
}

func TestParseNodeType(t *testing.T) {
	for _, in := range []string{"sensor", "manager", "alert", "server"} {
		if _, err := ParseNodeType(in); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
	}
	if _, err := ParseNodeType("router"); err == nil {
		t.Fatal("expected error")
	}
	if NodeSensor.ReceivesSensorAlerts() || !NodeManager.ReceivesSensorAlerts() || !NodeAlert.ReceivesSensorAlerts() {
		t.Fatal("wrong subscriber types")
	}
}
