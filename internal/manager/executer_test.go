package manager

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/alertr/alertrd/internal/session"
	"github.com/alertr/alertrd/internal/types"
)

type recordingSink struct {
	name string
	err  error

	mu      sync.Mutex
	changes []types.StateChange
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, c types.StateChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUpdateExecuter_DeliversToAllSinks(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("broker down")}
	ok := &recordingSink{name: "ok"}
	u := NewUpdateExecuter(zerolog.Nop(), time.Hour, failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	u.QueueStateChange(7, 1, types.NoSensorData())
	u.QueueStateChange(8, 0, types.SensorData{Type: types.SensorDataInt, Int: 3})
	u.Wake()

	waitFor(t, func() bool { return ok.count() == 2 })
	if failing.count() != 2 {
		t.Fatalf("failing sink saw %d changes", failing.count())
	}
	if ok.changes[0].SensorID != 7 || ok.changes[1].SensorID != 8 {
		t.Fatalf("order not preserved: %+v", ok.changes)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type managerSession struct {
	nodeType session.NodeType
	mu       sync.Mutex
	got      []types.StateChange
}

func (m *managerSession) Initialized() bool          { return true }
func (m *managerSession) NodeType() session.NodeType { return m.nodeType }
func (m *managerSession) AlertLevels() []int         { return nil }
func (m *managerSession) Address() string            { return string(m.nodeType) }
func (m *managerSession) SendSensorAlert(context.Context, *types.SensorAlert) error {
	return nil
}

func (m *managerSession) SendStateChange(_ context.Context, c types.StateChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, c)
	return nil
}

func (m *managerSession) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

func TestSessionSink_OnlyManagers(t *testing.T) {
	reg := session.NewRegistry()
	mgr := &managerSession{nodeType: session.NodeManager}
	alert := &managerSession{nodeType: session.NodeAlert}
	reg.Add(mgr)
	reg.Add(alert)

	sink := NewSessionSink(zerolog.Nop(), reg, time.Second)
	if err := sink.Publish(context.Background(), types.StateChange{SensorID: 1, State: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return mgr.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	if alert.count() != 0 {
		t.Fatal("alert client received a state change")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink_KeyedBySensor(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, topic: "alertr.state"}

	change := types.StateChange{SensorID: 42, State: 1, Data: types.SensorData{Type: types.SensorDataFloat, Float: 1.5, Unit: "C"}}
	if err := sink.Publish(context.Background(), change); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "42" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var body map[string]any
	if err := json.Unmarshal(w.msgs[0].Value, &body); err != nil {
		t.Fatalf("value not json: %v", err)
	}
	if body["dataType"] != float64(2) || body["sensorId"] != float64(42) {
		t.Fatalf("unexpected body: %v", body)
	}

	if _, err := NewKafkaSink(nil, "t"); err == nil {
		t.Fatal("expected error without brokers")
	}
}

type blockingManager struct {
	managerSession
	release chan struct{}
}

func (b *blockingManager) SendStateChange(ctx context.Context, c types.StateChange) error {
	<-b.release
	return b.managerSession.SendStateChange(ctx, c)
}

func TestSessionSink_WaitForSends(t *testing.T) {
	reg := session.NewRegistry()
	mgr := &blockingManager{managerSession: managerSession{nodeType: session.NodeManager}, release: make(chan struct{})}
	reg.Add(mgr)

	sink := NewSessionSink(zerolog.Nop(), reg, time.Second)
	if err := sink.Publish(context.Background(), types.StateChange{SensorID: 2, State: 0}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sink.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Wait returned while a send was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(mgr.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the send finished")
	}
	if mgr.count() != 1 {
		t.Fatalf("manager got %d state changes", mgr.count())
	}
}
