// Package session holds the registry of connected client sessions. The
// connection layer adds and removes sessions; the engine and the delivery
// paths only read snapshots of it.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/alertr/alertrd/internal/types"
)

// NodeType is the role a client announced when it registered.
type NodeType string

const (
	NodeSensor  NodeType = "sensor"
	NodeManager NodeType = "manager"
	NodeAlert   NodeType = "alert"
	NodeServer  NodeType = "server"
)

// ParseNodeType validates a node type string.
func ParseNodeType(s string) (NodeType, error) {
	switch t := NodeType(s); t {
	case NodeSensor, NodeManager, NodeAlert, NodeServer:
		return t, nil
	}
	return "", fmt.Errorf("unknown node type %q", s)
}

// ReceivesSensorAlerts reports whether clients of this type subscribe to
// sensor alerts.
func (t NodeType) ReceivesSensorAlerts() bool {
	return t == NodeManager || t == NodeAlert
}

// Session is a connected client.
type Session interface {
	Initialized() bool
	NodeType() NodeType
	// AlertLevels returns the levels the client subscribed to.
	AlertLevels() []int
	Address() string
	SendSensorAlert(ctx context.Context, alert *types.SensorAlert) error
	SendStateChange(ctx context.Context, change types.StateChange) error
}

// Subscribes reports whether s subscribed to any of levels.
func Subscribes(s Session, levels []int) bool {
	for _, want := range s.AlertLevels() {
		for _, l := range levels {
			if want == l {
				return true
			}
		}
	}
	return false
}

// Registry is a concurrency safe set of sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions []Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

// Remove drops s from the registry. It is a no-op for unknown sessions.
func (r *Registry) Remove(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.sessions {
		if cur == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			return
		}
	}
}

// Sessions returns a snapshot of the registered sessions.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
