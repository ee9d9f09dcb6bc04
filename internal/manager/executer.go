// Package manager forwards sensor state changes to manager clients and
// other subscribers of state updates.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alertr/alertrd/internal/metrics"
	"github.com/alertr/alertrd/internal/types"
)

// Sink receives state changes.
type Sink interface {
	Name() string
	Publish(ctx context.Context, change types.StateChange) error
}

// UpdateExecuter drains queued state changes and hands each to every sink.
type UpdateExecuter struct {
	logger         zerolog.Logger
	sinks          []Sink
	idleTimeout    time.Duration
	publishTimeout time.Duration

	mu      sync.Mutex
	pending []types.StateChange
	wake    chan struct{}
}

func NewUpdateExecuter(logger zerolog.Logger, idleTimeout time.Duration, sinks ...Sink) *UpdateExecuter {
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Second
	}
	return &UpdateExecuter{
		logger:         logger.With().Str("component", "manager_update").Logger(),
		sinks:          sinks,
		idleTimeout:    idleTimeout,
		publishTimeout: 10 * time.Second,
		wake:           make(chan struct{}, 1),
	}
}

// QueueStateChange queues a state change without waking the executer.
func (u *UpdateExecuter) QueueStateChange(sensorID, state int, data types.SensorData) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, types.StateChange{SensorID: sensorID, State: state, Data: data})
}

// Wake signals that state changes are queued. It never blocks.
func (u *UpdateExecuter) Wake() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued state changes.
func (u *UpdateExecuter) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

func (u *UpdateExecuter) drain() []types.StateChange {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.pending
	u.pending = nil
	return out
}

// Run processes state changes until ctx is cancelled.
func (u *UpdateExecuter) Run(ctx context.Context) {
	u.logger.Info().Int("sinks", len(u.sinks)).Msg("Manager update executer started")
	for {
		if u.Pending() == 0 {
			select {
			case <-ctx.Done():
				u.logger.Info().Msg("Manager update executer stopped")
				return
			case <-u.wake:
			case <-time.After(u.idleTimeout):
			}
		}
		if ctx.Err() != nil {
			u.logger.Info().Msg("Manager update executer stopped")
			return
		}

		for _, change := range u.drain() {
			u.publish(ctx, change)
		}
	}
}

func (u *UpdateExecuter) publish(ctx context.Context, change types.StateChange) {
	for _, sink := range u.sinks {
		pctx, cancel := context.WithTimeout(ctx, u.publishTimeout)
		err := sink.Publish(pctx, change)
		cancel()
		if err != nil {
			metrics.StateChanges.WithLabelValues(sink.Name(), "error").Inc()
			u.logger.Error().
				Err(err).
				Str("sink", sink.Name()).
				Int("sensor_id", change.SensorID).
				Msg("Failed to publish state change")
			continue
		}
		metrics.StateChanges.WithLabelValues(sink.Name(), "success").Inc()
	}
}
