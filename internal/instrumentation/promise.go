package instrumentation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alertr/alertrd/internal/types"
)

// ErrNotFinished is returned when the result of a running instrumentation
// is queried.
var ErrNotFinished = errors.New("instrumentation not finished")

// ErrAlreadyFinished is returned when a finished promise is resolved again.
var ErrAlreadyFinished = errors.New("instrumentation already finished")

type promiseState int

const (
	statePending promiseState = iota
	stateSuccess
	stateFailed
)

// Promise carries the outcome of one asynchronous instrumentation run.
// It is written once by the runner and polled by the engine.
type Promise struct {
	id       string
	level    types.AlertLevel
	original *types.SensorAlert
	created  time.Time

	mu          sync.RWMutex
	state       promiseState
	replacement *types.SensorAlert
	done        chan struct{}
}

func NewPromise(level types.AlertLevel, original *types.SensorAlert) *Promise {
	return &Promise{
		id:       uuid.NewString(),
		level:    level,
		original: original,
		created:  time.Now(),
		done:     make(chan struct{}),
	}
}

func (p *Promise) ID() string                   { return p.id }
func (p *Promise) Level() types.AlertLevel      { return p.level }
func (p *Promise) Original() *types.SensorAlert { return p.original }
func (p *Promise) Created() time.Time           { return p.created }

// Done is closed once the promise is resolved.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// SetSuccess resolves the promise. A nil replacement means the
// instrumentation suppressed the sensor alert.
func (p *Promise) SetSuccess(replacement *types.SensorAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != statePending {
		return ErrAlreadyFinished
	}
	p.replacement = replacement
	p.state = stateSuccess
	close(p.done)
	return nil
}

func (p *Promise) SetFailed() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != statePending {
		return ErrAlreadyFinished
	}
	p.state = stateFailed
	close(p.done)
	return nil
}

func (p *Promise) IsFinished() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state != statePending
}

// WasSuccess reports the outcome. It returns ErrNotFinished while the
// instrumentation is still running.
func (p *Promise) WasSuccess() (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch p.state {
	case stateSuccess:
		return true, nil
	case stateFailed:
		return false, nil
	}
	return false, ErrNotFinished
}

// Replacement returns the sensor alert produced by the instrumentation, or
// nil if it suppressed the alert, failed or is still running.
func (p *Promise) Replacement() *types.SensorAlert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.replacement
}
