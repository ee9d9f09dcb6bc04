package alerter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alertr/alertrd/internal/instrumentation"
	"github.com/alertr/alertrd/internal/metrics"
	"github.com/alertr/alertrd/internal/storage"
	"github.com/alertr/alertrd/internal/types"
)

const (
	defaultIdleTimeout = 10 * time.Second
	defaultBusySleep   = 500 * time.Millisecond
)

// Store is the storage the engine reads from.
type Store interface {
	storage.Queue
	storage.AlertSystemState
	storage.SensorStore
}

// Instrumenter starts an instrumentation run without blocking.
type Instrumenter interface {
	Execute(level types.AlertLevel, alert *types.SensorAlert) *instrumentation.Promise
}

// Deliverer hands a triggered sensor alert to the subscribed clients.
type Deliverer interface {
	Deliver(alert *types.SensorAlert) int
}

// StateChangeQueue receives state changes of sensor alerts that did not
// trigger.
type StateChangeQueue interface {
	QueueStateChange(sensorID, state int, data types.SensorData)
	Wake()
}

// RuleEngine decides on its own about alert levels with rules activated.
type RuleEngine interface {
	AddSensorAlert(alert *types.SensorAlert, level types.AlertLevel)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.idleTimeout = d
		}
	}
}

func WithBusySleep(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.busySleep = d
		}
	}
}

func WithRuleEngine(r RuleEngine) Option {
	return func(e *Engine) { e.rules = r }
}

// Snapshot is a point in time view of the engine for status reporting.
type Snapshot struct {
	Running       bool      `json:"running"`
	InFlight      int64     `json:"in_flight"`
	Instrumenting int64     `json:"instrumenting"`
	Dequeued      uint64    `json:"dequeued_total"`
	Triggered     uint64    `json:"triggered_total"`
	Dropped       uint64    `json:"dropped_total"`
	LastIteration time.Time `json:"last_iteration"`
}

// Engine turns queued sensor alerts into triggered alerts. The state pool
// is only touched by the goroutine running Run.
type Engine struct {
	logger       zerolog.Logger
	levels       []types.AlertLevel
	levelByID    map[int]types.AlertLevel
	store        Store
	instrumenter Instrumenter
	deliverer    Deliverer
	updates      StateChangeQueue
	rules        RuleEngine
	clock        Clock
	idleTimeout  time.Duration
	busySleep    time.Duration

	wake   chan struct{}
	states []*sensorAlertState

	running       atomic.Bool
	inFlight      atomic.Int64
	instrumenting atomic.Int64
	dequeued      atomic.Uint64
	triggered     atomic.Uint64
	dropped       atomic.Uint64
	lastIteration atomic.Int64
}

// NewEngine creates the sensor alert engine. levels is the alert level
// policy table.
func NewEngine(logger zerolog.Logger, levels []types.AlertLevel, store Store, instrumenter Instrumenter,
	deliverer Deliverer, updates StateChangeQueue, opts ...Option) *Engine {
	e := &Engine{
		logger:       logger.With().Str("component", "engine").Logger(),
		levels:       levels,
		levelByID:    make(map[int]types.AlertLevel, len(levels)),
		store:        store,
		instrumenter: instrumenter,
		deliverer:    deliverer,
		updates:      updates,
		clock:        systemClock{},
		idleTimeout:  defaultIdleTimeout,
		busySleep:    defaultBusySleep,
		wake:         make(chan struct{}, 1),
	}
	for _, l := range levels {
		e.levelByID[l.Level] = l
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wake makes an idle engine poll the queue right away. It never blocks.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Snapshot returns the current counters. Safe for concurrent use.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Running:       e.running.Load(),
		InFlight:      e.inFlight.Load(),
		Instrumenting: e.instrumenting.Load(),
		Dequeued:      e.dequeued.Load(),
		Triggered:     e.triggered.Load(),
		Dropped:       e.dropped.Load(),
	}
	if ts := e.lastIteration.Load(); ts != 0 {
		s.LastIteration = time.Unix(0, ts)
	}
	return s
}

// Run processes sensor alerts until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)
	e.logger.Info().
		Int("alert_levels", len(e.levels)).
		Dur("idle_timeout", e.idleTimeout).
		Msg("Sensor alert engine started")

	for {
		if ctx.Err() != nil {
			e.logger.Info().Int("in_flight", len(e.states)).Msg("Sensor alert engine stopped")
			return
		}

		wait := e.busySleep
		if !e.step(ctx) {
			wait = e.idleTimeout
		}

		select {
		case <-ctx.Done():
		case <-e.wake:
		case <-time.After(wait):
		}
	}
}

// step runs one iteration and reports whether states are in flight.
func (e *Engine) step(ctx context.Context) (busy bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("engine").Inc()
			e.logger.Error().Interface("panic", r).Msg("Recovered from panic in engine iteration")
			busy = len(e.states) > 0
		}
	}()
	defer e.publishGauges()

	e.dequeue(ctx)
	if len(e.states) == 0 {
		return false
	}

	e.split()

	armed, err := e.store.IsAlertSystemActive(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Unable to read alert system state, retrying next iteration")
		return true
	}

	e.updateSuitability(armed)
	e.startInstrumentation()
	e.filter(ctx)
	e.trigger()
	return len(e.states) > 0
}

func (e *Engine) publishGauges() {
	var instrumenting int64
	for _, s := range e.states {
		if s.promise != nil && !s.promise.IsFinished() {
			instrumenting++
		}
	}
	e.inFlight.Store(int64(len(e.states)))
	e.instrumenting.Store(instrumenting)
	e.lastIteration.Store(e.clock.Now().UnixNano())
	metrics.SensorAlertsInFlight.Set(float64(len(e.states)))
}

// dequeue moves all queued records into the state pool. A record is only
// taken once it was deleted from the queue.
func (e *Engine) dequeue(ctx context.Context) {
	records, err := e.store.PendingSensorAlerts(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Unable to read sensor alert queue")
		return
	}

	for _, rec := range records {
		if err := e.store.DeleteSensorAlert(ctx, rec.ID); err != nil {
			e.logger.Error().
				Err(err).
				Int64("sensor_alert_id", rec.ID).
				Msg("Unable to delete sensor alert from queue, skipping it this cycle")
			continue
		}
		e.dequeued.Add(1)
		metrics.SensorAlertsDequeued.Inc()

		for _, id := range rec.AlertLevels {
			if _, ok := e.levelByID[id]; !ok {
				e.logger.Warn().
					Int("sensor_id", rec.SensorID).
					Int("alert_level", id).
					Msg("Sensor alert references unknown alert level")
			}
		}

		var levels, ruleLevels []types.AlertLevel
		for _, l := range e.levels {
			if !rec.HasAlertLevel(l.Level) {
				continue
			}
			if l.RulesActivated {
				ruleLevels = append(ruleLevels, l)
				continue
			}
			levels = append(levels, l)
		}
		if len(ruleLevels) > 0 {
			e.handOffToRules(ctx, rec, ruleLevels)
		}

		e.logger.Debug().
			Int64("sensor_alert_id", rec.ID).
			Int("sensor_id", rec.SensorID).
			Int("state", rec.State).
			Ints("alert_levels", types.LevelIDs(levels)).
			Msg("Sensor alert dequeued")
		e.states = append(e.states, newSensorAlertState(rec, levels))
	}
}

func (e *Engine) handOffToRules(ctx context.Context, rec *types.SensorAlert, levels []types.AlertLevel) {
	armed, err := e.store.IsAlertSystemActive(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Unable to read alert system state, only trigger always levels go to the rule engine")
		armed = false
	}
	for _, l := range levels {
		if !armed && !l.TriggerAlways {
			continue
		}
		if e.rules == nil {
			e.logger.Warn().
				Int("sensor_id", rec.SensorID).
				Int("alert_level", l.Level).
				Msg("Alert level has rules activated but no rule engine is configured")
			continue
		}
		metrics.RuleEngineHandoffs.Inc()
		e.rules.AddSensorAlert(rec, l)
	}
}

// split gives every instrumented alert level its own state so each
// instrumentation decides for its level only.
func (e *Engine) split() {
	out := make([]*sensorAlertState, 0, len(e.states))
	for _, s := range e.states {
		if s.usesInstrumentation || len(s.suitable) == 0 {
			out = append(out, s)
			continue
		}
		if len(s.suitable) == 1 {
			s.usesInstrumentation = s.suitable[0].InstrumentationActive
			out = append(out, s)
			continue
		}

		var plain []types.AlertLevel
		created := 0
		for _, l := range s.suitable {
			if !l.InstrumentationActive {
				plain = append(plain, l)
				continue
			}
			ns := newSensorAlertState(s.record, []types.AlertLevel{l})
			ns.usesInstrumentation = true
			out = append(out, ns)
			created++
		}
		if created == 0 {
			out = append(out, s)
			continue
		}
		metrics.SensorAlertStatesSplit.Add(float64(created))
		e.logger.Debug().
			Int("sensor_id", s.record.SensorID).
			Int("instrumented_states", created).
			Int("plain_levels", len(plain)).
			Msg("Sensor alert split by instrumented alert levels")
		if len(plain) > 0 {
			s.suitable = plain
			out = append(out, s)
		}
	}
	e.states = out
}

// updateSuitability drops alert levels that may not trigger anymore.
// Levels are never added back.
func (e *Engine) updateSuitability(armed bool) {
	for _, s := range e.states {
		var alert *types.SensorAlert
		keepUnchecked := false
		// The promise resolves concurrently, read it once per pass so the
		// polarity check and the final decision see the same result.
		finished := s.instrumentationFinished()

		switch {
		case !s.usesInstrumentation:
			alert = s.record
		case finished:
			repl, err := s.resolvedAlert()
			if err != nil || repl == nil {
				// failed or suppressed, filter removes the state
				keepUnchecked = true
			}
			alert = repl
		default:
			// result not known yet, only the armed check applies
			keepUnchecked = true
		}

		kept := s.suitable[:0]
		for _, l := range s.suitable {
			if !l.TriggerAlways && !armed {
				continue
			}
			if !keepUnchecked && !l.TriggersOnState(alert.State) {
				continue
			}
			kept = append(kept, l)
		}
		s.suitable = kept

		if !s.usesInstrumentation || finished {
			s.processed = true
			s.triggered = s.levelIDs()
		}
	}
}

func (e *Engine) startInstrumentation() {
	for _, s := range e.states {
		if !s.usesInstrumentation || s.promise != nil || len(s.suitable) == 0 {
			continue
		}
		level := s.suitable[0]
		s.promise = e.instrumenter.Execute(level, s.record)
		e.logger.Debug().
			Int("sensor_id", s.record.SensorID).
			Int("alert_level", level.Level).
			Str("promise_id", s.promise.ID()).
			Msg("Instrumentation started")
	}
}

// filter removes states that will never trigger and forwards their state
// change to the manager update queue.
func (e *Engine) filter(ctx context.Context) {
	kept := e.states[:0]
	var changed []*types.SensorAlert

	for _, s := range e.states {
		reason := ""
		switch {
		case len(s.suitable) == 0:
			reason = metrics.DropNoSuitableLevel
		case s.usesInstrumentation && s.instrumentationFinished():
			ok, _ := s.promise.WasSuccess()
			if !ok {
				reason = metrics.DropInstrumentationFailed
			} else if s.promise.Replacement() == nil {
				reason = metrics.DropInstrumentationSuppressed
			}
		}
		if reason == "" {
			kept = append(kept, s)
			continue
		}

		e.dropped.Add(1)
		metrics.SensorAlertsDropped.WithLabelValues(reason).Inc()
		e.logger.Info().
			Int("sensor_id", s.record.SensorID).
			Int("state", s.record.State).
			Str("reason", reason).
			Msg("Sensor alert dropped")

		if s.record.HasLatestData || s.record.ChangeState {
			changed = append(changed, s.record)
		}
	}
	for i := len(kept); i < len(e.states); i++ {
		e.states[i] = nil
	}
	e.states = kept

	if len(changed) > 0 {
		e.queueStateChanges(ctx, changed)
	}
}

func (e *Engine) queueStateChanges(ctx context.Context, records []*types.SensorAlert) {
	if e.updates == nil {
		return
	}
	queued := 0
	for _, rec := range records {
		state, err := e.store.SensorState(ctx, rec.SensorID)
		if err != nil {
			e.logger.Error().Err(err).Int("sensor_id", rec.SensorID).Msg("Unable to read sensor state for manager update")
			continue
		}
		data, err := e.store.SensorData(ctx, rec.SensorID)
		if err != nil {
			e.logger.Error().Err(err).Int("sensor_id", rec.SensorID).Msg("Unable to read sensor data for manager update")
			continue
		}
		e.updates.QueueStateChange(rec.SensorID, state, data)
		queued++
	}
	if queued > 0 {
		e.updates.Wake()
	}
}

// trigger delivers every state whose delay passed and whose decision is
// final.
func (e *Engine) trigger() {
	now := e.clock.Now().Unix()
	kept := e.states[:0]

	for _, s := range e.states {
		if now < s.timeValid || !s.processed {
			kept = append(kept, s)
			continue
		}

		alert, err := s.resolvedAlert()
		if err != nil || alert == nil {
			e.dropped.Add(1)
			metrics.SensorAlertsDropped.WithLabelValues(metrics.DropInstrumentationFailed).Inc()
			e.logger.Error().Err(err).Int("sensor_id", s.record.SensorID).Msg("Sensor alert has no resolved alert, dropping it")
			continue
		}

		out := alert.Clone()
		out.TriggeredAlertLevels = append([]int(nil), s.triggered...)
		recipients := e.deliverer.Deliver(out)

		e.triggered.Add(1)
		metrics.SensorAlertsTriggered.Inc()
		e.logger.Info().
			Int("sensor_id", out.SensorID).
			Int("state", out.State).
			Ints("triggered_alert_levels", out.TriggeredAlertLevels).
			Int("recipients", recipients).
			Msg("Sensor alert triggered")
	}
	for i := len(kept); i < len(e.states); i++ {
		e.states[i] = nil
	}
	e.states = kept
}
