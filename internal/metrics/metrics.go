package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons
const (
	DropNoSuitableLevel           = "no_suitable_level"
	DropInstrumentationFailed     = "instrumentation_failed"
	DropInstrumentationSuppressed = "instrumentation_suppressed"
)

var (
	// Engine metrics
	SensorAlertsDequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertr_sensor_alerts_dequeued_total",
			Help: "Total number of sensor alerts pulled from the durable queue",
		},
	)

	SensorAlertStatesSplit = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertr_sensor_alert_states_split_total",
			Help: "Total number of states created by splitting instrumented alert levels",
		},
	)

	SensorAlertsTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertr_sensor_alerts_triggered_total",
			Help: "Total number of sensor alert states that triggered",
		},
	)

	SensorAlertsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertr_sensor_alerts_dropped_total",
			Help: "Total number of sensor alert states dropped",
		},
		[]string{"reason"},
	)

	SensorAlertsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertr_sensor_alert_states_in_flight",
			Help: "Current number of sensor alert states held by the engine",
		},
	)

	RuleEngineHandoffs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertr_rule_engine_handoffs_total",
			Help: "Total number of sensor alerts handed to the rule engine",
		},
	)

	// Instrumentation metrics
	InstrumentationResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertr_instrumentation_results_total",
			Help: "Instrumentation runs by result",
		},
		[]string{"result"}, // success, suppressed, failed
	)

	InstrumentationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertr_instrumentation_duration_seconds",
			Help:    "Time taken by instrumentation commands",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Delivery metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertr_sensor_alert_deliveries_total",
			Help: "Sensor alert sends to client sessions by result",
		},
		[]string{"node_type", "result"},
	)

	// Manager update metrics
	StateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertr_state_changes_total",
			Help: "Sensor state changes published by sink and result",
		},
		[]string{"sink", "result"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertr_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
