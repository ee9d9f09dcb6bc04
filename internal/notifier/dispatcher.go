package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alertr/alertrd/internal/metrics"
	"github.com/alertr/alertrd/internal/session"
	"github.com/alertr/alertrd/internal/types"
)

// SessionSource lists the currently connected sessions.
type SessionSource interface {
	Sessions() []session.Session
}

// Dispatcher pushes triggered sensor alerts to subscribed client sessions.
// Every send runs in its own goroutine so a stalled client never holds up
// the engine or the other clients.
type Dispatcher struct {
	logger      zerolog.Logger
	sessions    SessionSource
	sendTimeout time.Duration
	wg          sync.WaitGroup
}

func NewDispatcher(logger zerolog.Logger, sessions SessionSource, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		logger:      logger.With().Str("component", "notifier").Logger(),
		sessions:    sessions,
		sendTimeout: sendTimeout,
	}
}

// Deliver spawns one send per eligible session and returns the number of
// sends started. alert.TriggeredAlertLevels selects the recipients. The
// alert must not be modified after the call.
func (d *Dispatcher) Deliver(alert *types.SensorAlert) int {
	deliveryID := uuid.NewString()
	spawned := 0

	for _, s := range d.sessions.Sessions() {
		if !s.Initialized() || !s.NodeType().ReceivesSensorAlerts() {
			continue
		}
		if !session.Subscribes(s, alert.TriggeredAlertLevels) {
			continue
		}

		spawned++
		d.wg.Add(1)
		go d.send(deliveryID, s, alert)
	}

	d.logger.Debug().
		Str("delivery_id", deliveryID).
		Int("sensor_id", alert.SensorID).
		Ints("triggered_alert_levels", alert.TriggeredAlertLevels).
		Int("recipients", spawned).
		Msg("Sensor alert dispatched")

	return spawned
}

func (d *Dispatcher) send(deliveryID string, s session.Session, alert *types.SensorAlert) {
	defer d.wg.Done()
	nodeType := string(s.NodeType())
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("notifier").Inc()
			metrics.Deliveries.WithLabelValues(nodeType, "error").Inc()
			d.logger.Error().
				Interface("panic", r).
				Str("delivery_id", deliveryID).
				Str("client", s.Address()).
				Msg("Recovered from panic while sending sensor alert")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	if err := s.SendSensorAlert(ctx, alert); err != nil {
		metrics.Deliveries.WithLabelValues(nodeType, "error").Inc()
		d.logger.Error().
			Err(err).
			Str("delivery_id", deliveryID).
			Str("client", s.Address()).
			Int("sensor_id", alert.SensorID).
			Msg("Failed to send sensor alert")
		return
	}

	metrics.Deliveries.WithLabelValues(nodeType, "success").Inc()
	d.logger.Info().
		Str("delivery_id", deliveryID).
		Str("client", s.Address()).
		Int("sensor_id", alert.SensorID).
		Msg("Sensor alert sent")
}

// Wait blocks until all spawned sends have returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
