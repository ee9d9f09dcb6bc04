package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/alertr/alertrd/internal/session"
	"github.com/alertr/alertrd/internal/types"
)

// SessionSource lists the currently connected sessions.
type SessionSource interface {
	Sessions() []session.Session
}

// SessionSink sends state changes to initialized manager sessions. Each
// send runs in its own goroutine so Publish does not wait for clients.
type SessionSink struct {
	logger      zerolog.Logger
	sessions    SessionSource
	sendTimeout time.Duration
	wg          sync.WaitGroup
}

func NewSessionSink(logger zerolog.Logger, sessions SessionSource, sendTimeout time.Duration) *SessionSink {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &SessionSink{
		logger:      logger.With().Str("component", "manager_sessions").Logger(),
		sessions:    sessions,
		sendTimeout: sendTimeout,
	}
}

func (s *SessionSink) Name() string { return "sessions" }

func (s *SessionSink) Publish(_ context.Context, change types.StateChange) error {
	for _, sess := range s.sessions.Sessions() {
		if !sess.Initialized() || sess.NodeType() != session.NodeManager {
			continue
		}
		s.wg.Add(1)
		go func(sess session.Session) {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
			defer cancel()
			if err := sess.SendStateChange(ctx, change); err != nil {
				s.logger.Error().
					Err(err).
					Str("client", sess.Address()).
					Int("sensor_id", change.SensorID).
					Msg("Failed to send state change")
			}
		}(sess)
	}
	return nil
}

// Wait blocks until all started sends have returned.
func (s *SessionSink) Wait() {
	s.wg.Wait()
}

// messageWriter is the part of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes state changes as JSON messages keyed by sensor id.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // per sensor ordering
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{writer: w, topic: topic}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(ctx context.Context, change types.StateChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("serialize state change: %w", err)
	}
	id := strconv.Itoa(change.SensorID)
	msg := kafka.Message{
		Key:   []byte(id),
		Value: data,
		Headers: []kafka.Header{
			{Key: "sensor_id", Value: []byte(id)},
			{Key: "message", Value: []byte("statechange")},
		},
		Time: time.Now(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
