package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/alertr/alertrd/internal/session"
	"github.com/alertr/alertrd/internal/types"
)

// WebhookClient is a statically configured client that receives sensor
// alerts and state changes as JSON over HTTP POST.
type WebhookClient struct {
	name     string
	url      string
	nodeType session.NodeType
	levels   []int
	logger   zerolog.Logger
	client   *http.Client
}

var _ session.Session = (*WebhookClient)(nil)

// NewWebhookClient creates a webhook session. An empty url leaves the
// client uninitialized so delivery skips it.
func NewWebhookClient(logger zerolog.Logger, name, url string, nodeType session.NodeType, levels []int) *WebhookClient {
	return &WebhookClient{
		name:     name,
		url:      url,
		nodeType: nodeType,
		levels:   append([]int(nil), levels...),
		logger:   logger.With().Str("component", "webhook").Str("client", name).Logger(),
		// no client timeout, the caller's context bounds each send
		client: &http.Client{},
	}
}

func (w *WebhookClient) Initialized() bool          { return w.url != "" }
func (w *WebhookClient) NodeType() session.NodeType { return w.nodeType }
func (w *WebhookClient) AlertLevels() []int         { return w.levels }
func (w *WebhookClient) Address() string            { return w.name }

func (w *WebhookClient) SendSensorAlert(ctx context.Context, alert *types.SensorAlert) error {
	return w.post(ctx, "sensoralert", alert)
}

func (w *WebhookClient) SendStateChange(ctx context.Context, change types.StateChange) error {
	return w.post(ctx, "statechange", change)
}

type webhookMessage struct {
	Message string `json:"message"`
	Payload any    `json:"payload"`
}

func (w *WebhookClient) post(ctx context.Context, message string, payload any) error {
	jsonData, err := json.Marshal(webhookMessage{Message: message, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: %d - %s", resp.StatusCode, string(body))
	}

	w.logger.Debug().Str("message", message).Int("status", resp.StatusCode).Msg("Webhook delivered")
	return nil
}
