package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"go.uber.org/zap"
)

// LogSink writes every event to the log. It is the sink when no webhook is set.
type LogSink struct {
	Log *zap.Logger
}

func (l LogSink) Deliver(_ context.Context, env groupbuy.Envelope) error {
	l.Log.Info("notification",
		zap.String("event_type", env.EventType),
		zap.String("event_id", env.EventID),
		zap.String("correlation_id", env.CorrelationID),
		zap.ByteString("payload", env.Payload))
	return nil
}

// WebhookSink POSTs the envelope as JSON. Any non-2xx answer is a failed delivery.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (w *WebhookSink) Deliver(ctx context.Context, env groupbuy.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", env.EventType)
	req.Header.Set("X-Event-ID", env.EventID)

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}
