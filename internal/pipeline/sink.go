package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealtrack/internal/risk"
)

// AlertSink receives the alerts of an evaluation pass. Rendering,
// delivery and cross-run dedup belong to the sink.
type AlertSink interface {
	Send(ctx context.Context, alerts []risk.Alert) error
}

// DiscardSink drops alerts.
type DiscardSink struct{}

// Send implements AlertSink.
func (DiscardSink) Send(context.Context, []risk.Alert) error { return nil }

// JSONSink writes each alert as one JSON line.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink creates a sink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// Send implements AlertSink.
func (s *JSONSink) Send(_ context.Context, alerts []risk.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range alerts {
		if err := s.enc.Encode(a); err != nil {
			return eris.Wrapf(err, "pipeline: write alert %s", a.DedupKey)
		}
	}
	return nil
}

// CollectSink keeps alerts in memory.
type CollectSink struct {
	mu     sync.Mutex
	alerts []risk.Alert
}

// Send implements AlertSink.
func (s *CollectSink) Send(_ context.Context, alerts []risk.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alerts...)
	return nil
}

// Alerts returns everything sent so far.
func (s *CollectSink) Alerts() []risk.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]risk.Alert(nil), s.alerts...)
}

// WebhookSink posts each alert as JSON to a URL. A failed alert is logged
// and the rest are still sent.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Send implements AlertSink. It fails only if no alert could be delivered.
func (s *WebhookSink) Send(ctx context.Context, alerts []risk.Alert) error {
	var lastErr error
	sent := 0
	for _, a := range alerts {
		if err := s.post(ctx, a); err != nil {
			zap.L().Error("pipeline: failed to send alert",
				zap.String("dedup_key", a.DedupKey),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func (s *WebhookSink) post(ctx context.Context, a risk.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "pipeline: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "pipeline: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("pipeline: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// MultiSink fans alerts out to several sinks, stopping at the first error.
type MultiSink []AlertSink

// Send implements AlertSink.
func (m MultiSink) Send(ctx context.Context, alerts []risk.Alert) error {
	for _, s := range m {
		if err := s.Send(ctx, alerts); err != nil {
			return err
		}
	}
	return nil
}
