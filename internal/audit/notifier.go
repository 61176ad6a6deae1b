package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/model"
)

// Channel delivers reconciliation results to an external collaborator.
type Channel interface {
	Report(ctx context.Context, report *model.AuditReport) error
	ReportError(ctx context.Context, runErr error) error
	Type() string
}

// WebhookChannel posts reports as JSON to a configured URL.
type WebhookChannel struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

// NewWebhookChannel creates a webhook reporting channel.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (w *WebhookChannel) Type() string {
	return "webhook"
}

func (w *WebhookChannel) Report(ctx context.Context, report *model.AuditReport) error {
	return w.post(ctx, map[string]any{
		"type":   "audit_report",
		"report": report,
	})
}

// ReportError delivers a reconciler operational failure. It is a distinct
// signal from a data gap: the run could not complete, so gap counts from
// it are unknown rather than zero.
func (w *WebhookChannel) ReportError(ctx context.Context, runErr error) error {
	return w.post(ctx, map[string]any{
		"type":      "audit_error",
		"error":     runErr.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (w *WebhookChannel) post(ctx context.Context, payload map[string]any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "VeilStream-Audit/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel posts reports to a Slack incoming webhook.
type SlackChannel struct {
	WebhookURL string
	Timeout    time.Duration
	client     *http.Client
}

// NewSlackChannel creates a Slack reporting channel.
func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		WebhookURL: webhookURL,
		Timeout:    timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *SlackChannel) Type() string {
	return "slack"
}

func (s *SlackChannel) Report(ctx context.Context, report *model.AuditReport) error {
	gaps := report.AbsentCount + report.UnhealthyCount

	color := "good"
	text := "Audit run clean"
	if gaps > 0 {
		color = "danger"
		text = fmt.Sprintf("🚨 Audit found %d gap(s)", gaps)
	}

	payload := map[string]any{
		"text": text,
		"attachments": []map[string]any{
			{
				"color": color,
				"fields": []map[string]any{
					{
						"title": "Source records checked",
						"value": fmt.Sprintf("%d", report.SourceCount),
						"short": true,
					},
					{
						"title": "Staleness threshold",
						"value": report.Threshold.String(),
						"short": true,
					},
					{
						"title": "Absent",
						"value": fmt.Sprintf("%d", report.AbsentCount),
						"short": true,
					},
					{
						"title": "Unhealthy",
						"value": fmt.Sprintf("%d", report.UnhealthyCount),
						"short": true,
					},
				},
				"footer": "VeilStream Audit",
				"ts":     report.RunAt.Unix(),
			},
		},
	}

	return s.post(ctx, payload)
}

func (s *SlackChannel) ReportError(ctx context.Context, runErr error) error {
	payload := map[string]any{
		"text": "🚨 Audit run failed",
		"attachments": []map[string]any{
			{
				"color":  "warning",
				"text":   runErr.Error(),
				"footer": "VeilStream Audit",
				"ts":     time.Now().Unix(),
			},
		},
	}
	return s.post(ctx, payload)
}

func (s *SlackChannel) post(ctx context.Context, payload map[string]any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogChannel writes reports to the structured log. Used as the default
// when no webhook is configured, and in tests.
type LogChannel struct{}

// NewLogChannel creates a log-based reporting channel.
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

func (l *LogChannel) Type() string {
	return "log"
}

func (l *LogChannel) Report(_ context.Context, report *model.AuditReport) error {
	attrs := []any{
		slog.Time("run_at", report.RunAt),
		slog.Int("source_count", report.SourceCount),
		slog.Int("absent", report.AbsentCount),
		slog.Int("unhealthy", report.UnhealthyCount),
	}
	if report.AbsentCount+report.UnhealthyCount > 0 {
		slog.Warn("audit: gaps detected", attrs...)
		for _, gap := range report.Sample {
			slog.Warn("audit: gap",
				logging.EventID(gap.EventID),
				slog.String("kind", string(gap.Kind)),
				logging.Status(string(gap.Status)),
			)
		}
	} else {
		slog.Info("audit: clean run", attrs...)
	}
	return nil
}

func (l *LogChannel) ReportError(_ context.Context, runErr error) error {
	slog.Error("audit: run failed", logging.Error(runErr))
	return nil
}

// MultiChannel fans a report out to several channels. Delivery failures
// on one channel do not block the others.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel creates a channel that fans out to multiple channels.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

func (m *MultiChannel) Type() string {
	return "multi"
}

func (m *MultiChannel) Report(ctx context.Context, report *model.AuditReport) error {
	var lastErr error
	successCount := 0
	for _, ch := range m.channels {
		if err := ch.Report(ctx, report); err != nil {
			lastErr = fmt.Errorf("%s channel failed: %w", ch.Type(), err)
		} else {
			successCount++
		}
	}
	if successCount == 0 && len(m.channels) > 0 {
		return fmt.Errorf("all reporting channels failed: %w", lastErr)
	}
	return nil
}

func (m *MultiChannel) ReportError(ctx context.Context, runErr error) error {
	var lastErr error
	successCount := 0
	for _, ch := range m.channels {
		if err := ch.ReportError(ctx, runErr); err != nil {
			lastErr = fmt.Errorf("%s channel failed: %w", ch.Type(), err)
		} else {
			successCount++
		}
	}
	if successCount == 0 && len(m.channels) > 0 {
		return fmt.Errorf("all reporting channels failed: %w", lastErr)
	}
	return nil
}
