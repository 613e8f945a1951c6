// Package alert delivers operator notifications for sequencer incidents:
// halted sealing, unhealthy watchers, reorgs past the confirmation horizon
// and reconciliation mismatches. Delivery is fire-and-forget from the
// caller's point of view; a dead Slack webhook must never stall the
// pipeline that is trying to report a problem.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Alert17/zkclear-core/internal/metrics"
)

// AlertType categorizes the kind of alert.
type AlertType string

const (
	AlertTypeSealingHalted    AlertType = "SEALING_HALTED"
	AlertTypeWatcherUnhealthy AlertType = "WATCHER_UNHEALTHY"
	AlertTypeRecovery         AlertType = "RECOVERY"
	AlertTypeReorg            AlertType = "REORG"
	AlertTypeReconcileErr     AlertType = "RECONCILE_MISMATCH"
)

// Alert is one notable event. Component names the subsystem it came from
// ("producer", "watcher:ethereum", ...) and doubles as the cooldown scope.
type Alert struct {
	Type      AlertType
	Component string
	Title     string
	Message   string
	Fields    map[string]string
}

// Alerter is what the rest of the sequencer depends on.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Channel is one delivery target. Name identifies it in logs and metrics.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// MultiAlerter fans one alert out to every configured channel, suppressing
// repeats of the same (type, component) pair within the cooldown window.
type MultiAlerter struct {
	channels []Channel
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, channels ...Channel) *MultiAlerter {
	return &MultiAlerter{
		channels: channels,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Send delivers alert on every channel concurrently. It returns the first
// delivery error, after all channels have been tried.
func (m *MultiAlerter) Send(ctx context.Context, a Alert) error {
	if m.onCooldown(a) {
		m.logger.Debug("alert suppressed by cooldown", "type", a.Type, "alert_component", a.Component)
		for _, ch := range m.channels {
			metrics.AlertsCooldownSkipped.WithLabelValues(ch.Name(), string(a.Type)).Inc()
		}
		return nil
	}

	var g errgroup.Group
	for _, ch := range m.channels {
		ch := ch
		g.Go(func() error {
			if err := ch.Send(ctx, a); err != nil {
				m.logger.Warn("alert delivery failed",
					"channel", ch.Name(),
					"type", a.Type,
					"error", err,
				)
				return err
			}
			metrics.AlertsSentTotal.WithLabelValues(ch.Name(), string(a.Type)).Inc()
			return nil
		})
	}
	return g.Wait()
}

// onCooldown records the send attempt and reports whether the previous one
// for the same key was too recent.
func (m *MultiAlerter) onCooldown(a Alert) bool {
	key := string(a.Type) + ":" + a.Component
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
		return true
	}
	m.lastSent[key] = now
	return false
}

var slackEmoji = map[AlertType]string{
	AlertTypeSealingHalted:    ":octagonal_sign:",
	AlertTypeWatcherUnhealthy: ":warning:",
	AlertTypeRecovery:         ":white_check_mark:",
	AlertTypeReorg:            ":rotating_light:",
	AlertTypeReconcileErr:     ":scales:",
}

// SlackAlerter posts alerts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackAlerter) Name() string { return "slack" }

func (s *SlackAlerter) Send(ctx context.Context, a Alert) error {
	payload := struct {
		Text string `json:"text"`
	}{Text: slackText(a)}

	if err := postJSON(ctx, s.client, s.webhookURL, payload); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

// slackText renders the alert as one mrkdwn message. Fields are emitted in
// sorted order so repeated alerts render identically.
func slackText(a Alert) string {
	emoji, ok := slackEmoji[a.Type]
	if !ok {
		emoji = ":warning:"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s]* %s: %s", emoji, a.Type, a.Component, a.Title)
	if a.Message != "" {
		b.WriteString("\n")
		b.WriteString(a.Message)
	}
	for _, k := range sortedKeys(a.Fields) {
		fmt.Fprintf(&b, "\n> *%s*: %s", k, a.Fields[k])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WebhookAlerter posts alerts to a generic HTTP endpoint as JSON.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookAlerter) Name() string { return "webhook" }

type webhookPayload struct {
	Type      string            `json:"type"`
	Component string            `json:"component"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	SentAt    time.Time         `json:"sent_at"`
}

func (w *WebhookAlerter) Send(ctx context.Context, a Alert) error {
	payload := webhookPayload{
		Type:      string(a.Type),
		Component: a.Component,
		Title:     a.Title,
		Message:   a.Message,
		Fields:    a.Fields,
		SentAt:    time.Now().UTC(),
	}

	if err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// postJSON delivers payload to url and treats any non-2xx reply as an
// error. The response body is drained so the connection can be reused.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// NoopAlerter swallows alerts. It stands in when no channel is configured.
type NoopAlerter struct{}

func (NoopAlerter) Send(context.Context, Alert) error { return nil }
