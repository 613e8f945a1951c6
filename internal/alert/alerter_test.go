package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubChannel counts deliveries and fails on demand, so MultiAlerter logic
// is testable without HTTP servers.
type stubChannel struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(context.Context, Alert) error {
	s.calls.Add(1)
	return s.err
}

type manualClock struct{ at time.Time }

func newManualClock() *manualClock {
	return &manualClock{at: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) now() time.Time          { return c.at }
func (c *manualClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func watcherAlert() Alert {
	return Alert{
		Type:      AlertTypeWatcherUnhealthy,
		Component: "watcher:ethereum",
		Title:     "Deposit watcher unreachable",
		Message:   "RPC endpoint is not responding",
		Fields: map[string]string{
			"downtime": "5m",
			"endpoint": "https://eth.example.com",
		},
	}
}

func TestMultiAlerter_FansOutToAllChannels(t *testing.T) {
	slack := &stubChannel{name: "slack"}
	webhook := &stubChannel{name: "webhook"}
	multi := NewMultiAlerter(time.Hour, testLogger(), slack, webhook)

	require.NoError(t, multi.Send(context.Background(), watcherAlert()))

	assert.Equal(t, int32(1), slack.calls.Load())
	assert.Equal(t, int32(1), webhook.calls.Load())
}

func TestMultiAlerter_DeliversEverywhereDespiteOneFailure(t *testing.T) {
	broken := &stubChannel{name: "slack", err: errors.New("slack: endpoint returned 500")}
	healthy := &stubChannel{name: "webhook"}
	multi := NewMultiAlerter(time.Hour, testLogger(), broken, healthy)

	err := multi.Send(context.Background(), watcherAlert())

	require.Error(t, err)
	assert.Equal(t, int32(1), healthy.calls.Load(), "the healthy channel still gets the alert")
}

func TestMultiAlerter_CooldownSuppressesRepeats(t *testing.T) {
	ch := &stubChannel{name: "webhook"}
	clk := newManualClock()
	multi := NewMultiAlerter(time.Minute, testLogger(), ch)
	multi.now = clk.now

	a := watcherAlert()

	require.NoError(t, multi.Send(context.Background(), a))
	require.NoError(t, multi.Send(context.Background(), a), "suppressed sends report success")
	assert.Equal(t, int32(1), ch.calls.Load())

	clk.advance(59 * time.Second)
	require.NoError(t, multi.Send(context.Background(), a))
	assert.Equal(t, int32(1), ch.calls.Load(), "still inside the window")

	clk.advance(time.Second)
	require.NoError(t, multi.Send(context.Background(), a))
	assert.Equal(t, int32(2), ch.calls.Load(), "the window has elapsed")
}

func TestMultiAlerter_CooldownScopedToTypeAndComponent(t *testing.T) {
	ch := &stubChannel{name: "webhook"}
	multi := NewMultiAlerter(time.Hour, testLogger(), ch)

	base := watcherAlert()
	otherChain := watcherAlert()
	otherChain.Component = "watcher:mantle"
	recovered := watcherAlert()
	recovered.Type = AlertTypeRecovery

	require.NoError(t, multi.Send(context.Background(), base))
	require.NoError(t, multi.Send(context.Background(), otherChain))
	require.NoError(t, multi.Send(context.Background(), recovered))

	assert.Equal(t, int32(3), ch.calls.Load(), "distinct components and types never share a window")
}

func TestSlackText_RendersSortedFields(t *testing.T) {
	got := slackText(watcherAlert())

	want := ":warning: *[WATCHER_UNHEALTHY]* watcher:ethereum: Deposit watcher unreachable\n" +
		"RPC endpoint is not responding\n" +
		"> *downtime*: 5m\n" +
		"> *endpoint*: https://eth.example.com"
	assert.Equal(t, want, got)
}

func TestSlackText_EmojiPerType(t *testing.T) {
	tests := []struct {
		alertType AlertType
		emoji     string
	}{
		{AlertTypeSealingHalted, ":octagonal_sign:"},
		{AlertTypeWatcherUnhealthy, ":warning:"},
		{AlertTypeRecovery, ":white_check_mark:"},
		{AlertTypeReorg, ":rotating_light:"},
		{AlertTypeReconcileErr, ":scales:"},
		{AlertType("SOMETHING_NEW"), ":warning:"},
	}

	for _, tt := range tests {
		t.Run(string(tt.alertType), func(t *testing.T) {
			text := slackText(Alert{Type: tt.alertType, Component: "producer", Title: "t"})
			assert.True(t, strings.HasPrefix(text, tt.emoji), "got %q", text)
		})
	}
}

func TestSlackAlerter_PostsJSON(t *testing.T) {
	var body []byte
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	slack := NewSlackAlerter(srv.URL)
	require.Equal(t, "slack", slack.Name())
	require.NoError(t, slack.Send(context.Background(), watcherAlert()))

	assert.Equal(t, "application/json", contentType)

	var payload struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Contains(t, payload.Text, "WATCHER_UNHEALTHY")
	assert.Contains(t, payload.Text, "Deposit watcher unreachable")
}

func TestWebhookAlerter_PayloadShape(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	webhook := NewWebhookAlerter(srv.URL)
	require.Equal(t, "webhook", webhook.Name())

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, webhook.Send(context.Background(), Alert{
		Type:      AlertTypeReconcileErr,
		Component: "reconciler",
		Title:     "Balance conservation mismatch",
		Message:   "ledger total differs from net inflow for asset 7",
		Fields:    map[string]string{"asset_id": "7", "diff": "-100"},
	}))

	var payload struct {
		Type      string            `json:"type"`
		Component string            `json:"component"`
		Title     string            `json:"title"`
		Message   string            `json:"message"`
		Fields    map[string]string `json:"fields"`
		SentAt    time.Time         `json:"sent_at"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))

	assert.Equal(t, "RECONCILE_MISMATCH", payload.Type)
	assert.Equal(t, "reconciler", payload.Component)
	assert.Equal(t, "Balance conservation mismatch", payload.Title)
	assert.Equal(t, map[string]string{"asset_id": "7", "diff": "-100"}, payload.Fields)
	assert.False(t, payload.SentAt.Before(before))
	assert.WithinDuration(t, time.Now().UTC(), payload.SentAt, 5*time.Second)
}

func TestChannels_RejectNon2xx(t *testing.T) {
	for _, status := range []int{http.StatusMovedPermanently, http.StatusBadRequest, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		err := NewWebhookAlerter(srv.URL).Send(context.Background(), watcherAlert())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "returned")

		srv.Close()
	}
}

func TestChannels_HonorContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server arms its client-disconnect watcher;
		// without this the cancellation below is never observed and the
		// handler (and deferred Close) would block forever.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewSlackAlerter(srv.URL).Send(ctx, watcherAlert())
	require.Error(t, err)
}

func TestNoopAlerter_AlwaysSucceeds(t *testing.T) {
	assert.NoError(t, (&NoopAlerter{}).Send(context.Background(), watcherAlert()))
}
