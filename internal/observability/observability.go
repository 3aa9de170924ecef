// Package observability implements the error-reporting and analytics
// sinks named in spec.md §6 as external collaborators reached only
// through contracts.ErrorReporter / contracts.AnalyticsSink. Grounded on
// the teacher's internal/notify.Service: a best-effort HTTP POST per
// event, failures logged and swallowed, never propagated to the caller.
package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// NoopErrorReporter discards every report. Used when no DSN is
// configured (spec §6: "absence disables the corresponding capability
// rather than failing").
type NoopErrorReporter struct{}

func (NoopErrorReporter) ReportError(context.Context, error, map[string]string) {}

// NoopAnalyticsSink discards every event.
type NoopAnalyticsSink struct{}

func (NoopAnalyticsSink) Track(context.Context, string, map[string]any) {}

// WebhookErrorReporter POSTs a JSON envelope to dsn for every reported
// error. One shared http.Client; never blocks the caller past its
// timeout, and never returns an error itself (ReportError has no return
// value to propagate one to).
type WebhookErrorReporter struct {
	dsn    string
	client *http.Client
}

func NewWebhookErrorReporter(dsn string) *WebhookErrorReporter {
	return &WebhookErrorReporter{dsn: dsn, client: &http.Client{Timeout: 5 * time.Second}}
}

type errorReport struct {
	Message   string            `json:"message"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func (r *WebhookErrorReporter) ReportError(ctx context.Context, err error, tags map[string]string) {
	body, marshalErr := json.Marshal(errorReport{Message: err.Error(), Tags: tags, Timestamp: time.Now().UTC()})
	if marshalErr != nil {
		log.Warn().Err(marshalErr).Msg("observability: failed to marshal error report")
		return
	}
	r.post(ctx, body)
}

func (r *WebhookErrorReporter) post(ctx context.Context, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.dsn, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("observability: failed to build error report request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("observability: error report delivery failed")
		return
	}
	defer resp.Body.Close()
}

// AnalyticsWebhookSink POSTs coarse usage events to an analytics
// collector, keyed by analyticsKey (spec §6).
type AnalyticsWebhookSink struct {
	endpoint string
	key      string
	client   *http.Client
}

func NewAnalyticsWebhookSink(endpoint, key string) *AnalyticsWebhookSink {
	return &AnalyticsWebhookSink{endpoint: endpoint, key: key, client: &http.Client{Timeout: 5 * time.Second}}
}

type analyticsEvent struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (s *AnalyticsWebhookSink) Track(ctx context.Context, event string, properties map[string]any) {
	body, err := json.Marshal(analyticsEvent{Event: event, Properties: properties, Timestamp: time.Now().UTC()})
	if err != nil {
		log.Warn().Err(err).Msg("observability: failed to marshal analytics event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("observability: failed to build analytics request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("observability: analytics delivery failed")
		return
	}
	defer resp.Body.Close()
}

// NewErrorReporter returns a NoopErrorReporter when dsn is empty,
// otherwise a WebhookErrorReporter, matching spec §6's "absence disables
// the corresponding capability rather than failing."
func NewErrorReporter(dsn string) contracts.ErrorReporter {
	if dsn == "" {
		return NoopErrorReporter{}
	}
	return NewWebhookErrorReporter(dsn)
}

// NewAnalyticsSink returns a NoopAnalyticsSink when key is empty,
// otherwise an AnalyticsWebhookSink pointed at endpoint.
func NewAnalyticsSink(endpoint, key string) contracts.AnalyticsSink {
	if key == "" {
		return NoopAnalyticsSink{}
	}
	return NewAnalyticsWebhookSink(endpoint, key)
}
