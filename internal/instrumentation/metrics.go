package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrCommand   = "command"
	attrTenant    = "tenant"
)

// Metrics records poller, command, external API and HTTP metrics.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	pollCyclesTotal   metric.Int64Counter
	pollCycleDuration metric.Float64Histogram
	pollTenantsTotal  metric.Int64Counter
	notificationsSent metric.Int64Counter

	commandsTotal   metric.Int64Counter
	commandDuration metric.Float64Histogram

	apiOperationsTotal   metric.Int64Counter
	apiOperationDuration metric.Float64Histogram

	oauthAuthTotal         metric.Int64Counter
	oauthTokenRefreshTotal metric.Int64Counter
	linkedTenants          metric.Int64UpDownCounter

	detailedLabels bool
}

var (
	durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}
	httpBuckets     = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}
)

// NewMetrics creates every instrument on meter.
// detailedLabels controls whether the tenant label is attached to per-tenant metrics.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error
	counter := func(dst *metric.Int64Counter, name, desc, unit string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("failed to create %s counter: %w", name, err)
		}
	}
	histogram := func(dst *metric.Float64Histogram, name, desc string, buckets []float64) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
		if err != nil {
			err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		}
	}

	counter(&m.httpRequestsTotal, "http_requests_total", "Total number of HTTP requests", "{request}")
	histogram(&m.httpRequestDuration, "http_request_duration_seconds", "HTTP request duration in seconds", httpBuckets)

	counter(&m.pollCyclesTotal, "poll_cycles_total", "Total number of completed poll cycles", "{cycle}")
	histogram(&m.pollCycleDuration, "poll_cycle_duration_seconds", "Poll cycle duration in seconds", durationBuckets)
	counter(&m.pollTenantsTotal, "poll_tenants_total", "Tenants visited by the poller, by result", "{tenant}")
	counter(&m.notificationsSent, "notifications_total", "Important-mail notifications attempted", "{notification}")

	counter(&m.commandsTotal, "commands_total", "Chat commands handled", "{command}")
	histogram(&m.commandDuration, "command_duration_seconds", "Chat command handling duration in seconds", durationBuckets)

	counter(&m.apiOperationsTotal, "google_api_operations_total", "External API operations", "{operation}")
	histogram(&m.apiOperationDuration, "google_api_operation_duration_seconds", "External API operation duration in seconds", durationBuckets)

	counter(&m.oauthAuthTotal, "oauth_auth_total", "Total number of OAuth login completions", "{attempt}")
	counter(&m.oauthTokenRefreshTotal, "oauth_token_refresh_total", "Total number of OAuth token refresh attempts", "{attempt}")
	if err != nil {
		return nil, err
	}

	m.linkedTenants, err = meter.Int64UpDownCounter("linked_tenants",
		metric.WithDescription("Number of chats with stored mailbox credentials"),
		metric.WithUnit("{tenant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create linked_tenants counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records a front door request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPollCycle records one full pass over all tenants.
func (m *Metrics) RecordPollCycle(ctx context.Context, status string, duration time.Duration) {
	if m == nil || m.pollCyclesTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrStatus, status))
	m.pollCyclesTotal.Add(ctx, 1, attrs)
	m.pollCycleDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPollTenant records the outcome of polling one tenant.
// result is one of the TenantResult* constants.
func (m *Metrics) RecordPollTenant(ctx context.Context, tenant int64, result string) {
	if m == nil || m.pollTenantsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String(attrResult, result)}
	if m.detailedLabels {
		attrs = append(attrs, attribute.Int64(attrTenant, tenant))
	}
	m.pollTenantsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNotification records one notification send attempt.
func (m *Metrics) RecordNotification(ctx context.Context, status string) {
	if m == nil || m.notificationsSent == nil {
		return
	}
	m.notificationsSent.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordCommand records one dispatched chat command.
// command must already be a bounded value (a known command name or "unknown").
func (m *Metrics) RecordCommand(ctx context.Context, command, status string, duration time.Duration) {
	if m == nil || m.commandsTotal == nil {
		return
	}

	m.commandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrCommand, command),
		attribute.String(attrStatus, status),
	))
	m.commandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrCommand, command)))
}

// RecordAPIOperation records a call to Gmail, Telegram or the summarization API.
func (m *Metrics) RecordAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.apiOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.apiOperationsTotal.Add(ctx, 1, attrs)
	m.apiOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordOAuthAuth records a login completion. Result is success or failure.
func (m *Metrics) RecordOAuthAuth(ctx context.Context, result string) {
	if m == nil || m.oauthAuthTotal == nil {
		return
	}
	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthTokenRefresh records a refresh attempt. Result is success or failure.
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return
	}
	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// IncrementLinkedTenants is called the first time a tenant is linked.
func (m *Metrics) IncrementLinkedTenants(ctx context.Context) {
	if m == nil || m.linkedTenants == nil {
		return
	}
	m.linkedTenants.Add(ctx, 1)
}

// StatusFor maps an error to StatusSuccess or StatusError.
func StatusFor(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
