// Package instrumentation wires OpenTelemetry metrics and tracing for inboxbell.
//
// # Metrics
//
// Poller:
//   - poll_cycles_total, poll_cycle_duration_seconds
//   - poll_tenants_total{result}: ok, unavailable, list_failed, panic
//   - notifications_total{status}
//
// Commands:
//   - commands_total{command,status}, command_duration_seconds{command}
//
// External APIs (Gmail, Telegram, OpenAI):
//   - google_api_operations_total{service,operation,status}
//   - google_api_operation_duration_seconds
//
// OAuth:
//   - oauth_auth_total{result}, oauth_token_refresh_total{result}, linked_tenants
//
// HTTP front door:
//   - http_requests_total{method,path,status}, http_request_duration_seconds
//
// # Configuration
//
// DefaultConfig reads INSTRUMENTATION_ENABLED, METRICS_EXPORTER (prometheus, otlp,
// stdout), TRACING_EXPORTER (otlp, stdout, none), OTEL_EXPORTER_OTLP_ENDPOINT,
// OTEL_EXPORTER_OTLP_INSECURE, OTEL_TRACES_SAMPLER_ARG, OTEL_SERVICE_NAME and
// METRICS_DETAILED_LABELS.
//
// With the prometheus exporter the metrics land in the default Prometheus
// registry and are served by the dedicated metrics server in package server.
package instrumentation
