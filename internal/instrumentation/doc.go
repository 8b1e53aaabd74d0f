// Package instrumentation provides OpenTelemetry instrumentation for the
// toolmeter MCP server.
//
// It covers:
//   - OpenTelemetry metrics for HTTP requests, tool calls, payment gateway
//     calls and telemetry delivery
//   - Distributed tracing for tool invocations and payment gateway calls
//   - Prometheus metrics export via /metrics endpoint on dedicated port
//   - OTLP export support for modern observability platforms
//   - Audit logging of tool invocations, with caller emails reduced to
//     their domain unless AUDIT_LOGGING_INCLUDE_PII is set
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of active MCP sessions
//
// Payment Metrics:
//   - payment_gateway_operations_total: Counter of gateway calls by operation and status
//   - payment_gateway_operation_duration_seconds: Histogram of gateway call durations
//   - payment_entitlement_checks_total: Counter of entitlement checks by tool and result
//   - mcp_tool_payment_outcomes_total: Counter of paid tool outcomes (required, completed, failed)
//
// MCP Tool Metrics:
//   - mcp_tool_invocations_total: Counter of MCP tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of MCP tool execution durations
//
// Telemetry Delivery Metrics:
//   - telemetry_events_queued_total: Counter of queued events by event type
//   - telemetry_events_delivered_total: Counter of events by outcome (sent, dropped) and reason
//   - telemetry_flush_duration_seconds: Histogram of ingestion request durations
//
// # Tracing
//
// Distributed tracing spans are created for:
//   - MCP tool invocations (tool.<name>)
//   - Payment gateway calls (payments.<operation>)
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: toolmeter)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
//		ServiceName:     "toolmeter",
//		ServiceVersion:  "0.1.0",
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//		TracingExporter: instrumentation.ExporterNone,
//	})
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	recorder := provider.Metrics()
//	recorder.RecordGatewayOperation(ctx, "list_subscriptions", "success", time.Since(start))
//	recorder.RecordToolInvocation(ctx, "premium_report", "success", time.Since(start))
package instrumentation
