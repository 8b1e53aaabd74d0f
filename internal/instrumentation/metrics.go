package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrResult    = "result"
	attrTool      = "tool"
	attrUser      = "user_domain"
	attrEventType = "event_type"
	attrOutcome   = "outcome"
	attrReason    = "reason"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	// Payment gateway metrics
	gatewayOperationsTotal   metric.Int64Counter
	gatewayOperationDuration metric.Float64Histogram
	entitlementChecksTotal   metric.Int64Counter
	paymentOutcomesTotal     metric.Int64Counter

	// MCP Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// Telemetry delivery metrics
	telemetryQueuedTotal   metric.Int64Counter
	telemetryEventsTotal   metric.Int64Counter
	telemetryFlushDuration metric.Float64Histogram

	detailedLabels bool
}

var (
	latencyBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}
	remoteBuckets  = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}
)

// instrumentSet creates instruments on one meter and collects their errors.
type instrumentSet struct {
	meter metric.Meter
	errs  []error
}

func (s *instrumentSet) counter(name, description, unit string) metric.Int64Counter {
	c, err := s.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("failed to create %s counter: %w", name, err))
	}
	return c
}

func (s *instrumentSet) histogram(name, description string, buckets []float64) metric.Float64Histogram {
	h, err := s.meter.Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...))
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("failed to create %s histogram: %w", name, err))
	}
	return h
}

func (s *instrumentSet) gauge(name, description, unit string) metric.Int64UpDownCounter {
	g, err := s.meter.Int64UpDownCounter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("failed to create %s gauge: %w", name, err))
	}
	return g
}

// NewMetrics creates every instrument on meter. detailedLabels adds the
// caller's email domain to tool metrics.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	s := &instrumentSet{meter: meter}
	m := &Metrics{
		httpRequestsTotal:   s.counter("http_requests_total", "Total number of HTTP requests", "{request}"),
		httpRequestDuration: s.histogram("http_request_duration_seconds", "HTTP request duration in seconds", latencyBuckets),
		activeSessions:      s.gauge("active_sessions", "Number of active MCP sessions", "{session}"),

		gatewayOperationsTotal:   s.counter("payment_gateway_operations_total", "Total number of payment platform API calls", "{operation}"),
		gatewayOperationDuration: s.histogram("payment_gateway_operation_duration_seconds", "Payment platform API call duration in seconds", remoteBuckets),
		entitlementChecksTotal:   s.counter("payment_entitlement_checks_total", "Total number of paid tool entitlement checks", "{check}"),
		paymentOutcomesTotal:     s.counter("mcp_tool_payment_outcomes_total", "Total number of paid tool invocations by outcome", "{invocation}"),

		toolInvocationsTotal: s.counter("mcp_tool_invocations_total", "Total number of MCP tool invocations", "{invocation}"),
		toolDuration:         s.histogram("mcp_tool_duration_seconds", "MCP tool execution duration in seconds", remoteBuckets),

		telemetryQueuedTotal:   s.counter("telemetry_events_queued_total", "Total number of tool events queued for delivery", "{event}"),
		telemetryEventsTotal:   s.counter("telemetry_events_delivered_total", "Total number of tool events sent or dropped", "{event}"),
		telemetryFlushDuration: s.histogram("telemetry_flush_duration_seconds", "Duration of ingestion requests in seconds", remoteBuckets[:len(remoteBuckets)-1]),

		detailedLabels: detailedLabels,
	}
	if err := errors.Join(s.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, RouteLabel(path)),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordGatewayOperation records a payment platform call.
//
// Parameters:
//   - operation: Gateway operation (find_or_create_customer, list_checkout_sessions, ...)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the call
func (m *Metrics) RecordGatewayOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m.gatewayOperationsTotal == nil || m.gatewayOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.gatewayOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.gatewayOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordEntitlementCheck records the result of a paid tool entitlement check.
// Result should be one of: "paid", "unpaid", "error"
func (m *Metrics) RecordEntitlementCheck(ctx context.Context, toolName, result string) {
	if m.entitlementChecksTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrResult, result),
	}

	m.entitlementChecksTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentOutcome records how a paid tool invocation ended.
// Outcome should be one of: "required", "completed", "failed"
func (m *Metrics) RecordPaymentOutcome(ctx context.Context, toolName, outcome string) {
	if m.paymentOutcomesTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrOutcome, outcome),
	}

	m.paymentOutcomesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
//
// Parameters:
//   - toolName: Name of the MCP tool (e.g., "add", "premium_report")
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the tool execution
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	m.RecordToolInvocationWithUser(ctx, toolName, status, "", duration)
}

// RecordToolInvocationWithUser records an MCP tool invocation with the caller's
// email domain, which is only attached when detailedLabels is enabled.
func (m *Metrics) RecordToolInvocationWithUser(ctx context.Context, toolName, status, userDomain string, duration time.Duration) {
	if m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && userDomain != "" {
		attrs = append(attrs, attribute.String(attrUser, userDomain))
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, -1)
}

// RecordTelemetryQueued records one event accepted by the delivery queue.
func (m *Metrics) RecordTelemetryQueued(ctx context.Context, eventType string) {
	if m.telemetryQueuedTotal == nil {
		return
	}

	m.telemetryQueuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrEventType, eventType)))
}

// RecordTelemetryBatch records a delivery attempt.
//
// Parameters:
//   - outcome: "sent" or "dropped"
//   - reason: Drop reason (config, transport, http_status, malformed_response), empty when sent
//   - size: Number of events in the batch
//   - duration: Time taken for the ingestion request
func (m *Metrics) RecordTelemetryBatch(ctx context.Context, outcome, reason string, size int, duration time.Duration) {
	if m.telemetryEventsTotal == nil || m.telemetryFlushDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOutcome, outcome),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(attrReason, reason))
	}

	m.telemetryEventsTotal.Add(ctx, int64(size), metric.WithAttributes(attrs...))
	m.telemetryFlushDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}
