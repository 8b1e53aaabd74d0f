package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for toolmeter.
const TracerName = "github.com/teemow/toolmeter"

// Span attribute keys for operations.
const (
	// SpanAttrTool is the MCP tool name attribute.
	SpanAttrTool = "mcp.tool"

	// SpanAttrRequestID is the per-invocation request id attribute.
	SpanAttrRequestID = "mcp.request_id"

	// SpanAttrSession is the MCP session id attribute.
	SpanAttrSession = "mcp.session_id"

	// SpanAttrUserDomain is the caller's email domain attribute.
	SpanAttrUserDomain = "mcp.user_domain"

	// SpanAttrStatus is the operation status attribute.
	SpanAttrStatus = "mcp.status"

	// SpanAttrGatewayOperation is the payment gateway operation attribute.
	SpanAttrGatewayOperation = "payments.operation"

	// SpanAttrCustomer is the payment platform customer id attribute.
	SpanAttrCustomer = "payments.customer_id"

	// SpanAttrPriceID is the price id of a paid tool.
	SpanAttrPriceID = "payments.price_id"

	// SpanAttrPaymentType is the billing model of a paid tool.
	SpanAttrPaymentType = "payments.payment_type"

	// SpanAttrEntitled records the entitlement decision.
	SpanAttrEntitled = "payments.entitled"
)

// SpanAttributeBuilder collects span attributes. Empty values are skipped.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{}
}

// WithTool adds the MCP tool name attribute.
func (b *SpanAttributeBuilder) WithTool(tool string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrTool, tool))
	return b
}

// WithRequestID adds the request id attribute.
func (b *SpanAttributeBuilder) WithRequestID(id string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrRequestID, id))
	}
	return b
}

// WithSession adds the MCP session id attribute.
func (b *SpanAttributeBuilder) WithSession(id string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrSession, id))
	}
	return b
}

// WithUserDomain adds the caller's email domain. The full address is never
// attached to spans.
func (b *SpanAttributeBuilder) WithUserDomain(email string) *SpanAttributeBuilder {
	if email != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrUserDomain, ExtractUserDomain(email)))
	}
	return b
}

// WithPayment adds the paid tool attributes.
func (b *SpanAttributeBuilder) WithPayment(priceID, paymentType string) *SpanAttributeBuilder {
	if priceID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrPriceID, priceID))
	}
	if paymentType != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrPaymentType, paymentType))
	}
	return b
}

// WithCustomer adds the payment platform customer id.
func (b *SpanAttributeBuilder) WithCustomer(customerID string) *SpanAttributeBuilder {
	if customerID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrCustomer, customerID))
	}
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartToolSpan starts a server span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, "tool."+toolName, trace.SpanKindServer, attribute.String(SpanAttrTool, toolName), attrs)
}

// StartGatewaySpan starts a client span for a payment platform call.
func StartGatewaySpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, "payments."+operation, trace.SpanKindClient, attribute.String(SpanAttrGatewayOperation, operation), attrs)
}

func startSpan(ctx context.Context, name string, kind trace.SpanKind, first attribute.KeyValue, rest []attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{first}, rest...)
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(kind),
	)
}

// SetSpanError records err on the span and marks it failed. A nil err is ignored.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds a named event to the span.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
