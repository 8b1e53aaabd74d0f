package payments

import (
	"context"
	"time"

	"github.com/teemow/toolmeter/internal/instrumentation"
)

// OperationRecorder records gateway call metrics. instrumentation.Metrics
// implements it.
type OperationRecorder interface {
	RecordGatewayOperation(ctx context.Context, operation, status string, duration time.Duration)
}

// InstrumentedGateway wraps a Gateway with a span and a metric per call.
type InstrumentedGateway struct {
	next     Gateway
	recorder OperationRecorder
}

// NewInstrumentedGateway decorates next. A nil recorder disables metrics;
// spans are always started against the global tracer provider.
func NewInstrumentedGateway(next Gateway, recorder OperationRecorder) *InstrumentedGateway {
	return &InstrumentedGateway{next: next, recorder: recorder}
}

func (g *InstrumentedGateway) observe(ctx context.Context, op string, call func(ctx context.Context) error) error {
	ctx, span := instrumentation.StartGatewaySpan(ctx, op)
	defer span.End()

	start := time.Now()
	err := call(ctx)
	duration := time.Since(start)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if g.recorder != nil {
		g.recorder.RecordGatewayOperation(ctx, op, status, duration)
	}
	return err
}

func (g *InstrumentedGateway) FindOrCreateCustomer(ctx context.Context, email string) (*Customer, error) {
	var out *Customer
	err := g.observe(ctx, OpFindOrCreateCustomer, func(ctx context.Context) error {
		var err error
		out, err = g.next.FindOrCreateCustomer(ctx, email)
		return err
	})
	return out, err
}

func (g *InstrumentedGateway) ListCheckoutSessions(ctx context.Context, customerID string) ([]CheckoutSession, error) {
	var out []CheckoutSession
	err := g.observe(ctx, OpListCheckoutSessions, func(ctx context.Context) error {
		var err error
		out, err = g.next.ListCheckoutSessions(ctx, customerID)
		return err
	})
	return out, err
}

func (g *InstrumentedGateway) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	var out []Subscription
	err := g.observe(ctx, OpListSubscriptions, func(ctx context.Context) error {
		var err error
		out, err = g.next.ListSubscriptions(ctx, customerID)
		return err
	})
	return out, err
}

func (g *InstrumentedGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	var out *CheckoutSession
	err := g.observe(ctx, OpCreateCheckoutSession, func(ctx context.Context) error {
		var err error
		out, err = g.next.CreateCheckoutSession(ctx, req)
		return err
	})
	return out, err
}

func (g *InstrumentedGateway) RecordMeterEvent(ctx context.Context, ev MeterEvent) error {
	return g.observe(ctx, OpRecordMeterEvent, func(ctx context.Context) error {
		return g.next.RecordMeterEvent(ctx, ev)
	})
}
