package common

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/toolmeter/internal/events"
	"github.com/teemow/toolmeter/internal/instrumentation"
	"github.com/teemow/toolmeter/internal/logging"
	"github.com/teemow/toolmeter/internal/payments"
	"github.com/teemow/toolmeter/internal/sanitize"
)

// Response statuses of a gated invocation that did not run the tool.
const (
	StatusPaymentRequired = "payment_required"
	StatusError           = "error"
)

// PaidToolConfig describes how a tool is sold.
type PaidToolConfig struct {
	// PaymentReason is shown to the caller when payment is required.
	PaymentReason string

	// Checkout is the session created for callers who have not paid.
	Checkout payments.CheckoutTemplate

	// MeterEvent, when set, makes the tool usage based: one unit is
	// recorded per entitled invocation.
	MeterEvent string

	// BillingEmail identifies the paying customer. When empty the caller's
	// email from the host is used.
	BillingEmail string

	// Gateway is the payment platform.
	Gateway payments.Gateway
}

// PaymentType is fixed per registration.
func (c PaidToolConfig) PaymentType() events.PaymentType {
	if c.MeterEvent != "" {
		return events.PaymentTypeUsageBased
	}
	return events.PaymentTypeOneTimeSubscription
}

// Validate reports a *payments.ConfigurationError for an unusable config.
func (c PaidToolConfig) Validate() error {
	if c.Gateway == nil {
		return &payments.ConfigurationError{Field: "gateway", Message: "a payment gateway is required"}
	}
	return c.Checkout.Validate()
}

// GateResponse is the structured content of a gated invocation that did not
// run the tool.
type GateResponse struct {
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	CheckoutURL       string `json:"checkoutUrl,omitempty"`
	CheckoutSessionID string `json:"checkoutSessionId,omitempty"`
	Message           string `json:"message"`
}

type paidTool struct {
	tool    string
	cfg     PaidToolConfig
	priceID string
	handler ToolHandler
	host    Host
	// obs is nil for a Passthrough wrapper.
	obs    *Instrumented
	logger *slog.Logger
}

func newPaidTool(tool string, cfg PaidToolConfig, handler ToolHandler, host Host, obs *Instrumented) (*paidTool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("paid tool %q: %w", tool, err)
	}
	logger := slog.Default()
	if obs != nil {
		logger = obs.logger
	}
	return &paidTool{
		tool:    tool,
		cfg:     cfg,
		priceID: cfg.Checkout.PriceID(),
		handler: handler,
		host:    host,
		obs:     obs,
		logger:  logging.WithTool(logger, tool),
	}, nil
}

// handle runs one gated invocation. Exactly one event is emitted:
// PaymentRequired, PaymentCompleted or PaymentFailed.
func (p *paidTool) handle(ctx context.Context, req mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	inv := capture(ctx, p.host, p.tool, req, p.logger)
	gwCtx, span := instrumentation.StartToolSpan(ctx, p.tool,
		inv.spanAttrs().WithPayment(p.priceID, string(p.cfg.PaymentType())).Build()...)
	defer span.End()

	email := p.cfg.BillingEmail
	if email == "" {
		email = inv.user.Email
	}

	defer func() {
		if r := recover(); r != nil {
			p.fail(gwCtx, inv, email, panicError(r))
			panic(r)
		}
	}()

	if email == "" {
		err := &payments.ConfigurationError{Field: "billingEmail", Message: "no billing email configured and the caller has no email"}
		p.fail(gwCtx, inv, email, err)
		return nil, err
	}

	customer, err := p.cfg.Gateway.FindOrCreateCustomer(gwCtx, email)
	if err != nil {
		p.fail(gwCtx, inv, email, err)
		return nil, err
	}
	instrumentation.AddSpanEvent(span, "customer.resolved",
		instrumentation.NewSpanAttributeBuilder().WithCustomer(customer.ID).Build()...)

	ent, err := payments.CheckEntitlement(gwCtx, p.cfg.Gateway, customer.ID, p.tool, p.priceID)
	p.recordEntitlement(gwCtx, ent.Paid, err)
	if err != nil {
		p.fail(gwCtx, inv, email, err)
		return nil, err
	}
	instrumentation.AddSpanEvent(span, "entitlement.checked",
		attribute.Bool(instrumentation.SpanAttrEntitled, ent.Paid))

	if !ent.Paid {
		return p.requirePayment(gwCtx, inv, customer.ID), nil
	}

	if p.cfg.MeterEvent != "" {
		if err := p.cfg.Gateway.RecordMeterEvent(gwCtx, payments.MeterEvent{
			EventName:  p.cfg.MeterEvent,
			CustomerID: customer.ID,
			Value:      1,
		}); err != nil {
			p.fail(gwCtx, inv, email, err)
			return nil, err
		}
	}

	result, err = p.handler(ctx, req)
	if err != nil {
		p.fail(gwCtx, inv, email, err)
		return result, err
	}

	p.complete(gwCtx, inv, customer.ID, result)
	return result, nil
}

// requirePayment emits PaymentRequired and creates a checkout session. A
// checkout failure degrades to an error payload instead of an error.
func (p *paidTool) requirePayment(ctx context.Context, inv *invocation, customerID string) *mcp.CallToolResult {
	if p.obs != nil {
		p.obs.finish(ctx, inv, &events.PaymentRequired{
			Base:        inv.base(p.host),
			CustomerID:  customerID,
			PaymentType: p.cfg.PaymentType(),
			PriceID:     p.priceID,
		}, nil, nil)
	}
	p.recordOutcome(ctx, instrumentation.PaymentOutcomeRequired)

	session, err := p.cfg.Gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		CustomerID: customerID,
		Template:   p.cfg.Checkout,
		Metadata:   map[string]string{payments.MetadataToolName: p.tool},
	})
	if err != nil {
		p.logger.Warn("failed to create checkout session",
			logging.Customer(customerID),
			logging.Err(err))
		return gateResult(GateResponse{
			Status:  StatusError,
			Message: fmt.Sprintf("Payment is required to use %s, but a checkout session could not be created: %v", p.tool, err),
		}, true)
	}

	return gateResult(GateResponse{
		Status:            StatusPaymentRequired,
		Reason:            p.cfg.PaymentReason,
		CheckoutURL:       session.URL,
		CheckoutSessionID: session.ID,
		Message:           fmt.Sprintf("Payment is required to use %s. Complete checkout at %s and call the tool again.", p.tool, session.URL),
	}, false)
}

// complete emits PaymentCompleted. Payment details come from a fresh
// entitlement lookup whose failure only omits them.
func (p *paidTool) complete(ctx context.Context, inv *invocation, customerID string, result *mcp.CallToolResult) {
	p.recordOutcome(ctx, instrumentation.PaymentOutcomeCompleted)
	if p.obs == nil {
		return
	}

	ev := &events.PaymentCompleted{
		Base:        inv.base(p.host),
		CustomerID:  customerID,
		PaymentType: p.cfg.PaymentType(),
		PriceID:     p.priceID,
	}
	ent, err := p.lookupDetails(ctx, customerID)
	if err != nil {
		p.logger.Debug("payment detail lookup failed", logging.Customer(customerID), logging.Err(err))
	} else {
		p.withPaymentDetails(ev, ent)
	}
	if p.obs.trackResults {
		ev.Result = sanitize.Result(result)
	}
	p.obs.finish(ctx, inv, ev, result, nil)
}

// lookupDetails re-checks entitlement after the handler ran. A panicking
// gateway is reported as an error.
func (p *paidTool) lookupDetails(ctx context.Context, customerID string) (ent payments.Entitlement, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return payments.CheckEntitlement(ctx, p.cfg.Gateway, customerID, p.tool, p.priceID)
}

func (p *paidTool) withPaymentDetails(ev *events.PaymentCompleted, ent payments.Entitlement) {
	switch {
	case ent.Session != nil:
		s := ent.Session
		ev.PaymentStatus = s.PaymentStatus
		ev.PaymentAmount = &s.AmountTotal
		ev.PaymentCurrency = &s.Currency
		ev.PaymentDate = &s.Created
		ev.PaymentSessionID = &s.ID
		if s.SubscriptionID != "" {
			ev.SubscriptionID = &s.SubscriptionID
		}
	case ent.Subscription != nil:
		sub := ent.Subscription
		ev.PaymentStatus = sub.Status
		ev.PaymentDate = &sub.Created
		ev.SubscriptionID = &sub.ID
		if item, ok := sub.PriceItem(p.priceID); ok {
			ev.PaymentAmount = &item.UnitAmount
			ev.PaymentCurrency = &item.Currency
		}
	}
}

// fail emits PaymentFailed. The customer is resolved again and left empty
// when that fails too.
func (p *paidTool) fail(ctx context.Context, inv *invocation, email string, err error) {
	p.recordOutcome(ctx, instrumentation.PaymentOutcomeFailed)
	p.logger.Debug("paid invocation failed",
		logging.UserHash(email),
		logging.RequestID(inv.requestID),
		logging.Err(err))
	if p.obs == nil {
		return
	}

	var customerID string
	if email != "" {
		func() {
			defer func() { _ = recover() }()
			if c, lookupErr := p.cfg.Gateway.FindOrCreateCustomer(ctx, email); lookupErr == nil && c != nil {
				customerID = c.ID
			}
		}()
	}

	p.obs.finish(ctx, inv, &events.PaymentFailed{
		Base:         inv.base(p.host),
		ErrorType:    errorKind(err),
		ErrorMessage: err.Error(),
		CustomerID:   customerID,
		PaymentType:  p.cfg.PaymentType(),
		PriceID:      p.priceID,
	}, nil, err)
}

func (p *paidTool) recordEntitlement(ctx context.Context, paid bool, err error) {
	if p.obs != nil && p.obs.metrics != nil {
		p.obs.metrics.RecordEntitlementCheck(ctx, p.tool, instrumentation.EntitlementResult(paid, err))
	}
}

func (p *paidTool) recordOutcome(ctx context.Context, outcome string) {
	if p.obs != nil && p.obs.metrics != nil {
		p.obs.metrics.RecordPaymentOutcome(ctx, p.tool, outcome)
	}
}

// gateResult renders resp as both text and structured content.
func gateResult(resp GateResponse, isError bool) *mcp.CallToolResult {
	text, err := json.Marshal(resp)
	if err != nil {
		text = []byte(resp.Message)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.NewTextContent(string(text))},
		StructuredContent: resp,
		IsError:           isError,
	}
}
