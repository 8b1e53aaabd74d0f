package common

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/toolmeter/internal/events"
	"github.com/teemow/toolmeter/internal/payments"
	"github.com/teemow/toolmeter/internal/payments/paymentstest"
	"github.com/teemow/toolmeter/internal/telemetry"
)

const (
	testPaidTool     = "premium_report"
	testBillingEmail = "billing@example.com"
	testPriceID      = "price_1"
)

type paidFixture struct {
	gw      *paymentstest.Gateway
	queue   *recordingQueue
	calls   int
	result  *mcp.CallToolResult
	err     error
	handler ToolHandler
}

func newPaidFixture(t *testing.T, mutate func(*PaidToolConfig)) *paidFixture {
	t.Helper()
	f := &paidFixture{
		gw:     paymentstest.New(),
		queue:  &recordingQueue{},
		result: mcp.NewToolResultText("report ready"),
	}
	f.gw.AddCustomer("cus_1", testBillingEmail)

	cfg := PaidToolConfig{
		PaymentReason: "Premium reports are a paid feature",
		Checkout: payments.CheckoutTemplate{
			Mode:       payments.ModePayment,
			LineItems:  []payments.LineItem{{PriceID: testPriceID, Quantity: 1}},
			SuccessURL: "https://example.com/success",
			CancelURL:  "https://example.com/cancel",
		},
		BillingEmail: testBillingEmail,
		Gateway:      f.gw,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	handler, err := NewWrapper(enabledConfig(), newHost(), f.queue).WrapPaid(testPaidTool, cfg,
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			f.calls++
			return f.result, f.err
		})
	require.NoError(t, err)
	f.handler = handler
	return f
}

func (f *paidFixture) call(t *testing.T) (*mcp.CallToolResult, error) {
	t.Helper()
	return f.handler(context.Background(), callRequest(testPaidTool, map[string]any{"period": "2026-Q3"}))
}

func (f *paidFixture) onlyEvent(t *testing.T) events.Event {
	t.Helper()
	evs := f.queue.all()
	require.Len(t, evs, 1, "exactly one event per invocation")
	return evs[0]
}

func (f *paidFixture) addPaidSession(tool string) {
	f.gw.AddSession("cus_1", payments.CheckoutSession{
		ID:            "cs_1",
		PaymentStatus: payments.PaymentStatusPaid,
		AmountTotal:   2999,
		Currency:      "usd",
		Metadata:      map[string]string{payments.MetadataToolName: tool},
		Created:       time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	})
}

func gateResponse(t *testing.T, res *mcp.CallToolResult) GateResponse {
	t.Helper()
	resp, ok := res.StructuredContent.(GateResponse)
	require.True(t, ok, "structured content is %T", res.StructuredContent)
	return resp
}

func TestWrapPaid_RejectsInvalidConfig(t *testing.T) {
	w := NewWrapper(enabledConfig(), newHost(), &recordingQueue{})
	noop := func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return nil, nil }

	tests := []struct {
		name  string
		cfg   PaidToolConfig
		field string
	}{
		{"no price", PaidToolConfig{Gateway: paymentstest.New(), Checkout: payments.CheckoutTemplate{LineItems: []payments.LineItem{{Quantity: 1}}}}, "checkout.lineItems"},
		{"no line items", PaidToolConfig{Gateway: paymentstest.New()}, "checkout.lineItems"},
		{"no gateway", PaidToolConfig{Checkout: payments.CheckoutTemplate{LineItems: []payments.LineItem{{PriceID: testPriceID}}}}, "gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, err := w.WrapPaid(testPaidTool, tt.cfg, noop)
			assert.Nil(t, handler)
			var cfgErr *payments.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestPaidTool_PaymentRequired(t *testing.T) {
	f := newPaidFixture(t, nil)

	res, err := f.call(t)
	require.NoError(t, err)
	assert.Zero(t, f.calls, "handler must not run for an unentitled customer")
	assert.False(t, res.IsError)

	resp := gateResponse(t, res)
	assert.Equal(t, StatusPaymentRequired, resp.Status)
	assert.Equal(t, "Premium reports are a paid feature", resp.Reason)
	assert.True(t, strings.HasPrefix(resp.CheckoutURL, "https://checkout.example.com/c/pay/"))
	assert.NotEmpty(t, resp.CheckoutSessionID)
	assert.Contains(t, res.Content[0].(mcp.TextContent).Text, `"status":"payment_required"`)

	reqs := f.gw.CheckoutRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "cus_1", reqs[0].CustomerID)
	assert.Equal(t, testPaidTool, reqs[0].MergedMetadata()[payments.MetadataToolName])

	ev, ok := f.onlyEvent(t).(*events.PaymentRequired)
	require.True(t, ok)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, testPriceID, ev.PriceID)
	assert.Equal(t, events.PaymentTypeOneTimeSubscription, ev.PaymentType)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"eventType":"mcp.tool.payment_required"`)
	assert.Contains(t, string(raw), `"paymentStatus":"required"`)
}

func TestPaidTool_CheckoutFailureDegrades(t *testing.T) {
	f := newPaidFixture(t, nil)
	f.gw.FailOn(payments.OpCreateCheckoutSession, errors.New("stripe unavailable"))

	res, err := f.call(t)
	require.NoError(t, err, "checkout failure must not surface as an error")
	assert.Zero(t, f.calls)
	assert.True(t, res.IsError)

	resp := gateResponse(t, res)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Message, "stripe unavailable")
	assert.Empty(t, resp.CheckoutURL)

	assert.IsType(t, &events.PaymentRequired{}, f.onlyEvent(t))
}

func TestPaidTool_EntitledBySession(t *testing.T) {
	f := newPaidFixture(t, nil)
	f.addPaidSession(testPaidTool)

	res, err := f.call(t)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.Same(t, f.result, res)
	assert.Zero(t, f.gw.Calls(payments.OpCreateCheckoutSession))

	ev, ok := f.onlyEvent(t).(*events.PaymentCompleted)
	require.True(t, ok)
	assert.True(t, events.Success(ev))
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, payments.PaymentStatusPaid, ev.PaymentStatus)
	require.NotNil(t, ev.PaymentAmount)
	assert.Equal(t, int64(2999), *ev.PaymentAmount)
	require.NotNil(t, ev.PaymentCurrency)
	assert.Equal(t, "usd", *ev.PaymentCurrency)
	require.NotNil(t, ev.PaymentSessionID)
	assert.Equal(t, "cs_1", *ev.PaymentSessionID)
	require.NotNil(t, ev.PaymentDate)
	assert.Nil(t, ev.SubscriptionID)
	assert.NotNil(t, ev.Result)
}

func TestPaidTool_EntitledBySubscription(t *testing.T) {
	f := newPaidFixture(t, nil)
	f.gw.AddSubscription("cus_1", payments.Subscription{
		ID:     "sub_1",
		Status: "active",
		Items:  []payments.SubscriptionItem{{ID: "si_1", PriceID: testPriceID, UnitAmount: 999, Currency: "eur"}},
	})

	res, err := f.call(t)
	require.NoError(t, err)
	assert.Same(t, f.result, res)

	ev, ok := f.onlyEvent(t).(*events.PaymentCompleted)
	require.True(t, ok)
	require.NotNil(t, ev.SubscriptionID)
	assert.Equal(t, "sub_1", *ev.SubscriptionID)
	assert.Equal(t, "active", ev.PaymentStatus)
	assert.Equal(t, int64(999), *ev.PaymentAmount)
	assert.Equal(t, "eur", *ev.PaymentCurrency)
	assert.Nil(t, ev.PaymentSessionID)
}

func TestPaidTool_SessionForOtherToolDoesNotEntitle(t *testing.T) {
	f := newPaidFixture(t, nil)
	f.addPaidSession("some_other_tool")

	res, err := f.call(t)
	require.NoError(t, err)
	assert.Zero(t, f.calls)
	assert.Equal(t, StatusPaymentRequired, gateResponse(t, res).Status)
}

func TestPaidTool_UsageBased(t *testing.T) {
	f := newPaidFixture(t, func(cfg *PaidToolConfig) {
		cfg.MeterEvent = "report_generated"
	})
	f.addPaidSession(testPaidTool)

	_, err := f.call(t)
	require.NoError(t, err)

	meters := f.gw.MeterEvents()
	require.Len(t, meters, 1)
	assert.Equal(t, payments.MeterEvent{EventName: "report_generated", CustomerID: "cus_1", Value: 1}, meters[0])

	ev := f.onlyEvent(t).(*events.PaymentCompleted)
	assert.Equal(t, events.PaymentTypeUsageBased, ev.PaymentType)
}

func TestPaidTool_MeterFailureIsReturned(t *testing.T) {
	f := newPaidFixture(t, func(cfg *PaidToolConfig) {
		cfg.MeterEvent = "report_generated"
	})
	f.addPaidSession(testPaidTool)
	f.gw.FailOn(payments.OpRecordMeterEvent, errors.New("meter not found"))

	res, err := f.call(t)
	assert.Nil(t, res)
	var gwErr *payments.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, payments.OpRecordMeterEvent, gwErr.Op)
	assert.Zero(t, f.calls)

	ev, ok := f.onlyEvent(t).(*events.PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "GatewayError", ev.ErrorType)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, events.PaymentTypeUsageBased, ev.PaymentType)
}

func TestPaidTool_CustomerResolutionFailure(t *testing.T) {
	f := newPaidFixture(t, nil)
	f.gw.FailOn(payments.OpFindOrCreateCustomer, errors.New("rate limited"))

	_, err := f.call(t)
	var gwErr *payments.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, payments.OpFindOrCreateCustomer, gwErr.Op)
	assert.Zero(t, f.calls)
	assert.Equal(t, 2, f.gw.Calls(payments.OpFindOrCreateCustomer), "customer is resolved again for the failure event")

	ev, ok := f.onlyEvent(t).(*events.PaymentFailed)
	require.True(t, ok)
	assert.Empty(t, ev.CustomerID)
	assert.Equal(t, testPriceID, ev.PriceID)
}

func TestPaidTool_EntitlementCheckFailure(t *testing.T) {
	f := newPaidFixture(t, nil)
	f.gw.FailOn(payments.OpListCheckoutSessions, errors.New("timeout"))

	_, err := f.call(t)
	require.Error(t, err)
	assert.Zero(t, f.calls)
	assert.Zero(t, f.gw.Calls(payments.OpCreateCheckoutSession))

	ev, ok := f.onlyEvent(t).(*events.PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "cus_1", ev.CustomerID)
}

func TestPaidTool_HandlerError(t *testing.T) {
	f := newPaidFixture(t, nil)
	f.addPaidSession(testPaidTool)
	f.err = errors.New("report backend down")

	res, err := f.call(t)
	assert.Same(t, f.err, err)
	assert.Same(t, f.result, res)
	assert.Equal(t, 1, f.calls)

	ev, ok := f.onlyEvent(t).(*events.PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "errors.errorString", ev.ErrorType)
	assert.Equal(t, "report backend down", ev.ErrorMessage)
	assert.Equal(t, "cus_1", ev.CustomerID)
}

func TestPaidTool_DetailLookupFailureOmitsDetails(t *testing.T) {
	gw := paymentstest.New()
	gw.AddCustomer("cus_1", testBillingEmail)
	gw.AddSession("cus_1", payments.CheckoutSession{
		ID:            "cs_1",
		PaymentStatus: payments.PaymentStatusPaid,
		AmountTotal:   2999,
		Currency:      "usd",
		Metadata:      map[string]string{payments.MetadataToolName: testPaidTool},
	})
	q := &recordingQueue{}
	want := mcp.NewToolResultText("done")

	handler, err := NewWrapper(enabledConfig(), newHost(), q).WrapPaid(testPaidTool, PaidToolConfig{
		Checkout:     payments.CheckoutTemplate{LineItems: []payments.LineItem{{PriceID: testPriceID}}},
		BillingEmail: testBillingEmail,
		Gateway:      gw,
	}, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// The lookup after execution hits the platform again.
		gw.FailOn(payments.OpListCheckoutSessions, errors.New("flaky"))
		return want, nil
	})
	require.NoError(t, err)

	res, err := handler(context.Background(), callRequest(testPaidTool, nil))
	require.NoError(t, err)
	assert.Same(t, want, res)

	evs := q.all()
	require.Len(t, evs, 1)
	ev, ok := evs[0].(*events.PaymentCompleted)
	require.True(t, ok)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Nil(t, ev.PaymentAmount)
	assert.Nil(t, ev.PaymentSessionID)
	assert.Empty(t, ev.PaymentStatus)
}

// explodingSessions panics on ListCheckoutSessions once armed.
type explodingSessions struct {
	*paymentstest.Gateway
	armed bool
}

func (g *explodingSessions) ListCheckoutSessions(ctx context.Context, customerID string) ([]payments.CheckoutSession, error) {
	if g.armed {
		panic("gateway exploded")
	}
	return g.Gateway.ListCheckoutSessions(ctx, customerID)
}

func TestPaidTool_DetailLookupPanicOmitsDetails(t *testing.T) {
	gw := &explodingSessions{Gateway: paymentstest.New()}
	gw.AddCustomer("cus_1", testBillingEmail)
	gw.AddSession("cus_1", payments.CheckoutSession{
		ID:            "cs_1",
		PaymentStatus: payments.PaymentStatusPaid,
		Metadata:      map[string]string{payments.MetadataToolName: testPaidTool},
	})
	q := &recordingQueue{}
	want := mcp.NewToolResultText("done")
	calls := 0

	handler, err := NewWrapper(enabledConfig(), newHost(), q).WrapPaid(testPaidTool, PaidToolConfig{
		Checkout:     payments.CheckoutTemplate{LineItems: []payments.LineItem{{PriceID: testPriceID}}},
		BillingEmail: testBillingEmail,
		Gateway:      gw,
	}, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		calls++
		gw.armed = true
		return want, nil
	})
	require.NoError(t, err)

	var res *mcp.CallToolResult
	require.NotPanics(t, func() {
		res, err = handler(context.Background(), callRequest(testPaidTool, nil))
	})
	require.NoError(t, err)
	assert.Same(t, want, res)
	assert.Equal(t, 1, calls)

	evs := q.all()
	require.Len(t, evs, 1)
	ev, ok := evs[0].(*events.PaymentCompleted)
	require.True(t, ok, "got %T", evs[0])
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Nil(t, ev.PaymentSessionID)
}

func TestPaidTool_BillingEmailFallsBackToCaller(t *testing.T) {
	f := newPaidFixture(t, func(cfg *PaidToolConfig) {
		cfg.BillingEmail = ""
	})

	_, err := f.call(t)
	require.NoError(t, err)

	ev := f.onlyEvent(t).(*events.PaymentRequired)
	assert.NotEqual(t, "cus_1", ev.CustomerID, "a customer keyed by the caller email is created")
	assert.NotEmpty(t, ev.CustomerID)
}

func TestPaidTool_NoEmail(t *testing.T) {
	gw := paymentstest.New()
	q := &recordingQueue{}
	host := newHost()
	host.user = events.UserInfo{}

	handler, err := NewWrapper(enabledConfig(), host, q).WrapPaid(testPaidTool, PaidToolConfig{
		Checkout: payments.CheckoutTemplate{LineItems: []payments.LineItem{{PriceID: testPriceID}}},
		Gateway:  gw,
	}, addHandler)
	require.NoError(t, err)

	_, err = handler(context.Background(), callRequest(testPaidTool, nil))
	var cfgErr *payments.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, gw.Calls(payments.OpFindOrCreateCustomer))

	evs := q.all()
	require.Len(t, evs, 1)
	assert.Equal(t, "ConfigurationError", evs[0].(*events.PaymentFailed).ErrorType)
}

func TestPaidTool_PanicIsReraised(t *testing.T) {
	gw := paymentstest.New()
	gw.AddCustomer("cus_1", testBillingEmail)
	gw.AddSubscription("cus_1", payments.Subscription{ID: "sub_1", Status: "active",
		Items: []payments.SubscriptionItem{{PriceID: testPriceID}}})
	q := &recordingQueue{}

	handler, err := NewWrapper(enabledConfig(), newHost(), q).WrapPaid(testPaidTool, PaidToolConfig{
		Checkout:     payments.CheckoutTemplate{LineItems: []payments.LineItem{{PriceID: testPriceID}}},
		BillingEmail: testBillingEmail,
		Gateway:      gw,
	}, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		panic("nil map")
	})
	require.NoError(t, err)

	assert.PanicsWithValue(t, "nil map", func() {
		_, _ = handler(context.Background(), callRequest(testPaidTool, nil))
	})

	evs := q.all()
	require.Len(t, evs, 1)
	ev := evs[0].(*events.PaymentFailed)
	assert.Equal(t, "panic", ev.ErrorType)
	assert.Equal(t, "cus_1", ev.CustomerID)
}

func TestPassthrough_StillGatesPaidTools(t *testing.T) {
	gw := paymentstest.New()
	gw.AddCustomer("cus_1", testBillingEmail)
	calls := 0

	handler, err := NewWrapper(telemetry.Config{}, newHost(), nil).WrapPaid(testPaidTool, PaidToolConfig{
		Checkout:     payments.CheckoutTemplate{LineItems: []payments.LineItem{{PriceID: testPriceID}}},
		BillingEmail: testBillingEmail,
		Gateway:      gw,
	}, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		calls++
		return mcp.NewToolResultText("ok"), nil
	})
	require.NoError(t, err)

	res, err := handler(context.Background(), callRequest(testPaidTool, nil))
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Equal(t, StatusPaymentRequired, gateResponse(t, res).Status)
	assert.Equal(t, 1, gw.Calls(payments.OpFindOrCreateCustomer), "no failure lookups without telemetry")
}
