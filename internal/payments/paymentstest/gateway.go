// Package paymentstest provides an in-memory payments.Gateway for tests.
package paymentstest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teemow/toolmeter/internal/payments"
)

// Gateway is an in-memory payments.Gateway. The zero value is not usable;
// call New.
type Gateway struct {
	mu            sync.Mutex
	customers     map[string]payments.Customer
	sessions      map[string][]payments.CheckoutSession
	subscriptions map[string][]payments.Subscription
	failures      map[string]error
	calls         map[string]int
	meterEvents   []payments.MeterEvent
	checkouts     []payments.CheckoutRequest
	nextID        int
}

var _ payments.Gateway = (*Gateway)(nil)

// New returns an empty Gateway.
func New() *Gateway {
	return &Gateway{
		customers:     make(map[string]payments.Customer),
		sessions:      make(map[string][]payments.CheckoutSession),
		subscriptions: make(map[string][]payments.Subscription),
		failures:      make(map[string]error),
		calls:         make(map[string]int),
	}
}

// AddCustomer registers an existing customer.
func (g *Gateway) AddCustomer(id, email string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers[email] = payments.Customer{ID: id, Email: email}
}

// AddSession registers a checkout session for customerID. Sessions added
// later are listed first.
func (g *Gateway) AddSession(customerID string, s payments.CheckoutSession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s.CustomerID = customerID
	g.sessions[customerID] = append([]payments.CheckoutSession{s}, g.sessions[customerID]...)
}

// AddSubscription registers an active subscription for customerID.
func (g *Gateway) AddSubscription(customerID string, s payments.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions[customerID] = append(g.subscriptions[customerID], s)
}

// FailOn makes every call to op return err wrapped in a GatewayError until
// cleared with a nil err.
func (g *Gateway) FailOn(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, op)
		return
	}
	g.failures[op] = err
}

// Calls returns how many times op was invoked.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// MeterEvents returns the recorded meter events.
func (g *Gateway) MeterEvents() []payments.MeterEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.MeterEvent(nil), g.meterEvents...)
}

// CheckoutRequests returns the received checkout requests.
func (g *Gateway) CheckoutRequests() []payments.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.CheckoutRequest(nil), g.checkouts...)
}

// enter records a call and returns the configured failure for op.
// The caller must hold g.mu.
func (g *Gateway) enter(op string) error {
	g.calls[op]++
	if err, ok := g.failures[op]; ok {
		return &payments.GatewayError{Op: op, Err: err}
	}
	return nil
}

func (g *Gateway) FindOrCreateCustomer(_ context.Context, email string) (*payments.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(payments.OpFindOrCreateCustomer); err != nil {
		return nil, err
	}
	c, ok := g.customers[email]
	if !ok {
		g.nextID++
		c = payments.Customer{ID: fmt.Sprintf("cus_test_%d", g.nextID), Email: email}
		g.customers[email] = c
	}
	return &c, nil
}

func (g *Gateway) ListCheckoutSessions(_ context.Context, customerID string) ([]payments.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(payments.OpListCheckoutSessions); err != nil {
		return nil, err
	}
	return append([]payments.CheckoutSession(nil), g.sessions[customerID]...), nil
}

func (g *Gateway) ListSubscriptions(_ context.Context, customerID string) ([]payments.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(payments.OpListSubscriptions); err != nil {
		return nil, err
	}
	return append([]payments.Subscription(nil), g.subscriptions[customerID]...), nil
}

func (g *Gateway) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(payments.OpCreateCheckoutSession); err != nil {
		return nil, err
	}
	g.checkouts = append(g.checkouts, req)
	g.nextID++
	id := fmt.Sprintf("cs_test_%d", g.nextID)
	s := payments.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example.com/c/pay/" + id,
		CustomerID:    req.CustomerID,
		PaymentStatus: "unpaid",
		Metadata:      req.MergedMetadata(),
		Created:       time.Now().UTC(),
	}
	g.sessions[req.CustomerID] = append([]payments.CheckoutSession{s}, g.sessions[req.CustomerID]...)
	return &s, nil
}

func (g *Gateway) RecordMeterEvent(_ context.Context, ev payments.MeterEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(payments.OpRecordMeterEvent); err != nil {
		return err
	}
	g.meterEvents = append(g.meterEvents, ev)
	return nil
}
