package payments

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// sessionListLimit bounds how many recent checkout sessions are inspected.
const sessionListLimit = 100

// StripeGateway implements Gateway with the Stripe API.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway creates a gateway using secretKey. A nil backends value
// selects the default Stripe API endpoints.
func NewStripeGateway(secretKey string, backends *stripe.Backends) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, &ConfigurationError{Field: "secretKey", Message: "a Stripe secret key is required"}
	}
	return &StripeGateway{api: client.New(secretKey, backends)}, nil
}

// FindOrCreateCustomer reuses the first customer with a matching email.
func (g *StripeGateway) FindOrCreateCustomer(ctx context.Context, email string) (*Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := g.api.Customers.List(params)
	if iter.Next() {
		c := iter.Customer()
		return &Customer{ID: c.ID, Email: c.Email}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, &GatewayError{Op: OpFindOrCreateCustomer, Err: err}
	}

	createParams := &stripe.CustomerParams{Email: stripe.String(email)}
	createParams.Context = ctx
	c, err := g.api.Customers.New(createParams)
	if err != nil {
		return nil, &GatewayError{Op: OpFindOrCreateCustomer, Err: err}
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

// ListCheckoutSessions returns up to the most recent hundred sessions.
func (g *StripeGateway) ListCheckoutSessions(ctx context.Context, customerID string) ([]CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(sessionListLimit)
	params.Single = true

	var out []CheckoutSession
	iter := g.api.CheckoutSessions.List(params)
	for iter.Next() {
		out = append(out, fromStripeSession(iter.CheckoutSession()))
	}
	if err := iter.Err(); err != nil {
		return nil, &GatewayError{Op: OpListCheckoutSessions, Err: err}
	}
	return out, nil
}

// ListSubscriptions returns the customer's active subscriptions.
func (g *StripeGateway) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx

	var out []Subscription
	iter := g.api.Subscriptions.List(params)
	for iter.Next() {
		out = append(out, fromStripeSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, &GatewayError{Op: OpListSubscriptions, Err: err}
	}
	return out, nil
}

// CreateCheckoutSession creates a hosted checkout session.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	mode := req.Template.Mode
	if mode == "" {
		mode = ModePayment
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerID),
		Mode:     stripe.String(mode),
	}
	if req.Template.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.Template.SuccessURL)
	}
	if req.Template.CancelURL != "" {
		params.CancelURL = stripe.String(req.Template.CancelURL)
	}
	for _, item := range req.Template.LineItems {
		li := &stripe.CheckoutSessionLineItemParams{Price: stripe.String(item.PriceID)}
		if item.Quantity > 0 {
			li.Quantity = stripe.Int64(item.Quantity)
		}
		params.LineItems = append(params.LineItems, li)
	}
	for k, v := range req.MergedMetadata() {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, &GatewayError{Op: OpCreateCheckoutSession, Err: err}
	}
	session := fromStripeSession(s)
	return &session, nil
}

// RecordMeterEvent sends a billing meter event for the customer.
func (g *StripeGateway) RecordMeterEvent(ctx context.Context, ev MeterEvent) error {
	value := ev.Value
	if value <= 0 {
		value = 1
	}
	params := &stripe.BillingMeterEventParams{
		EventName: stripe.String(ev.EventName),
		Payload: map[string]string{
			"stripe_customer_id": ev.CustomerID,
			"value":              strconv.FormatInt(value, 10),
		},
	}
	params.Context = ctx

	if _, err := g.api.BillingMeterEvents.New(params); err != nil {
		return &GatewayError{Op: OpRecordMeterEvent, Err: fmt.Errorf("meter %q: %w", ev.EventName, err)}
	}
	return nil
}

func fromStripeSession(s *stripe.CheckoutSession) CheckoutSession {
	out := CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		Metadata:      s.Metadata,
		Created:       time.Unix(s.Created, 0).UTC(),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}

func fromStripeSubscription(s *stripe.Subscription) Subscription {
	out := Subscription{
		ID:      s.ID,
		Status:  string(s.Status),
		Created: time.Unix(s.Created, 0).UTC(),
	}
	if s.Items == nil {
		return out
	}
	for _, item := range s.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		out.Items = append(out.Items, SubscriptionItem{
			ID:         item.ID,
			PriceID:    item.Price.ID,
			UnitAmount: item.Price.UnitAmount,
			Currency:   string(item.Price.Currency),
		})
	}
	return out
}
