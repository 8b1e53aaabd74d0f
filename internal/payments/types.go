package payments

import (
	"context"
	"time"
)

// Checkout modes.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// PaymentStatusPaid is the checkout session payment status that grants access.
const PaymentStatusPaid = "paid"

// MetadataToolName is the checkout session metadata key holding the tool name.
const MetadataToolName = "toolName"

// Customer is a payment platform customer record.
type Customer struct {
	ID    string
	Email string
}

// CheckoutSession is a pending or completed purchase flow.
type CheckoutSession struct {
	ID             string
	URL            string
	CustomerID     string
	PaymentStatus  string
	AmountTotal    int64
	Currency       string
	Metadata       map[string]string
	SubscriptionID string
	Created        time.Time
}

// Subscription is a customer's recurring plan.
type Subscription struct {
	ID      string
	Status  string
	Items   []SubscriptionItem
	Created time.Time
}

// SubscriptionItem is one priced entry of a subscription.
type SubscriptionItem struct {
	ID         string
	PriceID    string
	UnitAmount int64
	Currency   string
}

// LineItem is a priced entry of a checkout template.
type LineItem struct {
	PriceID  string
	Quantity int64
}

// CheckoutTemplate describes the checkout session created when a caller is
// not yet entitled to a tool.
type CheckoutTemplate struct {
	// Mode is ModePayment or ModeSubscription (default: ModePayment)
	Mode       string
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// PriceID returns the price of the first priced line item, or "".
func (t CheckoutTemplate) PriceID() string {
	for _, item := range t.LineItems {
		if item.PriceID != "" {
			return item.PriceID
		}
	}
	return ""
}

// Validate reports a ConfigurationError when no line item carries a price.
func (t CheckoutTemplate) Validate() error {
	if t.PriceID() == "" {
		return &ConfigurationError{Field: "checkout.lineItems", Message: "at least one line item with a price id is required"}
	}
	if t.Mode != "" && t.Mode != ModePayment && t.Mode != ModeSubscription {
		return &ConfigurationError{Field: "checkout.mode", Message: "must be " + ModePayment + " or " + ModeSubscription}
	}
	return nil
}

// CheckoutRequest asks the platform for a new checkout session.
type CheckoutRequest struct {
	CustomerID string
	Template   CheckoutTemplate
	// Metadata is merged over Template.Metadata.
	Metadata map[string]string
}

// MergedMetadata returns the template metadata overlaid with r.Metadata.
func (r CheckoutRequest) MergedMetadata() map[string]string {
	out := make(map[string]string, len(r.Template.Metadata)+len(r.Metadata))
	for k, v := range r.Template.Metadata {
		out[k] = v
	}
	for k, v := range r.Metadata {
		out[k] = v
	}
	return out
}

// MeterEvent is one metered usage record.
type MeterEvent struct {
	EventName  string
	CustomerID string
	Value      int64
}

// Gateway is the payment platform boundary. Every call is a separate
// failure domain and none is retried.
type Gateway interface {
	// FindOrCreateCustomer returns the customer with the given email,
	// creating one when none exists.
	FindOrCreateCustomer(ctx context.Context, email string) (*Customer, error)

	// ListCheckoutSessions returns the customer's checkout sessions, newest first.
	ListCheckoutSessions(ctx context.Context, customerID string) ([]CheckoutSession, error)

	// ListSubscriptions returns the customer's active subscriptions.
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)

	// CreateCheckoutSession starts a new checkout flow.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// RecordMeterEvent records metered usage.
	RecordMeterEvent(ctx context.Context, ev MeterEvent) error
}
