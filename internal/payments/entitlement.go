package payments

import "context"

// Entitlement is the outcome of CheckEntitlement. When Paid is true exactly
// one of Session or Subscription is set.
type Entitlement struct {
	Paid         bool
	Session      *CheckoutSession
	Subscription *Subscription
}

// CheckEntitlement reports whether customerID has paid for toolName.
//
// Checkout sessions are consulted first and the newest paid session tagged
// with toolName wins. Otherwise any active subscription with an item on
// priceID grants access.
func CheckEntitlement(ctx context.Context, gw Gateway, customerID, toolName, priceID string) (Entitlement, error) {
	sessions, err := gw.ListCheckoutSessions(ctx, customerID)
	if err != nil {
		return Entitlement{}, err
	}
	for i := range sessions {
		s := &sessions[i]
		if s.Metadata[MetadataToolName] == toolName && s.PaymentStatus == PaymentStatusPaid {
			return Entitlement{Paid: true, Session: s}, nil
		}
	}

	subs, err := gw.ListSubscriptions(ctx, customerID)
	if err != nil {
		return Entitlement{}, err
	}
	for i := range subs {
		sub := &subs[i]
		for _, item := range sub.Items {
			if item.PriceID == priceID {
				return Entitlement{Paid: true, Subscription: sub}, nil
			}
		}
	}

	return Entitlement{}, nil
}

// PriceItem returns the subscription item for priceID, if any.
func (s *Subscription) PriceItem(priceID string) (SubscriptionItem, bool) {
	for _, item := range s.Items {
		if item.PriceID == priceID {
			return item, true
		}
	}
	return SubscriptionItem{}, false
}
