// Package payments talks to the payment platform on behalf of paid tools.
//
// Gateway is the narrow set of platform calls a paid tool needs: customer
// resolution, session and subscription queries, checkout creation and usage
// metering. StripeGateway implements it with stripe-go and
// InstrumentedGateway decorates any implementation with spans and metrics.
//
// CheckEntitlement holds the entitlement rule. A customer is entitled to a
// tool when either
//
//   - a checkout session tagged with the tool name has been paid, or
//   - an active subscription carries an item for the tool's price.
//
// Nothing is cached. Entitlement is recomputed on every invocation.
package payments
