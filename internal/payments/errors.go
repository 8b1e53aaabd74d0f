package payments

import "fmt"

// Gateway operation names, used in errors, spans and metrics.
const (
	OpFindOrCreateCustomer  = "find_or_create_customer"
	OpListCheckoutSessions  = "list_checkout_sessions"
	OpListSubscriptions     = "list_subscriptions"
	OpCreateCheckoutSession = "create_checkout_session"
	OpRecordMeterEvent      = "record_meter_event"
)

// GatewayError wraps a failed payment platform call.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Kind names the error in telemetry events.
func (e *GatewayError) Kind() string {
	return "GatewayError"
}

// ConfigurationError reports an invalid paid tool registration.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid payment configuration: %s: %s", e.Field, e.Message)
}

// Kind names the error in telemetry events.
func (e *ConfigurationError) Kind() string {
	return "ConfigurationError"
}
