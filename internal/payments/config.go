package payments

import (
	"fmt"
	"net/url"
	"os"
)

// Config holds payment platform settings.
type Config struct {
	// SecretKey is the platform API secret (STRIPE_SECRET_KEY)
	SecretKey string

	// BillingEmail identifies the paying customer when the caller's
	// identity carries no email (TOOLMETER_BILLING_EMAIL)
	BillingEmail string

	// SuccessURL and CancelURL are the default checkout redirect targets
	SuccessURL string
	CancelURL  string

	// PriceID is the price sold by the bundled paid tool (TOOLMETER_PRICE_ID)
	PriceID string

	// MeterEvent makes the bundled paid tool usage based (TOOLMETER_METER_EVENT)
	MeterEvent string
}

// DefaultConfig returns a Config populated from environment variables.
func DefaultConfig() Config {
	return Config{
		SecretKey:    os.Getenv("STRIPE_SECRET_KEY"),
		BillingEmail: os.Getenv("TOOLMETER_BILLING_EMAIL"),
		SuccessURL:   os.Getenv("TOOLMETER_SUCCESS_URL"),
		CancelURL:    os.Getenv("TOOLMETER_CANCEL_URL"),
		PriceID:      os.Getenv("TOOLMETER_PRICE_ID"),
		MeterEvent:   os.Getenv("TOOLMETER_METER_EVENT"),
	}
}

// Enabled reports whether a platform secret is configured.
func (c *Config) Enabled() bool {
	return c.SecretKey != ""
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"success URL": c.SuccessURL, "cancel URL": c.CancelURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must use http or https, got %q", name, raw)
		}
	}
	return nil
}
