package payments

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
)

// fakeStripe serves the subset of the Stripe REST API used by StripeGateway.
type fakeStripe struct {
	mu       sync.Mutex
	requests []string
	forms    map[string]map[string]string
}

func newStripeTestGateway(t *testing.T, mux *http.ServeMux) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	gw, err := NewStripeGateway("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	require.NoError(t, err)
	return gw
}

func (f *fakeStripe) record(r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.Method + " " + r.URL.Path
	f.requests = append(f.requests, key)
	if f.forms == nil {
		f.forms = make(map[string]map[string]string)
	}
	form := make(map[string]string)
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}
	f.forms[key] = form
}

func (f *fakeStripe) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeStripe) form(key string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[key]
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprint(w, body)
}

func TestNewStripeGateway_RequiresKey(t *testing.T) {
	_, err := NewStripeGateway("", nil)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStripeGateway_FindOrCreateCustomer_Creates(t *testing.T) {
	fake := &fakeStripe{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		if r.Method == http.MethodGet {
			writeJSON(w, `{"object":"list","data":[],"has_more":false,"url":"/v1/customers"}`)
			return
		}
		writeJSON(w, `{"id":"cus_new","object":"customer","email":"`+r.Form.Get("email")+`"}`)
	})
	gw := newStripeTestGateway(t, mux)

	cus, err := gw.FindOrCreateCustomer(context.Background(), "jane@example.com")

	require.NoError(t, err)
	assert.Equal(t, "cus_new", cus.ID)
	assert.Equal(t, "jane@example.com", cus.Email)
	assert.Equal(t, []string{"GET /v1/customers", "POST /v1/customers"}, fake.seen())
	assert.Equal(t, "jane@example.com", fake.form("GET /v1/customers")["email"])
}

func TestStripeGateway_FindOrCreateCustomer_Reuses(t *testing.T) {
	fake := &fakeStripe{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeJSON(w, `{"object":"list","data":[{"id":"cus_1","object":"customer","email":"jane@example.com"}],"has_more":false,"url":"/v1/customers"}`)
	})
	gw := newStripeTestGateway(t, mux)

	cus, err := gw.FindOrCreateCustomer(context.Background(), "jane@example.com")

	require.NoError(t, err)
	assert.Equal(t, "cus_1", cus.ID)
	assert.Equal(t, []string{"GET /v1/customers"}, fake.seen())
}

func TestStripeGateway_ListCheckoutSessions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"object":"list","has_more":false,"url":"/v1/checkout/sessions","data":[
			{"id":"cs_1","object":"checkout.session","payment_status":"paid","amount_total":2999,
			 "currency":"usd","metadata":{"toolName":"premium_report"},"created":1700000000,
			 "customer":"cus_1","subscription":"sub_9","url":null}
		]}`)
	})
	gw := newStripeTestGateway(t, mux)

	sessions, err := gw.ListCheckoutSessions(context.Background(), "cus_1")

	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, "cs_1", s.ID)
	assert.Equal(t, PaymentStatusPaid, s.PaymentStatus)
	assert.Equal(t, int64(2999), s.AmountTotal)
	assert.Equal(t, "usd", s.Currency)
	assert.Equal(t, "premium_report", s.Metadata[MetadataToolName])
	assert.Equal(t, "cus_1", s.CustomerID)
	assert.Equal(t, "sub_9", s.SubscriptionID)
	assert.Equal(t, int64(1700000000), s.Created.Unix())
}

func TestStripeGateway_ListSubscriptions(t *testing.T) {
	fake := &fakeStripe{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeJSON(w, `{"object":"list","has_more":false,"url":"/v1/subscriptions","data":[
			{"id":"sub_1","object":"subscription","status":"active","created":1700000000,
			 "items":{"object":"list","has_more":false,"data":[
			   {"id":"si_1","object":"subscription_item","price":{"id":"price_1","object":"price","unit_amount":500,"currency":"eur"}}
			 ]}}
		]}`)
	})
	gw := newStripeTestGateway(t, mux)

	subs, err := gw.ListSubscriptions(context.Background(), "cus_1")

	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "active", subs[0].Status)
	require.Len(t, subs[0].Items, 1)
	assert.Equal(t, SubscriptionItem{ID: "si_1", PriceID: "price_1", UnitAmount: 500, Currency: "eur"}, subs[0].Items[0])

	form := fake.form("GET /v1/subscriptions")
	assert.Equal(t, "cus_1", form["customer"])
	assert.Equal(t, "active", form["status"])
}

func TestStripeGateway_CreateCheckoutSession(t *testing.T) {
	fake := &fakeStripe{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeJSON(w, `{"id":"cs_new","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_new",
			"payment_status":"unpaid","metadata":{"toolName":"premium_report"}}`)
	})
	gw := newStripeTestGateway(t, mux)

	s, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{
		CustomerID: "cus_1",
		Template: CheckoutTemplate{
			LineItems:  []LineItem{{PriceID: "price_1", Quantity: 1}},
			SuccessURL: "https://example.com/ok",
			CancelURL:  "https://example.com/cancel",
		},
		Metadata: map[string]string{MetadataToolName: "premium_report"},
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_new", s.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_new", s.URL)

	form := fake.form("POST /v1/checkout/sessions")
	assert.Equal(t, "cus_1", form["customer"])
	assert.Equal(t, "payment", form["mode"])
	assert.Equal(t, "price_1", form["line_items[0][price]"])
	assert.Equal(t, "1", form["line_items[0][quantity]"])
	assert.Equal(t, "premium_report", form["metadata[toolName]"])
	assert.Equal(t, "https://example.com/ok", form["success_url"])
}

func TestStripeGateway_RecordMeterEvent(t *testing.T) {
	fake := &fakeStripe{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/billing/meter_events", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeJSON(w, `{"object":"billing.meter_event","event_name":"premium_report_calls","identifier":"evt_1"}`)
	})
	gw := newStripeTestGateway(t, mux)

	err := gw.RecordMeterEvent(context.Background(), MeterEvent{EventName: "premium_report_calls", CustomerID: "cus_1"})

	require.NoError(t, err)
	form := fake.form("POST /v1/billing/meter_events")
	assert.Equal(t, "premium_report_calls", form["event_name"])
	assert.Equal(t, "cus_1", form["payload[stripe_customer_id]"])
	assert.Equal(t, "1", form["payload[value]"])
}

func TestStripeGateway_APIErrorIsGatewayError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`)
	})
	gw := newStripeTestGateway(t, mux)

	_, err := gw.ListSubscriptions(context.Background(), "cus_1")

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, OpListSubscriptions, gwErr.Op)

	var stripeErr *stripe.Error
	require.ErrorAs(t, err, &stripeErr)
	assert.Equal(t, http.StatusUnauthorized, stripeErr.HTTPStatusCode)
}
