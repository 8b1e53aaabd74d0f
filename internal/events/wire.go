package events

import "encoding/json"

// MaxBatchSize is the largest number of events accepted in one ingestion request.
const MaxBatchSize = 25

// Batch is the ingestion request body.
type Batch struct {
	Events []Event `json:"events"`
}

// IngestError reports a rejected event by its index in the batch.
type IngestError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// IngestResponse is the ingestion endpoint's reply.
type IngestResponse struct {
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Errors    []IngestError `json:"errors,omitempty"`
}

// envelope carries the discriminator fields written in front of every variant.
type envelope struct {
	EventType Type `json:"eventType"`
	Success   bool `json:"success"`
}

func (e *Completed) MarshalJSON() ([]byte, error) {
	type plain Completed
	return json.Marshal(struct {
		envelope
		*plain
	}{envelope{TypeCompleted, true}, (*plain)(e)})
}

func (e *Failed) MarshalJSON() ([]byte, error) {
	type plain Failed
	return json.Marshal(struct {
		envelope
		*plain
	}{envelope{TypeFailed, false}, (*plain)(e)})
}

// MarshalJSON writes the payment detail fields as explicit nulls, since no
// payment has happened yet.
func (e *PaymentRequired) MarshalJSON() ([]byte, error) {
	type plain PaymentRequired
	return json.Marshal(struct {
		envelope
		PaymentStatus    string  `json:"paymentStatus"`
		PaymentAmount    *int64  `json:"paymentAmount"`
		PaymentCurrency  *string `json:"paymentCurrency"`
		PaymentSessionID *string `json:"paymentSessionId"`
		*plain
	}{
		envelope:      envelope{TypePaymentRequired, false},
		PaymentStatus: PaymentStatusRequired,
		plain:         (*plain)(e),
	})
}

func (e *PaymentCompleted) MarshalJSON() ([]byte, error) {
	type plain PaymentCompleted
	return json.Marshal(struct {
		envelope
		*plain
	}{envelope{TypePaymentCompleted, true}, (*plain)(e)})
}

func (e *PaymentFailed) MarshalJSON() ([]byte, error) {
	type plain PaymentFailed
	return json.Marshal(struct {
		envelope
		*plain
	}{envelope{TypePaymentFailed, false}, (*plain)(e)})
}
