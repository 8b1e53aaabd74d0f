// Package events defines the telemetry record emitted for every tool
// invocation and its JSON wire format.
//
// Event is a closed sum type. A free tool produces Completed or Failed; a
// paid tool produces PaymentRequired, PaymentCompleted or PaymentFailed.
// Fields shared by all variants live in Base. Each variant writes its own
// "eventType" and "success" discriminators when marshaled, so a Batch can be
// posted to the ingestion endpoint as is:
//
//	body, err := json.Marshal(events.Batch{Events: queued})
package events
