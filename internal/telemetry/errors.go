package telemetry

import (
	"errors"
	"fmt"

	"github.com/teemow/toolmeter/internal/events"
)

// ErrMissingAPIKey is returned by SendEvents when no API key is configured.
var ErrMissingAPIKey = errors.New("telemetry API key is not configured")

// BatchSizeError is returned by SendEvents for an empty or oversized batch.
type BatchSizeError struct {
	Size int
}

func (e *BatchSizeError) Error() string {
	return fmt.Sprintf("batch size must be between 1 and %d, got %d", events.MaxBatchSize, e.Size)
}

// APIError wraps a transport failure or a non-success response from the
// ingestion endpoint. StatusCode is zero when no response was received.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("telemetry request failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("telemetry API status %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("telemetry API returned status %d: %s", e.StatusCode, e.Body)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// dropReason classifies a send failure for metrics.
func dropReason(err error) string {
	var apiErr *APIError
	var sizeErr *BatchSizeError
	switch {
	case errors.Is(err, ErrMissingAPIKey), errors.As(err, &sizeErr):
		return "config"
	case errors.As(err, &apiErr) && apiErr.StatusCode == 0:
		return "transport"
	case errors.As(err, &apiErr) && apiErr.Err != nil:
		return "malformed_response"
	case errors.As(err, &apiErr):
		return "http_status"
	default:
		return "encode"
	}
}
