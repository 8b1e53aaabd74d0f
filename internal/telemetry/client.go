package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/teemow/toolmeter/internal/events"
	"github.com/teemow/toolmeter/internal/logging"
)

const (
	// APIKeyHeader carries the API key on ingestion requests.
	APIKeyHeader = "x-api-key"

	// maxResponseBytes bounds how much of an ingestion response is read.
	maxResponseBytes = 1 << 20
)

// Batch outcome labels passed to Recorder.RecordTelemetryBatch.
const (
	BatchSent    = "sent"
	BatchDropped = "dropped"
)

// Recorder receives delivery metrics. instrumentation.Metrics implements it.
type Recorder interface {
	RecordTelemetryQueued(ctx context.Context, eventType string)
	RecordTelemetryBatch(ctx context.Context, outcome, reason string, size int, duration time.Duration)
}

// Client batches events in memory and ships them to the ingestion endpoint.
//
// Delivery is best effort. A batch that fails to send is logged and dropped,
// never re-queued. Queue never blocks on network I/O.
type Client struct {
	apiKey     string
	endpoint   string
	batchSize  int
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
	recorder   Recorder

	mu        sync.Mutex
	queue     []events.Event
	destroyed bool

	// wg tracks the flush timer and in-flight asynchronous flushes.
	wg      sync.WaitGroup
	stop    chan struct{}
	destroy sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for ingestion requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for delivery warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder sets a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithVersion sets the version reported in the User-Agent header.
func WithVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.userAgent = "toolmeter/" + version
		}
	}
}

// NewClient creates a Client and starts its flush timer unless
// cfg.FlushInterval is zero. Call Destroy to stop it.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		batchSize:  cfg.EffectiveBatchSize(),
		userAgent:  "toolmeter/dev",
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithComponent(c.logger, logging.ComponentTelemetry)

	if cfg.FlushInterval > 0 {
		c.wg.Add(1)
		go c.runTimer(cfg.FlushInterval)
	}

	return c, nil
}

// BatchSize returns the effective batch size.
func (c *Client) BatchSize() int {
	return c.batchSize
}

// Len returns the number of queued events.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Queue appends e to the queue. When the queue reaches the batch size a
// flush is started in the background. Queue is a no-op after Destroy.
func (c *Client) Queue(e events.Event) {
	if e == nil {
		return
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, e)
	full := len(c.queue) >= c.batchSize
	if full {
		// Registered under the lock so Destroy's Wait observes it.
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordTelemetryQueued(context.Background(), string(e.EventType()))
	}

	if full {
		go func() {
			defer c.wg.Done()
			c.Flush()
		}()
	}
}

// Flush sends up to one batch from the front of the queue. Send failures
// are logged and the batch is discarded. Flush is a no-op after Destroy or
// when the queue is empty.
func (c *Client) Flush() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	batch := c.takeLocked()
	c.mu.Unlock()

	c.deliver(batch)
}

// Destroy stops the flush timer, waits for in-flight flushes and sends
// everything still queued. Later calls, and later Queue and Flush calls,
// do nothing.
func (c *Client) Destroy() {
	c.destroy.Do(func() {
		c.mu.Lock()
		c.destroyed = true
		c.mu.Unlock()

		close(c.stop)
		c.wg.Wait()

		for {
			c.mu.Lock()
			batch := c.takeLocked()
			c.mu.Unlock()
			if len(batch) == 0 {
				return
			}
			c.deliver(batch)
		}
	})
}

// takeLocked removes and returns up to batchSize events from the front of
// the queue. The caller must hold c.mu.
func (c *Client) takeLocked() []events.Event {
	n := min(len(c.queue), c.batchSize)
	if n == 0 {
		return nil
	}
	batch := make([]events.Event, n)
	copy(batch, c.queue[:n])
	c.queue = append(c.queue[:0:0], c.queue[n:]...)
	return batch
}

func (c *Client) deliver(batch []events.Event) {
	if len(batch) == 0 {
		return
	}

	ctx := context.Background()
	start := time.Now()
	resp, err := c.SendEvents(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		c.logger.Warn("dropping telemetry batch",
			logging.Operation("deliver"),
			logging.Status(logging.StatusError),
			slog.Int("events", len(batch)),
			logging.Err(err))
		if c.recorder != nil {
			c.recorder.RecordTelemetryBatch(ctx, BatchDropped, dropReason(err), len(batch), duration)
		}
		return
	}

	if c.recorder != nil {
		c.recorder.RecordTelemetryBatch(ctx, BatchSent, "", len(batch), duration)
	}
	for _, ie := range resp.Errors {
		c.logger.Debug("telemetry event rejected",
			slog.Int("index", ie.Index),
			slog.String("message", ie.Message))
	}
	c.logger.Debug("telemetry batch sent",
		logging.Operation("deliver"),
		logging.Status(logging.StatusSuccess),
		slog.Int("processed", resp.Processed),
		slog.Int("skipped", resp.Skipped),
		slog.Duration(logging.KeyDuration, duration))
}

// SendEvents posts evs to the ingestion endpoint in a single request.
// It is never retried.
func (c *Client) SendEvents(ctx context.Context, evs []events.Event) (*events.IngestResponse, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if len(evs) == 0 || len(evs) > events.MaxBatchSize {
		return nil, &BatchSizeError{Size: len(evs)}
	}

	body, err := json.Marshal(events.Batch{Events: evs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out events.IngestResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("malformed response: %w", err)}
	}
	return &out, nil
}

func (c *Client) runTimer(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Flush()
		}
	}
}
