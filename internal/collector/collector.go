package collector

import (
	"bytes"
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/teemow/toolmeter/internal/events"
	"github.com/teemow/toolmeter/internal/logging"
	"github.com/teemow/toolmeter/internal/telemetry"
)

const (
	// DefaultAddr is the default listen address of the collector.
	DefaultAddr = ":8089"

	// DefaultPath is the ingestion endpoint path.
	DefaultPath = "/v1/events"

	// DefaultRetain is the number of accepted events kept for inspection.
	DefaultRetain = 100

	// maxBodyBytes bounds an ingestion request body.
	maxBodyBytes = 4 << 20

	// BatchIDHeader is set on every ingestion response.
	BatchIDHeader = "X-Toolmeter-Batch-Id"

	schemaURL = "https://toolmeter.dev/schemas/tool-invocation-event.json"
)

//go:embed event.schema.json
var eventSchema []byte

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("collector API key is required")

// Config holds the collector configuration.
type Config struct {
	// Addr is the listen address (default: DefaultAddr).
	Addr string

	// APIKey is the key clients must send in the x-api-key header.
	APIKey string

	// Path is the ingestion endpoint (default: DefaultPath).
	Path string

	// Retain bounds the accepted events kept for GET requests (default: DefaultRetain).
	Retain int

	// Logger receives one line per accepted event.
	Logger *slog.Logger
}

// Collector is a development ingestion endpoint. It validates batches the
// way the hosted endpoint does and logs accepted events.
type Collector struct {
	apiKey string
	path   string
	schema *jsonschema.Schema
	logger *slog.Logger

	mu     sync.Mutex
	recent []json.RawMessage
	retain int

	addr       string
	srvMu      sync.Mutex
	httpServer *http.Server
	stopped    bool
}

// New compiles the event schema and returns a Collector.
func New(cfg Config) (*Collector, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	return &Collector{
		apiKey: cfg.APIKey,
		path:   cfg.Path,
		schema: schema,
		logger: logging.WithComponent(logger, logging.ComponentCollector),
		retain: cfg.Retain,
		addr:   cfg.Addr,
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse event schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add event schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile event schema: %w", err)
	}
	return schema, nil
}

// Addr returns the configured listen address.
func (c *Collector) Addr() string {
	return c.addr
}

// Handler returns the collector's routes: the ingestion endpoint and /healthz.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(c.path, c.serveEvents)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves the collector and blocks until it stops.
func (c *Collector) Start() error {
	c.srvMu.Lock()
	if c.stopped {
		c.srvMu.Unlock()
		return nil
	}
	c.httpServer = &http.Server{
		Addr:              c.addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := c.httpServer
	c.srvMu.Unlock()

	c.logger.Info("starting collector", "addr", c.addr, "path", c.path)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the collector.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.srvMu.Lock()
	c.stopped = true
	srv := c.httpServer
	c.srvMu.Unlock()

	if srv == nil {
		return nil
	}
	c.logger.Info("shutting down collector")
	return srv.Shutdown(ctx)
}

// Recent returns the most recently accepted events, oldest first.
func (c *Collector) Recent() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]json.RawMessage, len(c.recent))
	copy(out, c.recent)
	return out
}

func (c *Collector) serveEvents(w http.ResponseWriter, r *http.Request) {
	if !c.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid or missing API key"))
		return
	}

	switch r.Method {
	case http.MethodPost:
		c.ingest(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"events": c.Recent()})
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
	}
}

func (c *Collector) authorized(r *http.Request) bool {
	key := r.Header.Get(telemetry.APIKeyHeader)
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(c.apiKey)) == 1
}

func (c *Collector) ingest(w http.ResponseWriter, r *http.Request) {
	batchID := uuid.NewString()
	w.Header().Set(BatchIDHeader, batchID)
	logger := c.logger.With(slog.String("batch_id", batchID))

	var batch struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&batch); err != nil {
		logger.Warn("rejected malformed batch", logging.Err(err))
		writeJSON(w, http.StatusBadRequest, errorBody("request body must be a JSON object with an events array"))
		return
	}
	if n := len(batch.Events); n < 1 || n > events.MaxBatchSize {
		logger.Warn("rejected batch", slog.Int("size", n))
		writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("batch must contain 1 to %d events, got %d", events.MaxBatchSize, n)))
		return
	}

	resp := c.process(logger, batch.Events)
	logger.Info("batch ingested",
		slog.Int("processed", resp.Processed),
		slog.Int("skipped", resp.Skipped),
		slog.String("user_agent", r.UserAgent()))
	writeJSON(w, http.StatusOK, resp)
}

// Process validates each raw event independently. Valid events are logged
// and retained; invalid ones are skipped and reported by index.
func (c *Collector) Process(raw []json.RawMessage) events.IngestResponse {
	return c.process(c.logger, raw)
}

func (c *Collector) process(logger *slog.Logger, raw []json.RawMessage) events.IngestResponse {
	resp := events.IngestResponse{}
	for i, msg := range raw {
		if err := c.validate(msg); err != nil {
			resp.Skipped++
			resp.Errors = append(resp.Errors, events.IngestError{Index: i, Message: err.Error()})
			logger.Debug("skipped invalid event", slog.Int("index", i), logging.Err(err))
			continue
		}
		resp.Processed++
		c.keep(msg)
		c.logAccepted(logger, msg)
	}
	return resp
}

func (c *Collector) validate(msg json.RawMessage) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(msg))
	if err != nil {
		return fmt.Errorf("event is not valid JSON: %w", err)
	}
	if err := c.schema.Validate(inst); err != nil {
		return fmt.Errorf("schema validation failed: %s", flatten(err))
	}
	return nil
}

func (c *Collector) keep(msg json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, msg)
	if over := len(c.recent) - c.retain; over > 0 {
		c.recent = append(c.recent[:0:0], c.recent[over:]...)
	}
}

func (c *Collector) logAccepted(logger *slog.Logger, msg json.RawMessage) {
	var head struct {
		EventType string `json:"eventType"`
		ToolName  string `json:"toolName"`
		RequestID string `json:"requestId"`
		SessionID string `json:"sessionId"`
		Duration  int64  `json:"duration"`
		Success   bool   `json:"success"`
	}
	_ = json.Unmarshal(msg, &head)
	logger.Info("event accepted",
		logging.EventType(head.EventType),
		logging.Tool(head.ToolName),
		logging.RequestID(head.RequestID),
		logging.Session(head.SessionID),
		slog.Int64("duration_ms", head.Duration),
		slog.Bool("success", head.Success))
}

// flatten joins a multi-line validation error into one line.
func flatten(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, "; ")
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
