package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/toolmeter/internal/instrumentation"
)

// Server types accepted by NewHTTPServer.
const (
	ServerTypeSSE            = "sse"
	ServerTypeStreamableHTTP = "streamable-http"
)

// HTTPServer serves the MCP server over HTTP. Caller identity is taken from
// the trusted identity headers of each request.
type HTTPServer struct {
	mcpServer  *mcpserver.MCPServer
	sc         *ServerContext
	health     *HealthChecker
	serverType string // "sse" or "streamable-http"

	mu         sync.Mutex
	httpServer *http.Server
	stopped    bool
}

// NewHTTPServer creates an HTTP server for the given transport type.
func NewHTTPServer(mcpServer *mcpserver.MCPServer, sc *ServerContext, serverType string) (*HTTPServer, error) {
	switch serverType {
	case ServerTypeSSE, ServerTypeStreamableHTTP:
	default:
		return nil, fmt.Errorf("unsupported server type: %s", serverType)
	}
	return &HTTPServer{
		mcpServer:  mcpServer,
		sc:         sc,
		health:     NewHealthChecker(sc),
		serverType: serverType,
	}, nil
}

// HealthChecker returns the checker backing /healthz and /readyz.
func (s *HTTPServer) HealthChecker() *HealthChecker {
	return s.health
}

// Handler builds the request multiplexer: MCP endpoints plus health checks.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.health.RegisterHealthEndpoints(mux)

	switch s.serverType {
	case ServerTypeSSE:
		sseServer := mcpserver.NewSSEServer(s.mcpServer,
			mcpserver.WithSSEEndpoint("/sse"),
			mcpserver.WithMessageEndpoint("/message"),
			mcpserver.WithSSEContextFunc(IdentityContextFunc),
		)
		mux.Handle("/sse", sseServer)
		mux.Handle("/message", sseServer)

	case ServerTypeStreamableHTTP:
		httpServer := mcpserver.NewStreamableHTTPServer(s.mcpServer,
			mcpserver.WithEndpointPath("/mcp"),
			mcpserver.WithHTTPContextFunc(IdentityContextFunc),
		)
		mux.Handle("/mcp", httpServer)
	}

	var metrics *instrumentation.Metrics
	if s.sc != nil {
		metrics = s.sc.Metrics()
	}
	return metricsMiddleware(metrics, mux)
}

// Start listens on addr and blocks until the server stops. It returns
// immediately when Shutdown was already called.
func (s *HTTPServer) Start(addr string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	slog.Info("starting MCP HTTP server", "addr", addr, "transport", s.serverType)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown marks the server not ready and stops accepting connections.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)

	s.mu.Lock()
	s.stopped = true
	srv := s.httpServer
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// metricsMiddleware records http_requests_total and request durations.
func metricsMiddleware(m *instrumentation.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
