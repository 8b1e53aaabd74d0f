package server

import (
	"context"
	"errors"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/toolmeter/internal/events"
	"github.com/teemow/toolmeter/internal/instrumentation"
	"github.com/teemow/toolmeter/internal/telemetry"
	"github.com/teemow/toolmeter/internal/tools/common"
)

var (
	// ErrNoSession is returned when a call carries no MCP client session.
	ErrNoSession = errors.New("no client session in context")

	// ErrNoIdentity is returned when neither the request nor the server
	// configuration identifies the caller.
	ErrNoIdentity = errors.New("caller identity unknown")
)

// ServerContext holds the context for the MCP server. It is the Host the
// tool wrappers read caller identity and server details from.
type ServerContext struct {
	ctx             context.Context
	cancel          context.CancelFunc
	info            common.ServerInfo
	defaultIdentity events.UserInfo
	metrics         *instrumentation.Metrics
	telemetry       *telemetry.Client
	mu              sync.RWMutex
	shutdown        bool
}

var (
	_ common.Host             = (*ServerContext)(nil)
	_ common.ClientInfoSource = (*ServerContext)(nil)
)

// Option configures a ServerContext.
type Option func(*ServerContext)

// WithDefaultIdentity sets the caller identity used when a request carries
// none, as on the stdio transport.
func WithDefaultIdentity(u events.UserInfo) Option {
	return func(sc *ServerContext) {
		sc.defaultIdentity = u
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(sc *ServerContext) {
		sc.metrics = m
	}
}

// WithTelemetry sets the event delivery client. It is destroyed on Shutdown.
func WithTelemetry(c *telemetry.Client) Option {
	return func(sc *ServerContext) {
		sc.telemetry = c
	}
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, info common.ServerInfo, opts ...Option) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	sc := &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		info:   info,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// ServerInfo returns the name, version and environment reported in events.
func (sc *ServerContext) ServerInfo() common.ServerInfo {
	return sc.info
}

// UserInfo returns the caller identity attached to ctx by the HTTP
// transport, falling back to the configured default identity.
func (sc *ServerContext) UserInfo(ctx context.Context) (events.UserInfo, error) {
	if u, ok := IdentityFromContext(ctx); ok {
		return u, nil
	}
	if !sc.defaultIdentity.IsZero() {
		return sc.defaultIdentity, nil
	}
	return events.UserInfo{}, ErrNoIdentity
}

// SessionID returns the MCP session id of the call.
func (sc *ServerContext) SessionID(ctx context.Context) (string, error) {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return "", ErrNoSession
	}
	return session.SessionID(), nil
}

// clientInfoSession is implemented by sessions that kept the client's
// initialize request details.
type clientInfoSession interface {
	GetClientInfo() mcp.Implementation
}

// ClientInfo returns the name and version the client sent on initialize.
func (sc *ServerContext) ClientInfo(ctx context.Context) (*events.ClientInfo, error) {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return nil, ErrNoSession
	}
	s, ok := session.(clientInfoSession)
	if !ok {
		return nil, nil
	}
	impl := s.GetClientInfo()
	if impl.Name == "" && impl.Version == "" {
		return nil, nil
	}
	return &events.ClientInfo{Name: impl.Name, Version: impl.Version}, nil
}

// Metrics returns the metrics recorder, or nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// Telemetry returns the event delivery client, or nil.
func (sc *ServerContext) Telemetry() *telemetry.Client {
	return sc.telemetry
}

// Hooks returns MCP server hooks that track active sessions.
func (sc *ServerContext) Hooks() *mcpserver.Hooks {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, _ mcpserver.ClientSession) {
		if sc.metrics != nil {
			sc.metrics.IncrementActiveSessions(ctx)
		}
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, _ mcpserver.ClientSession) {
		if sc.metrics != nil {
			sc.metrics.DecrementActiveSessions(ctx)
		}
	})
	return hooks
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context and delivers queued telemetry.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	sc.mu.Unlock()

	sc.cancel()
	if sc.telemetry != nil {
		sc.telemetry.Destroy()
	}
	return nil
}
