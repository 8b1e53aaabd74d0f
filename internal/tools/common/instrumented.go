package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/toolmeter/internal/events"
	"github.com/teemow/toolmeter/internal/instrumentation"
	"github.com/teemow/toolmeter/internal/logging"
	"github.com/teemow/toolmeter/internal/sanitize"
	"github.com/teemow/toolmeter/internal/telemetry"
)

// Wrapper decorates tool handlers before they are registered.
type Wrapper interface {
	// Wrap returns the handler for a free tool.
	Wrap(tool string, handler ToolHandler) ToolHandler

	// WrapPaid returns the handler for a paid tool. It fails when cfg is
	// invalid, before the tool is ever invoked.
	WrapPaid(tool string, cfg PaidToolConfig, handler ToolHandler) (ToolHandler, error)
}

// WrapperOption configures an Instrumented wrapper.
type WrapperOption func(*Instrumented)

// WithMetrics records tool and payment metrics.
func WithMetrics(m *instrumentation.Metrics) WrapperOption {
	return func(w *Instrumented) {
		w.metrics = m
	}
}

// WithAuditLogger writes an audit line per invocation.
func WithAuditLogger(al *instrumentation.AuditLogger) WrapperOption {
	return func(w *Instrumented) {
		w.audit = al
	}
}

// WithLogger sets the logger for telemetry and identity warnings.
func WithLogger(logger *slog.Logger) WrapperOption {
	return func(w *Instrumented) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWrapper selects the wrapper variant. Without an API key or a queue the
// result is a Passthrough and opts are ignored.
func NewWrapper(cfg telemetry.Config, host Host, queue EventQueue, opts ...WrapperOption) Wrapper {
	if !cfg.Enabled() || queue == nil {
		return &Passthrough{host: host}
	}

	w := &Instrumented{
		host:         host,
		queue:        queue,
		trackResults: cfg.TrackResults,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.WithComponent(w.logger, logging.ComponentWrapper)
	return w
}

// Passthrough registers handlers unchanged. Paid tools are still gated but
// emit no events.
type Passthrough struct {
	host Host
}

// Wrap returns handler itself.
func (p *Passthrough) Wrap(_ string, handler ToolHandler) ToolHandler {
	return handler
}

// WrapPaid gates handler behind payment.
func (p *Passthrough) WrapPaid(tool string, cfg PaidToolConfig, handler ToolHandler) (ToolHandler, error) {
	pt, err := newPaidTool(tool, cfg, handler, p.host, nil)
	if err != nil {
		return nil, err
	}
	return pt.handle, nil
}

// Instrumented emits one telemetry event per invocation.
type Instrumented struct {
	host         Host
	queue        EventQueue
	trackResults bool
	metrics      *instrumentation.Metrics
	audit        *instrumentation.AuditLogger
	logger       *slog.Logger
}

// Wrap returns a handler that queues a Completed or Failed event for every
// call. The original handler receives the original context and request, and
// whatever it returns or panics with reaches the caller unchanged.
func (w *Instrumented) Wrap(tool string, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		inv := capture(ctx, w.host, tool, req, w.logger)
		spanCtx, span := instrumentation.StartToolSpan(ctx, tool, inv.spanAttrs().Build()...)
		defer span.End()

		defer func() {
			if r := recover(); r != nil {
				perr := panicError(r)
				w.finish(spanCtx, inv, w.failed(inv, perr), nil, perr)
				panic(r)
			}
		}()

		result, err = handler(ctx, req)
		if err != nil {
			w.finish(spanCtx, inv, w.failed(inv, err), result, err)
			return result, err
		}

		ev := &events.Completed{Base: inv.base(w.host)}
		if w.trackResults {
			ev.Result = sanitize.Result(result)
		}
		w.finish(spanCtx, inv, ev, result, nil)
		return result, nil
	}
}

// WrapPaid gates handler behind payment and emits payment events.
func (w *Instrumented) WrapPaid(tool string, cfg PaidToolConfig, handler ToolHandler) (ToolHandler, error) {
	pt, err := newPaidTool(tool, cfg, handler, w.host, w)
	if err != nil {
		return nil, err
	}
	return pt.handle, nil
}

func (w *Instrumented) failed(inv *invocation, err error) *events.Failed {
	return &events.Failed{
		Base:         inv.base(w.host),
		ErrorType:    errorKind(err),
		ErrorMessage: err.Error(),
	}
}

// finish queues ev and records the invocation's span status, metrics and
// audit line. err is the error returned or panicked by the handler.
func (w *Instrumented) finish(ctx context.Context, inv *invocation, ev events.Event, result *mcp.CallToolResult, err error) {
	w.emit(ev)

	span := trace.SpanFromContext(ctx)
	status := instrumentation.StatusSuccess
	if err != nil || (result != nil && result.IsError) {
		status = instrumentation.StatusError
	}
	if err != nil {
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	duration := time.Since(inv.start)
	if w.metrics != nil {
		w.metrics.RecordToolInvocationWithUser(ctx, inv.tool, status,
			instrumentation.ExtractUserDomain(inv.user.Email), duration)
	}

	if w.audit != nil {
		pt, customerID := paymentFields(ev)
		w.audit.Log(ctx, instrumentation.ToolInvocation{
			Tool:        inv.tool,
			UserEmail:   inv.user.Email,
			RequestID:   inv.requestID,
			SessionID:   inv.sessionID,
			EventType:   string(ev.EventType()),
			PaymentType: pt,
			CustomerID:  customerID,
			Start:       inv.start,
			Duration:    duration,
			Err:         err,
			Success:     status == instrumentation.StatusSuccess,
		})
	}
}

// emit queues ev. A panicking queue is logged and swallowed.
func (w *Instrumented) emit(ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("failed to queue telemetry event",
				logging.EventType(string(ev.EventType())),
				logging.Err(panicError(r)))
		}
	}()
	w.queue.Queue(ev)
}

// invocation is the per-call state captured before the handler runs.
type invocation struct {
	tool      string
	start     time.Time
	requestID string
	sessionID string
	user      events.UserInfo
	client    *events.ClientInfo
	args      map[string]any
}

// capture reads identity from host. Each accessor is isolated: an error or
// panic in one leaves its field empty and does not affect the others.
func capture(ctx context.Context, host Host, tool string, req mcp.CallToolRequest, logger *slog.Logger) *invocation {
	inv := &invocation{
		tool:      tool,
		start:     time.Now(),
		requestID: uuid.NewString(),
		args:      req.GetArguments(),
	}
	if host == nil {
		return inv
	}

	isolate(logger, "session_id", func() error {
		id, err := host.SessionID(ctx)
		inv.sessionID = id
		return err
	})
	isolate(logger, "user_info", func() error {
		user, err := host.UserInfo(ctx)
		inv.user = user
		return err
	})
	if src, ok := host.(ClientInfoSource); ok {
		isolate(logger, "client_info", func() error {
			client, err := src.ClientInfo(ctx)
			inv.client = client
			return err
		})
	}
	return inv
}

func isolate(logger *slog.Logger, accessor string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("identity accessor panicked",
				slog.String("accessor", accessor),
				logging.Err(panicError(r)))
		}
	}()
	if err := fn(); err != nil {
		logger.Debug("identity accessor failed",
			slog.String("accessor", accessor),
			logging.Err(err))
	}
}

// base builds the shared event fields. Duration is measured up to now.
func (inv *invocation) base(host Host) events.Base {
	var info ServerInfo
	if host != nil {
		info = host.ServerInfo()
	}
	return events.Base{
		ServerName:    info.Name,
		ServerVersion: info.Version,
		Environment:   info.Environment,
		Timestamp:     inv.start.UTC(),
		ToolName:      inv.tool,
		Parameters:    sanitize.Parameters(inv.args),
		Duration:      events.DurationMillis(time.Since(inv.start)),
		SessionID:     inv.sessionID,
		RequestID:     inv.requestID,
		UserInfo:      inv.user,
		ClientVersion: inv.client,
	}
}

func (inv *invocation) spanAttrs() *instrumentation.SpanAttributeBuilder {
	return instrumentation.NewSpanAttributeBuilder().
		WithTool(inv.tool).
		WithRequestID(inv.requestID).
		WithSession(inv.sessionID).
		WithUserDomain(inv.user.Email)
}

// errorKind names err for the errorType field: the result of a Kind method
// anywhere in the chain, otherwise the dynamic type name.
func errorKind(err error) string {
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// panicValue carries a recovered non-error panic value.
type panicValue struct {
	value any
}

func (p *panicValue) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (p *panicValue) Kind() string {
	return "panic"
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValue{value: r}
}

func paymentFields(ev events.Event) (string, string) {
	switch e := ev.(type) {
	case *events.PaymentRequired:
		return string(e.PaymentType), e.CustomerID
	case *events.PaymentCompleted:
		return string(e.PaymentType), e.CustomerID
	case *events.PaymentFailed:
		return string(e.PaymentType), e.CustomerID
	}
	return "", ""
}
