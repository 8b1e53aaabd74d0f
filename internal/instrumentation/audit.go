package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/toolmeter/internal/logging"
)

// ToolInvocation is the audit record of one wrapped tool call.
//
// UserEmail is PII. The AuditLogger only writes it when IncludePII is set and
// otherwise reduces it to its domain.
type ToolInvocation struct {
	Tool      string
	UserEmail string
	RequestID string
	SessionID string

	// EventType is the telemetry event emitted for the call.
	EventType string

	// PaymentType and CustomerID are set for paid tools.
	PaymentType string
	CustomerID  string

	Start    time.Time
	Duration time.Duration
	Err      error
	Success  bool
}

// Status returns StatusSuccess or StatusError.
func (ti ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// attrs renders the record. With pii the caller email is written in full.
func (ti ToolInvocation) attrs(ctx context.Context, pii bool) []any {
	out := []any{
		logging.Tool(ti.Tool),
		logging.Status(ti.Status()),
		slog.Duration(logging.KeyDuration, ti.Duration),
	}
	if pii {
		out = append(out, slog.String("user", ti.UserEmail))
	} else {
		out = append(out, slog.String("user_domain", ExtractUserDomain(ti.UserEmail)))
	}

	optional := []struct {
		value string
		attr  func(string) slog.Attr
	}{
		{ti.RequestID, logging.RequestID},
		{ti.SessionID, logging.Session},
		{ti.EventType, logging.EventType},
		{ti.PaymentType, func(v string) slog.Attr { return slog.String("payment_type", v) }},
	}
	for _, o := range optional {
		if o.value != "" {
			out = append(out, o.attr(o.value))
		}
	}
	if pii && ti.CustomerID != "" {
		out = append(out, logging.Customer(ti.CustomerID))
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out, slog.String("trace_id", sc.TraceID().String()))
		if pii {
			out = append(out, slog.String("span_id", sc.SpanID().String()))
		}
	}
	if ti.Err != nil {
		out = append(out, logging.Err(ti.Err))
	}
	return out
}

// AuditLogger writes one line per tool invocation.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger returns an AuditLogger writing to logger (slog.Default when nil).
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logging.WithComponent(logger, logging.ComponentAudit),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// Log writes ti at info level on success and warn level on failure.
// Trace identifiers are taken from the span in ctx.
func (al *AuditLogger) Log(ctx context.Context, ti ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}
	args := ti.attrs(ctx, al.includePII)
	if ti.Success {
		al.logger.InfoContext(ctx, "tool_executed", args...)
		return
	}
	al.logger.WarnContext(ctx, "tool_failed", args...)
}
