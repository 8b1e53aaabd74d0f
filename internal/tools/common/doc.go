// Package common wraps MCP tool handlers with invocation telemetry and
// payment gating.
//
// A Wrapper is selected once at startup by NewWrapper. Without a telemetry
// API key it is a Passthrough and handlers run exactly as registered.
// Otherwise it is Instrumented: every invocation emits one event to the
// delivery queue, records tool metrics and a span, and writes an audit line.
//
// Paid tools are registered through WrapPaid. The handler only runs for a
// caller who is entitled to the tool; everyone else receives a structured
// payment_required result carrying a checkout URL.
package common
