// Package server provides the MCP server context, the HTTP transports and
// the health and metrics endpoints of the toolmeter server.
//
// # Key Components
//
// ServerContext is the host the tool wrappers query for each invocation:
//   - caller identity, read from the request context and falling back to a
//     configured default identity (stdio transport)
//   - the MCP session id and client info of the mcp-go client session
//   - server name, version and environment stamped on every event
//
// It also owns the telemetry client and drains its queue on Shutdown.
//
// HTTPServer serves the MCP server over streamable-http or SSE. Caller
// identity is taken from headers set by a trusted authenticating proxy:
//   - X-Toolmeter-User-Id
//   - X-Toolmeter-User-Email
//   - X-Toolmeter-Username
//
// HealthChecker exposes /healthz, /readyz and /healthz/detailed.
// MetricsServer exposes /metrics for Prometheus on a dedicated port.
package server
