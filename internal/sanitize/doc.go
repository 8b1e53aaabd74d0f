// Package sanitize prepares tool parameters and results for transmission as
// telemetry.
//
// Both entry points return independent copies. The values handed to a tool
// handler, and the result handed back to the MCP client, are never modified.
//
//   - Parameters redacts values whose key names look like credentials and
//     truncates long strings.
//   - Result normalizes an arbitrary result (typically *mcp.CallToolResult)
//     to JSON-shaped data and caps text length, field counts and array sizes.
//     Binary payloads are replaced by a size marker and never transmitted.
package sanitize
