// Package cmd implements the command-line interface for toolmeter.
//
// This package provides the following commands:
//   - serve: Start the MCP server with instrumented and payment-gated tools
//   - collect: Run a development ingestion endpoint for telemetry events
//   - generate-docs: Generate markdown documentation for all MCP tools
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
