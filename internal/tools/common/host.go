package common

import (
	"context"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/toolmeter/internal/events"
)

// ToolHandler is the shape of an MCP tool callback.
type ToolHandler = mcpserver.ToolHandlerFunc

// ServerInfo describes the server reported in every event.
type ServerInfo struct {
	Name        string
	Version     string
	Environment string
}

// Host is the capability set the wrappers need from the running server.
// The accessors are best effort: callers tolerate errors and panics.
type Host interface {
	UserInfo(ctx context.Context) (events.UserInfo, error)
	SessionID(ctx context.Context) (string, error)
	ServerInfo() ServerInfo
}

// ClientInfoSource is implemented by hosts that know which MCP client issued
// a call.
type ClientInfoSource interface {
	ClientInfo(ctx context.Context) (*events.ClientInfo, error)
}

// EventQueue accepts events for asynchronous delivery.
// *telemetry.Client implements it.
type EventQueue interface {
	Queue(e events.Event)
}
