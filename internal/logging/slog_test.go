package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture returns a JSON logger and a func decoding its single line.
func capture(t *testing.T) (*slog.Logger, func() map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() map[string]any {
		t.Helper()
		var line map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
		return line
	}
}

func TestWithHelpers(t *testing.T) {
	logger, read := capture(t)
	logger = WithComponent(logger, ComponentWrapper)
	logger = WithTool(logger, "premium_report")
	logger = WithOperation(logger, "gate")

	logger.Info("checked")
	line := read()
	assert.Equal(t, "wrapper", line[KeyComponent])
	assert.Equal(t, "premium_report", line[KeyTool])
	assert.Equal(t, "gate", line[KeyOperation])
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		attr      slog.Attr
		wantKey   string
		wantValue string
	}{
		{Operation("deliver"), KeyOperation, "deliver"},
		{Component(ComponentCollector), KeyComponent, "collector"},
		{Tool("add"), KeyTool, "add"},
		{EventType("mcp.tool.completed"), KeyEventType, "mcp.tool.completed"},
		{RequestID("0b6f4d3e"), KeyRequestID, "0b6f4d3e"},
		{Customer("cus_123"), KeyCustomer, "cus_123"},
		{Status(StatusSuccess), KeyStatus, "success"},
	}

	for _, tt := range tests {
		t.Run(tt.wantKey, func(t *testing.T) {
			assert.Equal(t, tt.wantKey, tt.attr.Key)
			assert.Equal(t, tt.wantValue, tt.attr.Value.String())
		})
	}
}

func TestSession_TruncatesLongIDs(t *testing.T) {
	assert.Equal(t, "short", Session("short").Value.String())
	assert.Equal(t, "12345678", Session("12345678").Value.String())
	assert.Equal(t, "mcp-sess...", Session("mcp-session-7f1c2a").Value.String())
	assert.Equal(t, KeySession, Session("x").Key)
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("stripe unavailable"))
	assert.Equal(t, KeyError, attr.Key)
	assert.Equal(t, "stripe unavailable", attr.Value.String())

	logger, read := capture(t)
	logger.Info("nil error", Err(nil))
	_, present := read()[KeyError]
	assert.False(t, present, "a nil error adds no attribute")
}

func TestAnonymizeEmail(t *testing.T) {
	assert.Empty(t, AnonymizeEmail(""))

	hashed := AnonymizeEmail("alice@example.com")
	assert.True(t, strings.HasPrefix(hashed, "user:"))
	assert.Len(t, hashed, len("user:")+16)
	assert.NotContains(t, hashed, "alice")
	assert.Equal(t, hashed, AnonymizeEmail("alice@example.com"), "stable for correlation")
	assert.NotEqual(t, hashed, AnonymizeEmail("bob@example.com"))
}

func TestUserHash(t *testing.T) {
	attr := UserHash("alice@example.com")
	assert.Equal(t, KeyUserHash, attr.Key)
	assert.Equal(t, AnonymizeEmail("alice@example.com"), attr.Value.String())
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))
	assert.Equal(t, "[token:11 chars]", SanitizeToken("sk_test_abc"))
	assert.NotContains(t, SanitizeToken("tm_live_secret"), "tm_")
}
