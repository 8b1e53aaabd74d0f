package demo_tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/toolmeter/internal/payments"
	"github.com/teemow/toolmeter/internal/tools/common"
)

// Tool names.
const (
	ToolAdd           = "add"
	ToolPremiumReport = "premium_report"
)

// Config selects which demo tools are registered.
type Config struct {
	Wrapper common.Wrapper

	// Gateway and Payments.PriceID must both be set for premium_report.
	Gateway  payments.Gateway
	Payments payments.Config
}

// RegisterDemoTools registers the demo tools with the MCP server.
func RegisterDemoTools(s *mcpserver.MCPServer, cfg Config) error {
	if cfg.Wrapper == nil {
		return fmt.Errorf("a tool wrapper is required")
	}

	addTool := mcp.NewTool(ToolAdd,
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a",
			mcp.Required(),
			mcp.Description("First addend"),
		),
		mcp.WithNumber("b",
			mcp.Required(),
			mcp.Description("Second addend"),
		),
	)
	s.AddTool(addTool, cfg.Wrapper.Wrap(ToolAdd, handleAdd))

	if cfg.Gateway == nil || cfg.Payments.PriceID == "" {
		return nil
	}

	reportTool := mcp.NewTool(ToolPremiumReport,
		mcp.WithDescription("Generate a premium report on a topic. Requires payment."),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("What the report is about"),
		),
	)
	handler, err := cfg.Wrapper.WrapPaid(ToolPremiumReport, PremiumReportConfig(cfg.Gateway, cfg.Payments), handlePremiumReport)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", ToolPremiumReport, err)
	}
	s.AddTool(reportTool, handler)

	return nil
}

// IsPaid reports whether the demo tool name is gated behind payment.
func IsPaid(name string) bool {
	return name == ToolPremiumReport
}

// PremiumReportConfig builds the paid tool settings for premium_report.
func PremiumReportConfig(gw payments.Gateway, pc payments.Config) common.PaidToolConfig {
	mode := payments.ModePayment
	if pc.MeterEvent != "" {
		mode = payments.ModeSubscription
	}
	return common.PaidToolConfig{
		PaymentReason: "Premium reports are available to paying customers",
		Checkout: payments.CheckoutTemplate{
			Mode:       mode,
			LineItems:  []payments.LineItem{lineItem(pc)},
			SuccessURL: pc.SuccessURL,
			CancelURL:  pc.CancelURL,
		},
		MeterEvent:   pc.MeterEvent,
		BillingEmail: pc.BillingEmail,
		Gateway:      gw,
	}
}

// lineItem returns the checkout line for the configured price. Metered
// prices are sold without a quantity.
func lineItem(pc payments.Config) payments.LineItem {
	if pc.MeterEvent != "" {
		return payments.LineItem{PriceID: pc.PriceID}
	}
	return payments.LineItem{PriceID: pc.PriceID, Quantity: 1}
}

func handleAdd(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := request.RequireFloat("a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := request.RequireFloat("b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Result: %s", formatNumber(a+b))), nil
}

func handlePremiumReport(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := request.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return mcp.NewToolResultError("topic must not be empty"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Premium report: %s\n\n", topic)
	fmt.Fprintf(&b, "Generated %s.\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Scope: %s\n", topic)
	fmt.Fprintf(&b, "- Words in topic: %d\n", len(strings.Fields(topic)))
	return mcp.NewToolResultText(b.String()), nil
}

// formatNumber prints integral values without a fractional part.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
