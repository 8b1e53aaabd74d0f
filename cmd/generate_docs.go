package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/toolmeter/internal/payments"
	"github.com/teemow/toolmeter/internal/server"
	"github.com/teemow/toolmeter/internal/telemetry"
	"github.com/teemow/toolmeter/internal/tools/common"
	"github.com/teemow/toolmeter/internal/tools/demo_tools"
)

// docsPriceID makes paid tools visible to doc generation. No checkout is
// ever created with it.
const docsPriceID = "price_docs"

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all available MCP tools.
This command introspects the registered tools and outputs their documentation
in markdown format, ensuring the documentation is always accurate and in sync
with the actual tool implementations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runGenerateDocs(outputFile string) error {
	tools, err := registeredTools()
	if err != nil {
		return err
	}

	markdown := generateToolsMarkdown(tools)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	} else {
		fmt.Print(markdown)
	}

	return nil
}

// registeredTools registers every tool, paid ones included, against a
// throwaway server and returns their definitions.
func registeredTools() ([]mcp.Tool, error) {
	serverContext := server.NewServerContext(context.Background(), common.ServerInfo{
		Name:    "toolmeter",
		Version: version,
	})
	defer func() {
		_ = serverContext.Shutdown()
	}()

	// The Stripe client makes no request until a tool is called.
	gateway, err := payments.NewStripeGateway("sk_docs_placeholder", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment gateway: %w", err)
	}

	mcpSrv := mcpserver.NewMCPServer("toolmeter", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := demo_tools.RegisterDemoTools(mcpSrv, demo_tools.Config{
		Wrapper:  common.NewWrapper(telemetry.Config{}, serverContext, nil),
		Gateway:  gateway,
		Payments: payments.Config{PriceID: docsPriceID},
	}); err != nil {
		return nil, fmt.Errorf("failed to register demo tools: %w", err)
	}

	serverTools := mcpSrv.ListTools()
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, serverTool := range serverTools {
		tools = append(tools, serverTool.Tool)
	}
	return tools, nil
}

const (
	categoryFree = "Free Tools"
	categoryPaid = "Paid Tools"
)

// categoryOrder is the section order of the generated reference.
var categoryOrder = []string{categoryFree, categoryPaid}

func getCategoryFromToolName(name string) string {
	if demo_tools.IsPaid(name) {
		return categoryPaid
	}
	return categoryFree
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	byCategory := make(map[string][]mcp.Tool)
	for _, tool := range tools {
		category := getCategoryFromToolName(tool.Name)
		byCategory[category] = append(byCategory[category], tool)
	}

	var sb strings.Builder
	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("This document provides a complete reference of all tools available when running toolmeter as an MCP server.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	sb.WriteString("## Table of Contents\n\n")
	for _, category := range categoryOrder {
		if len(byCategory[category]) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "- [%s](#%s)\n", category, strings.ToLower(strings.ReplaceAll(category, " ", "-")))
	}
	sb.WriteString("\n")

	if len(byCategory[categoryPaid]) > 0 {
		sb.WriteString("## Payment\n\n")
		sb.WriteString("Paid tools check whether the caller is entitled before running:\n\n")
		sb.WriteString("- **Entitled:** the tool runs and its usage is recorded\n")
		sb.WriteString("- **Not entitled:** the result carries `status: payment_required` and a `checkoutUrl` to complete payment\n")
		sb.WriteString("- **Identity:** the caller is identified by email, from the `X-Toolmeter-User-Email` header or `--user-email`\n\n")
	}

	for _, category := range categoryOrder {
		categoryTools := byCategory[category]
		if len(categoryTools) == 0 {
			continue
		}
		slices.SortFunc(categoryTools, func(a, b mcp.Tool) int {
			return strings.Compare(a.Name, b.Name)
		})

		fmt.Fprintf(&sb, "## %s\n\n", category)
		for _, tool := range categoryTools {
			writeToolMarkdown(&sb, tool)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// writeToolMarkdown renders one tool with its arguments in name order.
func writeToolMarkdown(sb *strings.Builder, tool mcp.Tool) {
	fmt.Fprintf(sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(sb, "%s\n\n", tool.Description)
	}

	props := tool.InputSchema.Properties
	if len(props) == 0 {
		return
	}

	sb.WriteString("**Arguments:**\n")
	for _, name := range slices.Sorted(maps.Keys(props)) {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}

		requirement := "optional"
		if slices.Contains(tool.InputSchema.Required, name) {
			requirement = "required"
		}

		desc, ok := prop["description"].(string)
		if !ok {
			desc = propertyType(prop) + " parameter"
		}
		fmt.Fprintf(sb, "- `%s` (%s): %s\n", name, requirement, desc)
	}
	sb.WriteString("\n")
}

func propertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}
