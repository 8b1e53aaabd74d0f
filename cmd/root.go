package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the toolmeter application
var rootCmd = &cobra.Command{
	Use:   "toolmeter",
	Short: "Metered and payment-gated MCP tools",
	Long: `toolmeter serves MCP tools that report every invocation to an
ingestion endpoint and can gate selected tools behind a Stripe payment.

It can run as:
  - An MCP (Model Context Protocol) server (default)
  - A development ingestion endpoint that validates and logs events`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "toolmeter version %s\n" .Version}}`)

	// If no subcommand is provided, run the MCP server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCollectCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
