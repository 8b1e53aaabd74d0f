package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/toolmeter/internal/collector"
)

func newCollectCmd() *cobra.Command {
	var (
		cfg   collector.Config
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a development ingestion endpoint",
		Long: `Run a local ingestion endpoint that accepts the same batches as the hosted
service. Each event is validated against the event schema and accepted events
are logged.

Point a server at it with:
  TOOLMETER_ENDPOINT=http://localhost:8089/v1/events toolmeter serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("api-key") {
				cfg.APIKey = os.Getenv("TOOLMETER_API_KEY")
			}
			if !cmd.Flags().Changed("addr") {
				if addr := os.Getenv("TOOLMETER_COLLECTOR_ADDR"); addr != "" {
					cfg.Addr = addr
				}
			}
			cfg.Logger = newLogger(debug)
			return runCollect(cfg)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging (logs skipped events)")
	cmd.Flags().StringVar(&cfg.Addr, "addr", collector.DefaultAddr, "Listen address. Can also use TOOLMETER_COLLECTOR_ADDR env var.")
	cmd.Flags().StringVar(&cfg.APIKey, "api-key", "", "API key clients must send. Can also use TOOLMETER_API_KEY env var.")
	cmd.Flags().StringVar(&cfg.Path, "path", collector.DefaultPath, "Ingestion endpoint path")
	cmd.Flags().IntVar(&cfg.Retain, "retain", collector.DefaultRetain, "Number of accepted events returned by GET on the endpoint")

	return cmd
}

func runCollect(cfg collector.Config) error {
	c, err := collector.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}

	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)
	g.Go(c.Start)
	g.Go(func() error {
		<-gctx.Done()
		return shutdownWithTimeout(c.Shutdown)
	})
	return g.Wait()
}
