package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/toolmeter/internal/events"
	"github.com/teemow/toolmeter/internal/instrumentation"
	"github.com/teemow/toolmeter/internal/logging"
	"github.com/teemow/toolmeter/internal/payments"
	"github.com/teemow/toolmeter/internal/server"
	"github.com/teemow/toolmeter/internal/telemetry"
	"github.com/teemow/toolmeter/internal/tools/common"
	"github.com/teemow/toolmeter/internal/tools/demo_tools"
)

const (
	transportStdio = "stdio"

	// shutdownTimeout bounds the graceful stop of the HTTP listeners.
	shutdownTimeout = 30 * time.Second
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// serveOptions collects the serve flags after environment fallbacks.
type serveOptions struct {
	transport string
	httpAddr  string
	debug     bool
	metrics   MetricsConfig

	// identity is reported for callers that carry none, as on stdio.
	identity events.UserInfo

	// Raw telemetry flags, applied over the environment only when set.
	apiKey      string
	endpoint    string
	environment string

	telemetry telemetry.Config
	payments  payments.Config
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server with instrumented tools.

Every tool invocation is reported to the ingestion endpoint when an API key is
configured. Paid tools are gated behind a Stripe checkout when STRIPE_SECRET_KEY
and TOOLMETER_PRICE_ID are set.

Supports multiple transports:
  - stdio: Standard input/output (default)
  - streamable-http: HTTP server with streaming
  - sse: HTTP server with server-sent events`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.resolve(cmd)
			return runServe(opts)
		},
	}

	addServeFlags(cmd, &opts)
	return cmd
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.transport, "transport", transportStdio, "Transport type: stdio, streamable-http or sse")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http and sse transports)")

	// Telemetry flags
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Ingestion API key. Without one tools run uninstrumented. Can also use TOOLMETER_API_KEY env var.")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", telemetry.DefaultEndpoint, "Ingestion endpoint URL. Can also use TOOLMETER_ENDPOINT env var.")
	cmd.Flags().StringVar(&opts.environment, "environment", telemetry.DefaultEnvironment, "Environment reported in every event. Can also use TOOLMETER_ENVIRONMENT env var.")

	// Default identity flags
	cmd.Flags().StringVar(&opts.identity.UserID, "user-id", "", "User id reported for callers without identity headers. Can also use TOOLMETER_USER_ID env var.")
	cmd.Flags().StringVar(&opts.identity.Email, "user-email", "", "Email reported for callers without identity headers. Can also use TOOLMETER_USER_EMAIL env var.")
	cmd.Flags().StringVar(&opts.identity.Username, "username", "", "Username reported for callers without identity headers. Can also use TOOLMETER_USERNAME env var.")

	// Metrics server flags
	cmd.Flags().BoolVar(&opts.metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
}

// resolve fills the telemetry and payment settings from the environment and
// applies explicitly set flags on top.
func (opts *serveOptions) resolve(cmd *cobra.Command) {
	opts.telemetry = telemetry.DefaultConfig()
	if cmd.Flags().Changed("api-key") {
		opts.telemetry.APIKey = opts.apiKey
	}
	if cmd.Flags().Changed("endpoint") {
		opts.telemetry.Endpoint = opts.endpoint
	}
	if cmd.Flags().Changed("environment") {
		opts.telemetry.Environment = opts.environment
	}
	opts.payments = payments.DefaultConfig()
	loadServeEnvVars(cmd, opts)
}

// loadServeEnvVars loads serve configuration from environment variables.
// Environment variables only override flag values when the flag was not explicitly set.
func loadServeEnvVars(cmd *cobra.Command, opts *serveOptions) {
	envString := func(flag, key string, dst *string) {
		if cmd.Flags().Changed(flag) {
			return
		}
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envString("user-id", "TOOLMETER_USER_ID", &opts.identity.UserID)
	envString("user-email", "TOOLMETER_USER_EMAIL", &opts.identity.Email)
	envString("username", "TOOLMETER_USERNAME", &opts.identity.Username)
	envString("metrics-addr", "METRICS_ADDR", &opts.metrics.Addr)

	if !cmd.Flags().Changed("metrics-enabled") {
		if v := os.Getenv("METRICS_ENABLED"); v != "" {
			if enabled, err := strconv.ParseBool(v); err == nil {
				opts.metrics.Enabled = enabled
			}
		}
	}
}

// newLogger logs to stderr so stdout stays free for the stdio transport.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runServe(opts serveOptions) error {
	logger := newLogger(opts.debug)
	slog.SetDefault(logger)

	switch opts.transport {
	case transportStdio, server.ServerTypeStreamableHTTP, server.ServerTypeSSE:
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http, sse)", opts.transport)
	}
	if err := opts.payments.Validate(); err != nil {
		return fmt.Errorf("invalid payment configuration: %w", err)
	}

	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()

	var (
		metrics *instrumentation.Metrics
		audit   *instrumentation.AuditLogger
	)
	if provider.Enabled() {
		metrics = provider.Metrics()
		audit = instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging)
	}

	// A telemetry client that cannot be built leaves tools uninstrumented
	// rather than failing startup.
	var (
		client *telemetry.Client
		queue  common.EventQueue
	)
	if opts.telemetry.Enabled() {
		clientOpts := []telemetry.Option{telemetry.WithLogger(logger), telemetry.WithVersion(version)}
		if metrics != nil {
			clientOpts = append(clientOpts, telemetry.WithRecorder(metrics))
		}
		client, err = telemetry.NewClient(opts.telemetry, clientOpts...)
		if err != nil {
			logger.Warn("telemetry disabled", logging.Err(err))
		} else {
			queue = client
			logger.Info("telemetry enabled",
				"endpoint", opts.telemetry.Endpoint,
				"api_key", logging.SanitizeToken(opts.telemetry.APIKey))
		}
	} else {
		logger.Info("no telemetry API key configured, tools run uninstrumented")
	}

	scOpts := []server.Option{server.WithDefaultIdentity(opts.identity)}
	if metrics != nil {
		scOpts = append(scOpts, server.WithMetrics(metrics))
	}
	if client != nil {
		scOpts = append(scOpts, server.WithTelemetry(client))
	}
	serverContext := server.NewServerContext(shutdownCtx, common.ServerInfo{
		Name:        "toolmeter",
		Version:     version,
		Environment: opts.telemetry.Environment,
	}, scOpts...)
	defer func() {
		// Delivers queued telemetry before exit
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("error during server context shutdown", logging.Err(err))
		}
	}()

	gateway, err := newGateway(opts.payments, metrics)
	if err != nil {
		return err
	}

	wrapperOpts := []common.WrapperOption{common.WithLogger(logger)}
	if metrics != nil {
		wrapperOpts = append(wrapperOpts, common.WithMetrics(metrics), common.WithAuditLogger(audit))
	}
	wrapper := common.NewWrapper(opts.telemetry, serverContext, queue, wrapperOpts...)

	// Create MCP server
	mcpSrv := mcpserver.NewMCPServer("toolmeter", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithHooks(serverContext.Hooks()),
	)

	if err := demo_tools.RegisterDemoTools(mcpSrv, demo_tools.Config{
		Wrapper:  wrapper,
		Gateway:  gateway,
		Payments: opts.payments,
	}); err != nil {
		return fmt.Errorf("failed to register demo tools: %w", err)
	}

	if opts.transport == transportStdio {
		return runStdioServer(mcpSrv)
	}

	g, gctx := errgroup.WithContext(shutdownCtx)

	if opts.metrics.Enabled && provider.PrometheusEnabled() {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    opts.metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			return shutdownWithTimeout(metricsServer.Shutdown)
		})
	}

	httpServer, err := server.NewHTTPServer(mcpSrv, serverContext, opts.transport)
	if err != nil {
		return err
	}
	g.Go(func() error {
		if err := httpServer.Start(opts.httpAddr); err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping HTTP server")
		if err := shutdownWithTimeout(httpServer.Shutdown); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
		return nil
	})

	logger.Info("toolmeter MCP server started",
		"transport", opts.transport,
		"addr", opts.httpAddr,
		"instrumented", queue != nil,
		"paid_tools", gateway != nil && opts.payments.PriceID != "")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("HTTP server gracefully stopped")
	return nil
}

// newGateway returns nil when no Stripe secret is configured, which leaves
// paid tools unregistered.
func newGateway(cfg payments.Config, metrics *instrumentation.Metrics) (payments.Gateway, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	stripeGateway, err := payments.NewStripeGateway(cfg.SecretKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment gateway: %w", err)
	}
	logging.WithComponent(slog.Default(), logging.ComponentPayments).Info("payment gateway enabled",
		"secret_key", logging.SanitizeToken(cfg.SecretKey),
		"price_id", cfg.PriceID,
		"usage_based", cfg.MeterEvent != "")

	// A nil *Metrics must not become a non-nil recorder.
	if metrics == nil {
		return payments.NewInstrumentedGateway(stripeGateway, nil), nil
	}
	return payments.NewInstrumentedGateway(stripeGateway, metrics), nil
}

func shutdownWithTimeout(shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return shutdown(ctx)
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil && !errors.Is(err, context.Canceled) {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}
