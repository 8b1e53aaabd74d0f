package instrumentation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testConfig(metricsExporter, tracingExporter string) Config {
	return Config{
		ServiceName:     "toolmeter-test",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: metricsExporter,
		TracingExporter: tracingExporter,
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	provider, err := NewProvider(ctx, Config{ServiceName: "toolmeter-test", Enabled: false})
	require.NoError(t, err)

	assert.False(t, provider.Enabled())
	require.NotNil(t, provider.Metrics(), "a disabled provider still hands out a no-op recorder")
	assert.NotNil(t, provider.Tracer("test"))
	assert.False(t, provider.PrometheusEnabled())

	// No-op instruments accept every call.
	provider.Metrics().RecordToolInvocation(ctx, "add", StatusSuccess, time.Millisecond)
	provider.Metrics().RecordPaymentOutcome(ctx, "premium_report", PaymentOutcomeRequired)
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name           string
		config         Config
		wantPrometheus bool
		wantErr        string
	}{
		{name: "prometheus", config: testConfig(ExporterPrometheus, ExporterNone), wantPrometheus: true},
		{name: "stdout", config: testConfig(ExporterStdout, ExporterStdout)},
		{name: "unknown metrics exporter", config: testConfig("statsd", ExporterNone), wantErr: "unsupported metrics exporter"},
		{name: "unknown tracing exporter", config: testConfig(ExporterPrometheus, "jaeger"), wantErr: "unsupported tracing exporter"},
		{name: "otlp tracing without endpoint", config: testConfig(ExporterPrometheus, ExporterOTLP), wantErr: "OTLP endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			provider, err := NewProvider(ctx, tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer func() { _ = provider.Shutdown(ctx) }()

			assert.True(t, provider.Enabled())
			assert.NotNil(t, provider.Metrics())
			assert.NotNil(t, provider.Tracer("test"))
			assert.Equal(t, tt.wantPrometheus, provider.PrometheusEnabled())
		})
	}
}

func TestNewProvider_WithMetricReader(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	provider, err := NewProvider(ctx, testConfig("not-a-real-exporter", ExporterNone), WithMetricReader(reader))
	require.NoError(t, err, "an injected reader bypasses exporter selection")
	defer func() { _ = provider.Shutdown(ctx) }()

	assert.False(t, provider.PrometheusEnabled())

	provider.Metrics().RecordToolInvocation(ctx, "add", StatusSuccess, time.Millisecond)
	provider.Metrics().RecordToolInvocation(ctx, "add", StatusError, time.Millisecond)
	assert.Equal(t, int64(2), counterValue(t, reader, "mcp_tool_invocations_total"))
}

func TestNewProvider_WithSpanExporter(t *testing.T) {
	ctx := context.Background()
	spans := tracetest.NewInMemoryExporter()

	provider, err := NewProvider(ctx, testConfig(ExporterStdout, ExporterNone),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithSpanExporter(spans))
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(ctx) }()

	_, span := provider.Tracer("test").Start(ctx, "tool.premium_report")
	span.End()

	got := spans.GetSpans()
	require.Len(t, got, 1, "an injected exporter samples every span")
	assert.Equal(t, "tool.premium_report", got[0].Name)
}

func TestProvider_ShutdownTwice(t *testing.T) {
	ctx := context.Background()
	provider, err := NewProvider(ctx, testConfig(ExporterStdout, ExporterNone), WithMetricReader(sdkmetric.NewManualReader()))
	require.NoError(t, err)

	require.NoError(t, provider.Shutdown(ctx))
	assert.NotPanics(t, func() { _ = provider.Shutdown(ctx) })
}
