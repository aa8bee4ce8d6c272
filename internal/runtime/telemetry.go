package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/lectorlabs/lector-core/internal/config"
)

// telemetry bundles the providers registered for the daemon so shutdown can
// flush both in one call.
type telemetry struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
}

func (t *telemetry) shutdown(ctx context.Context) error {
	var errs []error
	if t.metrics != nil {
		errs = append(errs, t.metrics.Shutdown(ctx))
	}
	if t.traces != nil {
		errs = append(errs, t.traces.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// setupTelemetry registers global trace and meter providers. The returned
// handler serves Prometheus scrapes; it is nil when the exporter could not
// be built, in which case metrics are recorded but never exported.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	spanExporter, err := newSpanExporter(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	tel := &telemetry{
		traces: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(res),
		),
	}
	otel.SetTracerProvider(tel.traces)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	var scrapeHandler http.Handler
	if promExporter, err := prometheus.New(); err != nil {
		logger.Warn("prometheus exporter unavailable, metrics will not be scraped",
			slog.String("error", err.Error()))
	} else {
		meterOpts = append(meterOpts, sdkmetric.WithReader(promExporter))
		scrapeHandler = promhttp.Handler()
	}
	tel.metrics = sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(tel.metrics)

	return tel.shutdown, scrapeHandler, nil
}

// newSpanExporter picks the trace backend: OTLP over gRPC when an endpoint
// is configured, otherwise pretty-printed stdout for local runs.
func newSpanExporter(cfg config.Config, logger *slog.Logger) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint)
	if endpoint == "" {
		logger.Info("tracing to stdout")
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if cfg.Telemetry.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	logger.Info("tracing to otlp collector", slog.String("endpoint", endpoint))
	return otlptracegrpc.New(context.Background(), opts...)
}
