// Package telemetry provides OpenTelemetry metrics for catalog sync.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/custodia-labs/catalog-sync/internal/logger"
)

const (
	// DefaultServiceName is the service name reported with metrics.
	DefaultServiceName = "catalogsync"

	// DefaultEndpoint is the default OTLP HTTP endpoint.
	DefaultEndpoint = "localhost:4318"

	// DefaultMetricsInterval is the default export interval.
	DefaultMetricsInterval = 60 * time.Second
)

// Config configures metric export.
type Config struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	Interval       time.Duration
	ServiceVersion string
}

// ShutdownFunc flushes and stops a meter provider.
type ShutdownFunc func(context.Context) error

// NewMeterProvider creates an OTLP-exporting MeterProvider.
// Returns a no-op provider if metrics are disabled.
func NewMeterProvider(ctx context.Context, cfg Config) (metric.MeterProvider, ShutdownFunc, error) {
	if !cfg.Enabled {
		logger.Debug("metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}
	version := cfg.ServiceVersion
	if version == "" {
		version = "unknown"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(DefaultServiceName),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create OTLP metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)

	logger.L().Info("metrics initialised", "endpoint", endpoint, "insecure", cfg.Insecure)
	return mp, mp.Shutdown, nil
}
