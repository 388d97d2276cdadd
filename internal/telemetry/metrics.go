package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// SyncMetricsMeterName is the name used for the sync metrics meter.
const SyncMetricsMeterName = "github.com/custodia-labs/catalog-sync/sync"

// SyncMetrics holds the instruments recorded by the batch tick processor.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	ticks        metric.Int64Counter
	tickDuration metric.Float64Histogram
	records      metric.Int64Counter
	batchSize    metric.Int64Gauge
	sessions     metric.Int64Counter
}

// NewSyncMetrics creates the sync instruments on a provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	ticks, err := meter.Int64Counter(
		"catalogsync_ticks_total",
		metric.WithDescription("Batch ticks processed, by resulting step"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	tickDuration, err := meter.Float64Histogram(
		"catalogsync_tick_duration_seconds",
		metric.WithDescription("Duration of batch ticks in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"catalogsync_records_total",
		metric.WithDescription("Catalog records written, by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	batchSize, err := meter.Int64Gauge(
		"catalogsync_batch_size",
		metric.WithDescription("Current adaptive sub-batch size"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := meter.Int64Counter(
		"catalogsync_sessions_total",
		metric.WithDescription("Sync sessions ended, by outcome"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		ticks:        ticks,
		tickDuration: tickDuration,
		records:      records,
		batchSize:    batchSize,
		sessions:     sessions,
	}, nil
}

// RecordTick records one tick and the step it produced.
func (m *SyncMetrics) RecordTick(ctx context.Context, scope, step string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("scope", domain.ScopeName(scope)),
		attribute.String("step", step),
	)
	m.ticks.Add(ctx, 1, attrs)
	m.tickDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBatch records the outcome counts of one sub-batch.
func (m *SyncMetrics) RecordBatch(ctx context.Context, scope string, result domain.BatchResult) {
	if m == nil {
		return
	}
	name := domain.ScopeName(scope)
	for outcome, n := range map[string]int{
		"created": result.Created,
		"updated": result.Updated,
		"failed":  result.Failed,
	} {
		if n == 0 {
			continue
		}
		m.records.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("scope", name),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordBatchSize records the current adaptive batch size of a scope.
func (m *SyncMetrics) RecordBatchSize(ctx context.Context, scope string, size int) {
	if m == nil {
		return
	}
	m.batchSize.Record(ctx, int64(size), metric.WithAttributes(
		attribute.String("scope", domain.ScopeName(scope)),
	))
}

// RecordSession records a session reaching a terminal status.
func (m *SyncMetrics) RecordSession(ctx context.Context, scope string, outcome domain.SessionStatus) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", domain.ScopeName(scope)),
		attribute.String("outcome", string(outcome)),
	))
}
