package relsim

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
	"pkt.systems/relsdk/api"
)

type simMetrics struct {
	transactions metric.Int64Counter
	actions      metric.Int64Histogram
	latency      metric.Int64Histogram
}

func newSimMetrics(logger pslog.Logger) *simMetrics {
	meter := otel.Meter("pkt.systems/relsdk/internal/relsim")
	m := &simMetrics{}
	var err error

	m.transactions, err = meter.Int64Counter(
		"relsim.transactions",
		metric.WithDescription("Transactions processed, by mode and outcome"),
	)
	logMetricInitError(logger, "relsim.transactions", err)

	m.actions, err = meter.Int64Histogram(
		"relsim.transaction.actions",
		metric.WithDescription("Actions carried per transaction"),
	)
	logMetricInitError(logger, "relsim.transaction.actions", err)

	m.latency, err = meter.Int64Histogram(
		"relsim.transaction.latency_ms",
		metric.WithDescription("Time spent applying a transaction"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "relsim.transaction.latency_ms", err)
	return m
}

func (m *simMetrics) record(ctx context.Context, tx *api.Transaction, outcome string, actions int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("relsim.mode", string(tx.Mode)),
		attribute.String("relsim.outcome", outcome),
	)
	if m.transactions != nil {
		m.transactions.Add(ctx, 1, attrs)
	}
	if m.actions != nil {
		m.actions.Record(ctx, int64(actions), attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, elapsed.Milliseconds(), attrs)
	}
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
