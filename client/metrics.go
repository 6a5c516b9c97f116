package client

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
	"pkt.systems/relsdk/api"
)

type clientMetrics struct {
	transactions    metric.Int64Counter
	duration        metric.Int64Histogram
	versionAdvances metric.Int64Counter
	staleVersions   metric.Int64Counter
}

func newClientMetrics(logger pslog.Base) *clientMetrics {
	meter := otel.Meter("pkt.systems/relsdk/client")
	m := &clientMetrics{}
	var err error

	m.transactions, err = meter.Int64Counter(
		"relsdk.client.transactions",
		metric.WithDescription("Transactions sent, by mode, readonly flag and outcome"),
	)
	logMetricInitError(logger, "relsdk.client.transactions", err)

	m.duration, err = meter.Int64Histogram(
		"relsdk.client.transaction.duration_ms",
		metric.WithDescription("Round-trip time of a transaction"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "relsdk.client.transaction.duration_ms", err)

	m.versionAdvances, err = meter.Int64Counter(
		"relsdk.client.version.advances",
		metric.WithDescription("Responses that advanced a cached database version"),
	)
	logMetricInitError(logger, "relsdk.client.version.advances", err)

	m.staleVersions, err = meter.Int64Counter(
		"relsdk.client.version.stale",
		metric.WithDescription("Transactions rejected for a stale version"),
	)
	logMetricInitError(logger, "relsdk.client.version.stale", err)

	return m
}

func (m *clientMetrics) recordTransaction(ctx context.Context, tx *api.Transaction, outcome string, duration time.Duration, advanced, stale bool) {
	if m == nil || tx == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("relsdk.txn.mode", string(tx.Mode)),
		attribute.Bool("relsdk.txn.readonly", tx.ReadOnly),
		attribute.String("relsdk.txn.outcome", outcome),
	)
	if m.transactions != nil {
		m.transactions.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Milliseconds(), attrs)
	}
	if advanced && m.versionAdvances != nil {
		m.versionAdvances.Add(ctx, 1)
	}
	if stale && m.staleVersions != nil {
		m.staleVersions.Add(ctx, 1)
	}
}

func logMetricInitError(logger pslog.Base, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
