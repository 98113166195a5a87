package asiomysql

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricsInstrumentationName = "github.com/AStone/AsioBased-MysqlClient"

// OTel semantic-convention attribute keys for connection-pool metrics.
const (
	attrKeyPoolName = "db.client.connection.pool.name"
	attrKeyState    = "db.client.connection.state"
)

// connectionState names the two Pool-population buckets a
// Connection can be counted under.
type connectionState string

const (
	stateIdle connectionState = "idle"
	stateUsed connectionState = "used"
)

var defaultMeter = otel.Meter(metricsInstrumentationName)

// connectionCount wraps an Int64UpDownCounter for connection counts by
// pool/state, following
// multigres-multigres/go/services/multipooler/pools/connpool/metrics.go's
// ConnectionCount: the standard db.client.connection.count metric name
// with pool-name/state attributes attached on every Add rather than
// left to caller-supplied attributes (the bug that type works around).
type connectionCount struct {
	counter metric.Int64UpDownCounter
}

func newConnectionCount(m metric.Meter) connectionCount {
	counter, _ := m.Int64UpDownCounter(
		"db.client.connection.count",
		metric.WithDescription("The number of connections that are currently in the state described by the state attribute."),
		metric.WithUnit("{connection}"),
	)
	return connectionCount{counter: counter}
}

func (c connectionCount) add(ctx context.Context, delta int64, poolName string, state connectionState) {
	if c.counter == nil {
		return
	}
	c.counter.Add(ctx, delta, metric.WithAttributes(
		attribute.String(attrKeyPoolName, poolName),
		attribute.String(attrKeyState, string(state)),
	))
}

// poolMetrics bundles every instrument a Pool records against.
type poolMetrics struct {
	connCount       connectionCount
	statementTotal  metric.Int64Counter
	statementTiming metric.Float64Histogram
	txTotal         metric.Int64Counter
	txTiming        metric.Float64Histogram
}

func newPoolMetrics(meter metric.Meter) *poolMetrics {
	m := &poolMetrics{connCount: newConnectionCount(meter)}
	m.statementTotal, _ = meter.Int64Counter(
		"db.client.statements.count",
		metric.WithDescription("Total number of statements executed through the pool."),
	)
	m.statementTiming, _ = meter.Float64Histogram(
		"db.client.statement.duration",
		metric.WithDescription("Duration of statement execution."),
		metric.WithUnit("s"),
	)
	m.txTotal, _ = meter.Int64Counter(
		"db.client.transactions.count",
		metric.WithDescription("Total number of transactions opened through the pool."),
	)
	m.txTiming, _ = meter.Float64Histogram(
		"db.client.transaction.duration",
		metric.WithDescription("Duration of a transaction from BEGIN to COMMIT/ROLLBACK."),
		metric.WithUnit("s"),
	)
	return m
}

// EnableMetrics turns OTel metric recording on or off, lazily
// initializing instruments from meterProvider (or the package default
// meter) the first time it is enabled.
func (p *Pool) EnableMetrics(enabled bool) {
	if p == nil {
		return
	}
	p.metricsEnabled = enabled
	if enabled && p.metrics == nil {
		p.initMetrics()
	}
}

// SetMeterProvider installs a custom metric.MeterProvider, re-creating
// instruments against it if metrics are already enabled.
func (p *Pool) SetMeterProvider(provider metric.MeterProvider) {
	if p == nil {
		return
	}
	p.meterProvider = provider
	if p.metricsEnabled {
		p.initMetrics()
	}
}

func (p *Pool) initMetrics() {
	var meter metric.Meter
	if p.meterProvider != nil {
		meter = p.meterProvider.Meter(metricsInstrumentationName)
	} else {
		meter = defaultMeter
	}
	p.metrics = newPoolMetrics(meter)
}

func (p *Pool) recordConnectionState(ctx context.Context, delta int64, state connectionState) {
	if p == nil || !p.metricsEnabled || p.metrics == nil {
		return
	}
	p.metrics.connCount.add(ctx, delta, p.name, state)
}

func (p *Pool) recordStatement(ctx context.Context, duration time.Duration, err error) {
	if p == nil || !p.metricsEnabled || p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	p.metrics.statementTotal.Add(ctx, 1, attrs)
	p.metrics.statementTiming.Record(ctx, duration.Seconds(), attrs)
}

func (p *Pool) recordTransaction(ctx context.Context, duration time.Duration, err error) {
	if p == nil || !p.metricsEnabled || p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	p.metrics.txTotal.Add(ctx, 1, attrs)
	p.metrics.txTiming.Record(ctx, duration.Seconds(), attrs)
}
