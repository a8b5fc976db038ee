// Package metrics exposes vigil's OpenTelemetry instruments.
// When disabled every recording method is a no-op.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterName is the instrumentation scope name for vigil metrics.
const MeterName = "vigil"

type Config struct {
	Enabled bool
}

// Metrics holds all vigil metric instruments.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TaskRuns      metric.Int64Counter
	TaskFailures  metric.Int64Counter
	TaskDuration  metric.Float64Histogram
	HealthScore   metric.Float64Gauge
	SampleErrors  metric.Int64Counter
	Escalations   metric.Int64Counter
	Notifications metric.Int64Counter

	reader   *sdkmetric.ManualReader
	shutdown func(context.Context) error
}

// New builds the instruments. With cfg.Enabled false the instruments come
// from a noop meter provider.
func New(cfg Config) (*Metrics, error) {
	if !cfg.Enabled {
		m, err := newInstruments(noop.NewMeterProvider().Meter(MeterName))
		if err != nil {
			return nil, err
		}
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newInstruments(mp.Meter(MeterName))
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}
	m.reader = reader
	m.shutdown = mp.Shutdown
	return m, nil
}

func newInstruments(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskRuns, err = meter.Int64Counter("vigil.task.runs",
		metric.WithDescription("Task callback invocations"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskFailures, err = meter.Int64Counter("vigil.task.failures",
		metric.WithDescription("Task callbacks that returned an error, panicked or timed out"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("vigil.task.duration",
		metric.WithDescription("Task callback duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HealthScore, err = meter.Float64Gauge("vigil.health.score",
		metric.WithDescription("Latest composite health score (0-100)"),
	)
	if err != nil {
		return nil, err
	}

	m.SampleErrors, err = meter.Int64Counter("vigil.health.sample_errors",
		metric.WithDescription("Resource sampling failures"),
	)
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("vigil.escalation.transitions",
		metric.WithDescription("Escalation state transitions"),
	)
	if err != nil {
		return nil, err
	}

	m.Notifications, err = meter.Int64Counter("vigil.notifications",
		metric.WithDescription("Emergency notifications attempted"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Reader returns the manual reader backing an enabled provider (nil otherwise).
func (m *Metrics) Reader() *sdkmetric.ManualReader {
	if m == nil {
		return nil
	}
	return m.reader
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}

func (m *Metrics) TaskRun(ctx context.Context, id, priority string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("task", id),
		attribute.String("priority", priority),
	)
	m.TaskRuns.Add(ctx, 1, attrs)
	m.TaskDuration.Record(ctx, d.Seconds(), attrs)
	if !ok {
		m.TaskFailures.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) Health(ctx context.Context, score float64) {
	if m == nil {
		return
	}
	m.HealthScore.Record(ctx, score)
}

func (m *Metrics) SampleError(ctx context.Context) {
	if m == nil {
		return
	}
	m.SampleErrors.Add(ctx, 1)
}

func (m *Metrics) Escalation(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.Escalations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) Notification(ctx context.Context, delivered bool) {
	if m == nil {
		return
	}
	m.Notifications.Add(ctx, 1, metric.WithAttributes(attribute.Bool("delivered", delivered)))
}
