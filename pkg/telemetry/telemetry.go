package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder exposes the counters and histograms the rest of the repo
// publishes to: retry attempts, circuit breaker trips, connection
// quality samples, and session lifecycle counts.
type Recorder struct {
	meter metric.Meter

	retryAttempts    metric.Int64Counter
	breakerTrips     metric.Int64Counter
	connectionQuality metric.Float64Histogram
	sessionsStarted  metric.Int64Counter
	sessionsEnded    metric.Int64Counter
	reconnects       metric.Int64Counter
}

var (
	initOnce sync.Once
	provider *sdkmetric.MeterProvider
)

// NewPrometheusRecorder wires a Prometheus-backed MeterProvider as the
// global OTel meter provider and returns a Recorder bound to serviceName,
// following the teacher pack's own deployment-binary convention of
// exporters/prometheus.New() feeding sdkmetric.NewMeterProvider.
func NewPrometheusRecorder(serviceName string) (*Recorder, error) {
	var exporter *prometheus.Exporter
	var err error
	initOnce.Do(func() {
		exporter, err = prometheus.New()
		if err != nil {
			return
		}
		provider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		otel.SetMeterProvider(provider)
	})
	if err != nil {
		return nil, fmt.Errorf("init prometheus exporter: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("meter provider not initialized")
	}
	return newRecorder(provider.Meter(serviceName))
}

// NewNoopRecorder binds a Recorder to the currently registered global
// meter provider (the OTel no-op provider unless something else set one),
// useful for tests and the cmd demo's default configuration.
func NewNoopRecorder(serviceName string) (*Recorder, error) {
	return newRecorder(otel.Meter(serviceName))
}

func newRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{meter: meter}
	var err error

	r.retryAttempts, err = meter.Int64Counter(
		"voxcode.retry.attempts",
		metric.WithDescription("Number of retry attempts made by the retry executor"),
	)
	if err != nil {
		return nil, err
	}
	r.breakerTrips, err = meter.Int64Counter(
		"voxcode.circuit_breaker.trips",
		metric.WithDescription("Number of times a circuit breaker opened"),
	)
	if err != nil {
		return nil, err
	}
	r.connectionQuality, err = meter.Float64Histogram(
		"voxcode.connection.quality_score",
		metric.WithDescription("Sampled WebRTC connection quality score"),
	)
	if err != nil {
		return nil, err
	}
	r.sessionsStarted, err = meter.Int64Counter(
		"voxcode.session.started",
		metric.WithDescription("Number of sessions started"),
	)
	if err != nil {
		return nil, err
	}
	r.sessionsEnded, err = meter.Int64Counter(
		"voxcode.session.ended",
		metric.WithDescription("Number of sessions ended"),
	)
	if err != nil {
		return nil, err
	}
	r.reconnects, err = meter.Int64Counter(
		"voxcode.recovery.reconnect_attempts",
		metric.WithDescription("Number of reconnect attempts made by the recovery manager"),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RetryAttempt records one retry attempt for the given operation name.
func (r *Recorder) RetryAttempt(ctx context.Context, operation string, attempt int) {
	r.retryAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.Int("attempt", attempt),
		),
	)
}

// BreakerTripped records a circuit breaker opening for the given name.
func (r *Recorder) BreakerTripped(ctx context.Context, name string) {
	r.breakerTrips.Add(ctx, 1, metric.WithAttributes(attribute.String("breaker", name)))
}

// ConnectionQuality records a sampled quality score in [0,1].
func (r *Recorder) ConnectionQuality(ctx context.Context, score float64) {
	r.connectionQuality.Record(ctx, score)
}

// SessionStarted records one session beginning.
func (r *Recorder) SessionStarted(ctx context.Context) {
	r.sessionsStarted.Add(ctx, 1)
}

// SessionEnded records one session ending, tagged with its terminal reason.
func (r *Recorder) SessionEnded(ctx context.Context, reason string) {
	r.sessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// ReconnectAttempted records one recovery-manager reconnect attempt.
func (r *Recorder) ReconnectAttempted(ctx context.Context, strategy string) {
	r.reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}
