package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers. A nil *Telemetry
// or one built with Enabled=false records nothing.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *promclient.Registry

	// RED Metrics (Rate, Errors, Duration) of the metrics endpoint
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Retrieval Metrics
	objectsTotal          metric.Int64Counter
	objectsActive         metric.Int64UpDownCounter
	objectDuration        metric.Float64Histogram
	statusPollsTotal      metric.Int64Counter
	restoresTotal         metric.Int64Counter
	bytesDownloaded       metric.Int64Counter
	leaseAcquisitions     metric.Int64Counter
	clientOperationsTotal metric.Int64Counter
	clientErrors          metric.Int64Counter
	dbOperationsTotal     metric.Int64Counter
	dbOperationDuration   metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, additionally pushes metrics over OTLP/gRPC.
	OTLPEndpoint string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider()

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:          meterProvider.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		registry:       registry,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	return t, nil
}

// Enabled reports whether the instance records anything.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.meterProvider != nil
}

// MeterProvider returns the metric provider, nil when disabled.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if !t.Enabled() {
		return nil
	}

	return t.meterProvider
}

// TracerProvider returns the trace provider, nil when disabled.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	if !t.Enabled() {
		return nil
	}

	return t.tracerProvider
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordObject records the terminal state of one object.
func (t *Telemetry) RecordObject(state string, duration time.Duration) {
	if t == nil || t.objectsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("state", state))

	t.objectsTotal.Add(context.Background(), 1, attrs)
	t.objectDuration.Record(context.Background(), duration.Seconds(), attrs)
}

func (t *Telemetry) incrementActiveObjects(delta int64) {
	if t == nil || t.objectsActive == nil {
		return
	}

	t.objectsActive.Add(context.Background(), delta)
}

// RecordStatusPoll records one status query and the status it returned.
func (t *Telemetry) RecordStatusPoll(status string) {
	if t == nil || t.statusPollsTotal == nil {
		return
	}

	t.statusPollsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRestore records a restore trigger.
func (t *Telemetry) RecordRestore(status string) {
	if t == nil || t.restoresTotal == nil {
		return
	}

	t.restoresTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBytes records payload bytes written to disk.
func (t *Telemetry) RecordBytes(n int64) {
	if t == nil || t.bytesDownloaded == nil || n <= 0 {
		return
	}

	t.bytesDownloaded.Add(context.Background(), n)
}

// RecordLeaseAcquisition records a credential lease fetch.
func (t *Telemetry) RecordLeaseAcquisition(status string) {
	if t == nil || t.leaseAcquisitions == nil {
		return
	}

	t.leaseAcquisitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordClientOperation records archive client operation metrics.
func (t *Telemetry) RecordClientOperation(client, operation, status string) {
	if t == nil || t.clientOperationsTotal == nil {
		return
	}

	t.clientOperationsTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("client", client),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)

	if status == "error" {
		t.clientErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if !t.Enabled() {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}

	return errors.Join(
		t.meterProvider.Shutdown(ctx),
		t.tracerProvider.Shutdown(ctx),
	)
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeRetrievalMetrics(); err != nil {
		return err
	}

	return t.initializeClientMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeRetrievalMetrics() error {
	var err error

	t.objectsTotal, err = t.meter.Int64Counter(
		"objects_total",
		metric.WithDescription("Total number of objects that reached a terminal state"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create objects_total counter: %w", err)
	}

	t.objectsActive, err = t.meter.Int64UpDownCounter(
		"objects_active",
		metric.WithDescription("Number of objects currently being processed"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create objects_active counter: %w", err)
	}

	t.objectDuration, err = t.meter.Float64Histogram(
		"object_duration_seconds",
		metric.WithDescription("Time from first status query to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create object_duration histogram: %w", err)
	}

	t.statusPollsTotal, err = t.meter.Int64Counter(
		"status_polls_total",
		metric.WithDescription("Total number of archive status queries"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create status_polls_total counter: %w", err)
	}

	t.restoresTotal, err = t.meter.Int64Counter(
		"restores_total",
		metric.WithDescription("Total number of cold storage restore triggers"),
		metric.WithUnit("{restore}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create restores_total counter: %w", err)
	}

	t.bytesDownloaded, err = t.meter.Int64Counter(
		"downloaded_bytes_total",
		metric.WithDescription("Total payload bytes written to disk"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloaded_bytes_total counter: %w", err)
	}

	t.leaseAcquisitions, err = t.meter.Int64Counter(
		"lease_acquisitions_total",
		metric.WithDescription("Total number of credential lease fetches"),
		metric.WithUnit("{lease}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create lease_acquisitions_total counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeClientMetrics() error {
	var err error

	t.clientOperationsTotal, err = t.meter.Int64Counter(
		"client_operations_total",
		metric.WithDescription("Total number of archive client operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_operations_total counter: %w", err)
	}

	t.clientErrors, err = t.meter.Int64Counter(
		"client_errors_total",
		metric.WithDescription("Total number of archive client errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_errors counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}
