package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	applogger "mlass/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "mlass"

// ErrExportFailure wraps errors reported by the OTel SDK. They are logged and
// never surface to a request.
var ErrExportFailure = errors.New("telemetry export failed")

// Config selects the OTLP collector and the static resource.
type Config struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	InstanceID     string
	SampleRatio    float64
	ExportInterval time.Duration
	ExportTimeout  time.Duration
	ExportLogs     bool
}

// Runtime holds the process-wide providers and request instruments. It is
// built once at startup and shared by every request.
type Runtime struct {
	enabled     bool
	tracer      trace.Tracer
	instruments *Instruments
	shutdownFns []func(context.Context) error
}

// Setup creates OTLP gRPC exporters for traces, metrics and logs. With
// telemetry disabled the runtime uses no-op providers.
func Setup(ctx context.Context, cfg Config, l *applogger.Logger) (*Runtime, error) {
	if !cfg.Enabled {
		return NewRuntime(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), nil)
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(cfg.Endpoint), "http://"), "https://")
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("service.instance.id", cfg.InstanceID),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	var shutdownFns []func(context.Context) error
	fail := func(err error) (*Runtime, error) {
		for _, fn := range shutdownFns {
			_ = fn(context.Background())
		}
		return nil, err
	}

	traceOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return fail(fmt.Errorf("initialize otel trace exporter: %w", err))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	metricOpts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return fail(fmt.Errorf("initialize otel metric exporter: %w", err))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(cfg.ExportInterval),
			sdkmetric.WithTimeout(cfg.ExportTimeout),
		)),
	)
	shutdownFns = append(shutdownFns, mp.Shutdown)

	var lp otellog.LoggerProvider = lognoop.NewLoggerProvider()
	if cfg.ExportLogs {
		logOpts := []otlploggrpc.Option{
			otlploggrpc.WithEndpoint(endpoint),
			otlploggrpc.WithTimeout(cfg.ExportTimeout),
		}
		if cfg.Insecure {
			logOpts = append(logOpts, otlploggrpc.WithInsecure())
		}
		logExporter, err := otlploggrpc.New(ctx, logOpts...)
		if err != nil {
			return fail(fmt.Errorf("initialize otel log exporter: %w", err))
		}
		sdkLP := sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		)
		shutdownFns = append(shutdownFns, sdkLP.Shutdown)
		lp = sdkLP
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		l.Warn("telemetry export error", applogger.Error(fmt.Errorf("%w: %v", ErrExportFailure, err)))
	}))

	rt, err := NewRuntime(tp, mp, SystemSampler{})
	if err != nil {
		return fail(err)
	}
	rt.enabled = true
	rt.shutdownFns = shutdownFns

	if cfg.ExportLogs {
		l.AddSink(NewLogSink(lp))
	}
	l.Info("opentelemetry enabled",
		applogger.String("otel_endpoint", endpoint),
		applogger.Float64("otel_sample_ratio", cfg.SampleRatio),
		applogger.Bool("otel_logs", cfg.ExportLogs),
	)
	return rt, nil
}

// NewRuntime binds instruments on the given providers. host may be nil to
// skip the CPU and memory gauges.
func NewRuntime(tp trace.TracerProvider, mp metric.MeterProvider, host HostSampler) (*Runtime, error) {
	in, err := newInstruments(mp.Meter(instrumentationName), host)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		tracer:      tp.Tracer(instrumentationName),
		instruments: in,
	}, nil
}

// Enabled reports whether exporters are active.
func (r *Runtime) Enabled() bool { return r != nil && r.enabled }

// Tracer returns the shared tracer.
func (r *Runtime) Tracer() trace.Tracer { return r.tracer }

// Instruments returns the request instruments.
func (r *Runtime) Instruments() *Instruments { return r.instruments }

// Shutdown flushes and stops every provider.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.shutdownFns = nil
	return errors.Join(errs...)
}
