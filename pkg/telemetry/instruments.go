package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Instruments are the request metrics shared by every request.
type Instruments struct {
	Calls   metric.Int64Counter
	Latency metric.Float64Histogram
	Errors  metric.Int64Counter

	cpu metric.Float64ObservableGauge
	mem metric.Float64ObservableGauge
}

func newInstruments(meter metric.Meter, host HostSampler) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.Calls, err = meter.Int64Counter("api_calls",
		metric.WithDescription("Number of API calls")); err != nil {
		return nil, fmt.Errorf("api_calls: %w", err)
	}
	if in.Latency, err = meter.Float64Histogram("api_latency",
		metric.WithDescription("API call latency"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("api_latency: %w", err)
	}
	if in.Errors, err = meter.Int64Counter("api_errors",
		metric.WithDescription("Number of failed API calls")); err != nil {
		return nil, fmt.Errorf("api_errors: %w", err)
	}
	if host == nil {
		return &in, nil
	}

	if in.cpu, err = meter.Float64ObservableGauge("cpu_usage",
		metric.WithDescription("Host CPU usage"),
		metric.WithUnit("%"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			v, err := host.CPUPercent()
			if err != nil {
				return err
			}
			o.Observe(v)
			return nil
		})); err != nil {
		return nil, fmt.Errorf("cpu_usage: %w", err)
	}
	if in.mem, err = meter.Float64ObservableGauge("memory_usage",
		metric.WithDescription("Host memory usage"),
		metric.WithUnit("%"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			v, err := host.MemoryPercent()
			if err != nil {
				return err
			}
			o.Observe(v)
			return nil
		})); err != nil {
		return nil, fmt.Errorf("memory_usage: %w", err)
	}
	return &in, nil
}
