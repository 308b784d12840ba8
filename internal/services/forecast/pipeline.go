package forecast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"mlass/internal/domain/models"
	"mlass/internal/domain/repository"
	applogger "mlass/pkg/logger"
	"mlass/pkg/nn"
	"mlass/pkg/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stage names double as span names and metric labels.
const (
	StageLoad       = "load_data"
	StagePreprocess = "preprocess_data"
	StageCreate     = "create_model"
	StageTrain      = "train_model"
	StagePredict    = "predict"
)

// Pipeline runs load, scale, build, train and predict over one topology.
type Pipeline struct {
	source  repository.PriceSource
	topo    nn.Topology
	maxRows int
	tracer  trace.Tracer
	metrics repository.Metrics
	host    telemetry.HostSampler
	log     *applogger.Logger
	now     func() time.Time
}

// Option configures Pipeline.
type Option func(*Pipeline)

// WithMaxRows caps the number of rows read from the source.
func WithMaxRows(n int) Option {
	return func(p *Pipeline) {
		p.maxRows = n
	}
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithMetrics sets the stage metrics recorder.
func WithMetrics(m repository.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithHostSampler enables the resource usage log after training.
func WithHostSampler(h telemetry.HostSampler) Option {
	return func(p *Pipeline) {
		p.host = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// NewPipeline validates topo and returns a pipeline reading from source.
func NewPipeline(source repository.PriceSource, topo nn.Topology, opts ...Option) (*Pipeline, error) {
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	p := &Pipeline{
		source:  source,
		topo:    topo,
		maxRows: 5000,
		tracer:  otel.Tracer("mlass/forecast"),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = applogger.NewWithWriter(&applogger.Config{Level: "info"}, io.Discard)
	}
	return p, nil
}

// TrainModel runs the full training chain for the caller in ctx.
func (p *Pipeline) TrainModel(ctx context.Context, ref string) (*models.Model, error) {
	id, _ := models.IdentityFromContext(ctx)

	series, err := p.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	windows, scaler, err := p.Scale(ctx, series)
	if err != nil {
		return nil, err
	}
	net, err := p.BuildModel(ctx, nn.Shape{Steps: p.topo.Lookback, Features: 1})
	if err != nil {
		return nil, err
	}
	hist, err := p.Train(ctx, net, windows)
	if err != nil {
		return nil, err
	}
	p.logResourceUsage(ctx)

	return &models.Model{
		InstanceID: id.InstanceID,
		ServiceID:  id.ServiceID,
		AppID:      id.AppID,
		Network:    net,
		Scaler:     scaler,
		History:    hist,
		Windows:    len(windows),
		TrainedAt:  p.now().UTC(),
	}, nil
}

// Load reads the price series and truncates it to the row cap.
func (p *Pipeline) Load(ctx context.Context, ref string) (series models.PriceSeries, err error) {
	ctx, done := p.stage(ctx, StageLoad)
	defer func() { done(err) }()

	series, err = p.source.Load(ctx, ref, p.maxRows)
	if err != nil {
		if !errors.Is(err, models.ErrDataUnavailable) {
			err = fmt.Errorf("%w: %w", models.ErrDataUnavailable, err)
		}
		return models.PriceSeries{}, err
	}
	series = series.Head(p.maxRows)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("rows", series.Len()))
	return series, nil
}

// Scale fits a min-max scaler on the closes and windows them.
func (p *Pipeline) Scale(ctx context.Context, series models.PriceSeries) (windows []models.ScaledWindow, scaler models.MinMaxScaler, err error) {
	ctx, done := p.stage(ctx, StagePreprocess)
	defer func() { done(err) }()

	closes := series.Closes()
	if len(closes) < p.topo.Lookback+1 {
		err = fmt.Errorf("%w: %d rows, need at least %d", models.ErrInsufficientData, len(closes), p.topo.Lookback+1)
		return nil, scaler, err
	}
	if scaler, err = FitMinMax(closes); err != nil {
		return nil, scaler, err
	}
	if windows, err = MakeWindows(scaler.TransformAll(closes), p.topo.Lookback); err != nil {
		return nil, scaler, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("windows", len(windows)))
	return windows, scaler, nil
}

// BuildModel creates an untrained network for input.
func (p *Pipeline) BuildModel(ctx context.Context, input nn.Shape) (net *nn.Network, err error) {
	ctx, done := p.stage(ctx, StageCreate)
	defer func() { done(err) }()

	net, err = nn.New(p.topo, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrTrainingFailure, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("params", net.ParamCount()))
	return net, nil
}

// Train fits net on windows. Cancelling ctx aborts between batches.
func (p *Pipeline) Train(ctx context.Context, net *nn.Network, windows []models.ScaledWindow) (hist nn.History, err error) {
	ctx, done := p.stage(ctx, StageTrain)
	defer func() { done(err) }()

	X, y := split(windows)
	hist, err = net.Fit(ctx, X, y)
	if err != nil {
		return hist, fmt.Errorf("%w: %w", models.ErrTrainingFailure, err)
	}

	loss := hist.Final()
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("epochs", len(hist.Loss)),
		attribute.Float64("loss", loss),
	)
	id, _ := models.IdentityFromContext(ctx)
	p.metrics.RecordTrainingLoss(id.InstanceID, loss)
	return hist, nil
}

// Predict forecasts the value following every lookback run of prices, in
// price units. prices must hold more than lookback values.
func (p *Pipeline) Predict(ctx context.Context, m *models.Model, prices []float64) (out []float64, err error) {
	ctx, done := p.stage(ctx, StagePredict)
	defer func() { done(err) }()

	if m == nil || m.Network == nil {
		return nil, models.ErrNotTrained
	}
	lookback := m.Lookback()
	if len(prices) < lookback+1 {
		return nil, fmt.Errorf("%w: %d prices, need at least %d", models.ErrInsufficientData, len(prices), lookback+1)
	}

	scaled := m.Scaler.TransformAll(prices)
	inputs := make([][]float64, 0, len(scaled)-lookback)
	for i := lookback; i < len(scaled); i++ {
		inputs = append(inputs, scaled[i-lookback:i])
	}

	raw, err := m.Network.PredictBatch(inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrPredictionFailure, err)
	}
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite output at %d", models.ErrPredictionFailure, i)
		}
	}
	out = m.Scaler.InverseAll(raw)

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("predictions", len(out)))
	p.metrics.RecordPredictions(m.InstanceID, len(out))
	return out, nil
}

// stage opens a span and returns a func that closes it, records latency and
// counts and logs a failure.
func (p *Pipeline) stage(ctx context.Context, name string) (context.Context, func(error)) {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, name)
	if id, ok := models.IdentityFromContext(ctx); ok {
		span.SetAttributes(
			attribute.String("instanceId", id.InstanceID),
			attribute.String("service.id", id.ServiceID),
			attribute.String("app.id", id.AppID),
		)
	}

	return ctx, func(err error) {
		elapsed := p.now().Sub(start)
		p.metrics.RecordLatency(name, elapsed.Seconds())
		l := p.logger(ctx)
		if err != nil {
			p.metrics.RecordError(name)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			l.Error("stage failed",
				applogger.String("stage", name),
				applogger.Duration("duration_ms", elapsed),
				applogger.Error(err),
			)
		} else {
			l.Info("stage completed",
				applogger.String("stage", name),
				applogger.Duration("duration_ms", elapsed),
			)
		}
		span.End()
	}
}

func (p *Pipeline) logResourceUsage(ctx context.Context) {
	if p.host == nil {
		return
	}
	l := p.logger(ctx)
	cpu, err := p.host.CPUPercent()
	if err != nil {
		l.Warn("cpu usage unavailable", applogger.Error(err))
		return
	}
	mem, err := p.host.MemoryPercent()
	if err != nil {
		l.Warn("memory usage unavailable", applogger.Error(err))
		return
	}
	l.Info("resource usage",
		applogger.Float64("cpu_percent", cpu),
		applogger.Float64("memory_percent", mem),
	)
}

func (p *Pipeline) logger(ctx context.Context) *applogger.Logger {
	if id, ok := models.IdentityFromContext(ctx); ok && id.InstanceID != "" {
		return p.log.WithInstance(id.InstanceID).WithContext(ctx)
	}
	return p.log.WithContext(ctx)
}

type nopMetrics struct{}

func (nopMetrics) RecordError(string)                 {}
func (nopMetrics) RecordLatency(string, float64)      {}
func (nopMetrics) RecordTrainingLoss(string, float64) {}
func (nopMetrics) RecordPredictions(string, int)      {}
