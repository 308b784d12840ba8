package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"mlass/internal/domain/models"
	domrepo "mlass/internal/domain/repository"
	"mlass/internal/service/ratelimit"
	"mlass/internal/services/forecast"
	applogger "mlass/pkg/logger"
)

// ForecastUseCase owns the per-instance model lifecycle: training, snapshot
// restore and prediction.
type ForecastUseCase struct {
	pipeline     *forecast.Pipeline
	registry     domrepo.ModelRegistry
	snapshots    domrepo.SnapshotStore
	events       domrepo.EventPublisher
	limiter      *ratelimit.Limiter
	dataRef      string
	trainTimeout time.Duration
	eventTimeout time.Duration
	l            *applogger.Logger
	now          func() time.Time

	// events are handed to a single sender goroutine so a slow broker never
	// delays a response; per-instance order is kept.
	eventQ     chan queuedEvent
	eventsOnce sync.Once
	eventsWG   sync.WaitGroup
	closeMu    sync.RWMutex
	closed     bool
}

type queuedEvent struct {
	ctx context.Context
	l   *applogger.Logger
	ev  models.ForecastEvent
}

const (
	eventQueueSize      = 256
	defaultEventTimeout = 5 * time.Second
)

type ForecastOption func(*ForecastUseCase)

// WithSnapshots persists trained models and restores them on a registry miss.
func WithSnapshots(s domrepo.SnapshotStore) ForecastOption {
	return func(uc *ForecastUseCase) { uc.snapshots = s }
}

func WithEvents(p domrepo.EventPublisher) ForecastOption {
	return func(uc *ForecastUseCase) { uc.events = p }
}

func WithTrainLimiter(l *ratelimit.Limiter) ForecastOption {
	return func(uc *ForecastUseCase) { uc.limiter = l }
}

// WithTrainTimeout bounds one training run; zero means no bound beyond the
// request context.
func WithTrainTimeout(d time.Duration) ForecastOption {
	return func(uc *ForecastUseCase) { uc.trainTimeout = d }
}

// WithEventTimeout bounds the delivery of one event.
func WithEventTimeout(d time.Duration) ForecastOption {
	return func(uc *ForecastUseCase) {
		if d > 0 {
			uc.eventTimeout = d
		}
	}
}

// NewForecastUseCase trains from dataRef, a file path or a symbol depending
// on the pipeline's price source.
func NewForecastUseCase(p *forecast.Pipeline, reg domrepo.ModelRegistry, dataRef string, l *applogger.Logger, opts ...ForecastOption) *ForecastUseCase {
	uc := &ForecastUseCase{
		pipeline:     p,
		registry:     reg,
		dataRef:      dataRef,
		l:            l,
		now:          time.Now,
		eventTimeout: defaultEventTimeout,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func identity(ctx context.Context) models.Identity {
	id, ok := models.IdentityFromContext(ctx)
	if !ok || id.InstanceID == "" {
		id.InstanceID = models.DefaultInstanceID
	}
	return id
}

// Train fits a new model for the caller and publishes it. Concurrent runs
// for one instance are serialized; readers keep the previous model until
// the new one is stored.
func (uc *ForecastUseCase) Train(ctx context.Context) (*models.Model, error) {
	id := identity(ctx)
	l := uc.l.WithInstance(id.InstanceID).WithContext(ctx)

	if !uc.limiter.Allow(id.InstanceID) {
		l.Warn("train rate limited")
		return nil, models.ErrRateLimited
	}

	unlock := uc.registry.LockWriter(id.InstanceID)
	defer unlock()

	if uc.trainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.trainTimeout)
		defer cancel()
	}

	start := uc.now()
	m, err := uc.pipeline.TrainModel(ctx, uc.dataRef)
	if err != nil {
		return nil, err
	}
	m.InstanceID = id.InstanceID
	uc.registry.Put(m)

	l.Info("model trained",
		applogger.Int("windows", m.Windows),
		applogger.Float64("loss", m.History.Final()),
		applogger.Duration("duration_ms", uc.now().Sub(start)),
	)

	if uc.snapshots != nil {
		if err := uc.snapshots.Save(ctx, m); err != nil {
			l.Warn("model snapshot save failed", applogger.Error(err))
		}
	}
	uc.publish(ctx, l, models.ForecastEvent{
		Type:       models.EventModelTrained,
		InstanceID: id.InstanceID,
		ServiceID:  id.ServiceID,
		AppID:      id.AppID,
		Windows:    m.Windows,
		Loss:       m.History.Final(),
		DurationMS: uc.now().Sub(start).Milliseconds(),
		At:         uc.now().UTC(),
	})
	return m, nil
}

// Predict forecasts with the caller's current model.
func (uc *ForecastUseCase) Predict(ctx context.Context, prices []float64) ([]float64, error) {
	id := identity(ctx)
	l := uc.l.WithInstance(id.InstanceID).WithContext(ctx)

	start := uc.now()
	m, err := uc.model(ctx, id.InstanceID, l)
	if err != nil {
		return nil, err
	}
	out, err := uc.pipeline.Predict(ctx, m, prices)
	if err != nil {
		return nil, err
	}

	uc.publish(ctx, l, models.ForecastEvent{
		Type:       models.EventPredictionServed,
		InstanceID: id.InstanceID,
		ServiceID:  id.ServiceID,
		AppID:      id.AppID,
		Count:      len(out),
		DurationMS: uc.now().Sub(start).Milliseconds(),
		At:         uc.now().UTC(),
	})
	return out, nil
}

// model returns the registered model, restoring it from a snapshot when the
// registry has none.
func (uc *ForecastUseCase) model(ctx context.Context, instanceID string, l *applogger.Logger) (*models.Model, error) {
	if m, ok := uc.registry.Get(instanceID); ok {
		return m, nil
	}
	if uc.snapshots == nil {
		return nil, models.ErrNotTrained
	}
	m, err := uc.snapshots.Load(ctx, instanceID)
	if err != nil {
		if !errors.Is(err, models.ErrNotTrained) {
			l.Warn("model snapshot load failed", applogger.Error(err))
		}
		return nil, models.ErrNotTrained
	}
	l.Info("model restored from snapshot", applogger.String("trained_at", m.TrainedAt.Format(time.RFC3339)))
	return uc.registry.PutIfAbsent(m), nil
}

// publish queues ev for delivery and returns at once. Events are dropped
// when the queue is full or the use case is closed.
func (uc *ForecastUseCase) publish(ctx context.Context, l *applogger.Logger, ev models.ForecastEvent) {
	if uc.events == nil {
		return
	}
	uc.eventsOnce.Do(uc.startSender)

	uc.closeMu.RLock()
	defer uc.closeMu.RUnlock()
	if uc.closed {
		return
	}
	detached := context.WithoutCancel(ctx)
	select {
	case uc.eventQ <- queuedEvent{ctx: detached, l: l.WithContext(detached), ev: ev}:
	default:
		l.Warn("forecast event dropped, queue full", applogger.String("type", ev.Type))
	}
}

func (uc *ForecastUseCase) startSender() {
	uc.eventQ = make(chan queuedEvent, eventQueueSize)
	uc.eventsWG.Add(1)
	go func() {
		defer uc.eventsWG.Done()
		for qe := range uc.eventQ {
			ctx, cancel := context.WithTimeout(qe.ctx, uc.eventTimeout)
			err := uc.events.Publish(ctx, qe.ev)
			cancel()
			if err != nil {
				qe.l.Warn("forecast event publish failed",
					applogger.String("type", qe.ev.Type),
					applogger.Error(err),
				)
			}
		}
	}()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (uc *ForecastUseCase) Close() error {
	uc.eventsOnce.Do(func() {})

	uc.closeMu.Lock()
	if uc.closed {
		uc.closeMu.Unlock()
		return nil
	}
	uc.closed = true
	if uc.eventQ != nil {
		close(uc.eventQ)
	}
	uc.closeMu.Unlock()

	uc.eventsWG.Wait()
	return nil
}

// Health reports liveness and the number of trained models in memory.
func (uc *ForecastUseCase) Health(context.Context) models.HealthResponse {
	return models.HealthResponse{Status: "ok", Models: uc.registry.Len()}
}
