package di

import (
	"context"
	"fmt"

	"mlass/internal/domain/models"
	"mlass/internal/domain/repository"
	"mlass/internal/domain/service"
	"mlass/internal/handler/api"
	mid "mlass/internal/middleware"
	internalrepo "mlass/internal/repository"
	"mlass/internal/service/ratelimit"
	"mlass/internal/services/forecast"
	"mlass/internal/services/identity"
	"mlass/internal/usecase"
	"mlass/pkg/cache"
	pkgch "mlass/pkg/clickhouse"
	"mlass/pkg/config"
	xhttp "mlass/pkg/http"
	pkgkafka "mlass/pkg/kafka"
	applogger "mlass/pkg/logger"
	"mlass/pkg/metrics"
	"mlass/pkg/server"
	"mlass/pkg/telemetry"
)

// ProvideLogger creates the process logger. Lines default to the
// instance-1 instanceId until a request names another.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		InstanceID: models.DefaultInstanceID,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideTelemetry binds the OTel providers once for the process lifetime.
func ProvideTelemetry(cfg *config.Config, l *applogger.Logger) (*telemetry.Runtime, error) {
	rt, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		InstanceID:     models.DefaultInstanceID,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ExportInterval: cfg.Telemetry.ExportInterval,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		ExportLogs:     cfg.Telemetry.ExportLogs,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return rt, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client when prices come from
// ClickHouse, nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Data.Source != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when Kafka is enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(1),
		pkgkafka.WithMaxAttempts(3),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideCache returns Redis when enabled, an in-process cache otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvidePriceSource selects the CSV or ClickHouse price source.
func ProvidePriceSource(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (repository.PriceSource, error) {
	if cfg.Data.Source == "clickhouse" {
		return internalrepo.NewCHPriceSource(ch, cfg.ClickHouse.Table, l)
	}
	return internalrepo.NewCSVPriceSource(), nil
}

func ProvidePipeline(cfg *config.Config, src repository.PriceSource, rt *telemetry.Runtime, m repository.Metrics, l *applogger.Logger) (*forecast.Pipeline, error) {
	return forecast.NewPipeline(src, cfg.Model,
		forecast.WithMaxRows(cfg.Data.MaxRows),
		forecast.WithTracer(rt.Tracer()),
		forecast.WithMetrics(m),
		forecast.WithHostSampler(telemetry.SystemSampler{}),
		forecast.WithLogger(l),
	)
}

func ProvideModelRegistry() repository.ModelRegistry {
	return internalrepo.NewMemoryModelRegistry()
}

// ProvideEventPublisher publishes forecast events to Kafka, or drops them.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)
}

// ProvideSnapshotStore persists models only when Redis backs the cache.
func ProvideSnapshotStore(cfg *config.Config, c cache.Service) repository.SnapshotStore {
	if !cfg.Redis.Enabled {
		return nil
	}
	return internalrepo.NewCacheSnapshotStore(c, cfg.Redis.SnapshotTTL)
}

// ProvideIdentityVerifier builds the verifier selected by identity.mode,
// caching remote answers.
func ProvideIdentityVerifier(cfg *config.Config, c cache.Service, l *applogger.Logger) service.IdentityVerifier {
	if cfg.Identity.Mode == "http" {
		remote := identity.NewHTTPVerifier(xhttp.NewClient(xhttp.WithTimeout(cfg.Identity.Timeout)), cfg.Identity.URL)
		return identity.NewCachedVerifier(remote, c, cfg.Identity.CacheTTL, l)
	}
	return identity.NewStaticVerifier(cfg.Identity.ServiceID, cfg.Identity.AppID, cfg.Identity.AllowedKeys)
}

func ProvideObservability(cfg *config.Config, rt *telemetry.Runtime, v service.IdentityVerifier, l *applogger.Logger) *mid.Observability {
	return mid.NewObservability(rt, v, l,
		mid.WithPolicy(cfg.Identity.Policy),
		mid.WithFallbackIdentity(cfg.Identity.ServiceID, cfg.Identity.AppID),
		mid.WithLogLevel(cfg.Log.Level),
	)
}

func ProvideForecastUseCase(
	cfg *config.Config,
	p *forecast.Pipeline,
	reg repository.ModelRegistry,
	snapshots repository.SnapshotStore,
	events repository.EventPublisher,
	l *applogger.Logger,
) *usecase.ForecastUseCase {
	ref := cfg.Data.Path
	if cfg.Data.Source == "clickhouse" {
		ref = cfg.Data.Symbol
	}
	opts := []usecase.ForecastOption{
		usecase.WithEvents(events),
		usecase.WithTrainLimiter(ratelimit.New(cfg.Train.RateCapacity, cfg.Train.RatePerMinute/60)),
		usecase.WithTrainTimeout(cfg.Train.Timeout),
		usecase.WithEventTimeout(cfg.Kafka.WriteTimeout),
	}
	if snapshots != nil {
		opts = append(opts, usecase.WithSnapshots(snapshots))
	}
	return usecase.NewForecastUseCase(p, reg, ref, l, opts...)
}

func ProvideHTTPHandler(l *applogger.Logger, uc *usecase.ForecastUseCase, obs *mid.Observability) xhttp.Handler {
	return api.NewForecastEchoHandler(l, uc, obs.Middleware())
}

// ProvideApp creates the application server and registers what it must
// close on shutdown.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	rt *telemetry.Runtime,
	h xhttp.Handler,
	uc *usecase.ForecastUseCase,
	producer *pkgkafka.Producer,
	events repository.EventPublisher,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	app := server.New(cfg, l, rt, h)
	if producer != nil {
		app.SetLogPublisher(producer)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch.Close)
	}
	app.AddCloser("cache", c.Close)
	// closes the Kafka producer as well
	app.AddCloser("events", events.Close)
	// runs before "events": queued events drain into a still open producer
	app.AddCloser("forecast", uc.Close)
	return app
}
