package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mlass/pkg/config"
	xhttp "mlass/pkg/http"
	applogger "mlass/pkg/logger"
	"mlass/pkg/telemetry"
)

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg          *config.Config
	log          *applogger.Logger
	telemetry    *telemetry.Runtime
	httpHandler  xhttp.Handler
	httpServer   *xhttp.Server
	logPublisher applogger.Publisher
	closers      []closer
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, rt *telemetry.Runtime, h xhttp.Handler) *App {
	return &App{
		cfg:         cfg,
		log:         l,
		telemetry:   rt,
		httpHandler: h,
	}
}

// SetLogPublisher enables error log aggregation to the configured logs topic.
func (a *App) SetLogPublisher(p applogger.Publisher) { a.logPublisher = p }

// AddCloser registers fn to run on shutdown. Closers run in reverse order.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	return a.serve(context.Background(), sigCh)
}

func (a *App) serve(ctx context.Context, stop <-chan os.Signal) error {
	if a.logPublisher != nil {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval: a.cfg.Log.FlushInterval,
			Topic:        a.cfg.Kafka.LogsTopic,
			Publisher:    a.logPublisher,
		})
		a.log.Info("error log aggregation enabled", applogger.String("topic", a.cfg.Kafka.LogsTopic))
	}

	metricsPath := a.cfg.Metrics.Path
	if !a.cfg.Metrics.Enabled {
		metricsPath = ""
	}
	a.httpServer = xhttp.NewServer(a.httpHandler, a.log,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(a.cfg.Server.CORS),
		xhttp.WithBodyLimit(a.cfg.Server.BodyLimit),
		xhttp.WithSlowThreshold(a.cfg.Server.SlowThreshold),
		xhttp.WithMetricsPath(metricsPath),
	)

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("application started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("data_source", a.cfg.Data.Source),
		applogger.Bool("telemetry", a.telemetry.Enabled()),
	)

	select {
	case <-stop:
		a.log.Info("shutdown signal received")
	case <-ctx.Done():
	}
	return a.shutdown(context.Background())
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	// flush aggregated errors while the producer is still open
	a.log.RemoveCollector()

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.log.Warn(c.name+" close error", applogger.Error(err))
		}
	}

	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("telemetry shutdown error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
