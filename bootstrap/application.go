// Package bootstrap provides runtime assembly
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/prismrt/prism/bridge"
	"github.com/prismrt/prism/config"
	"github.com/prismrt/prism/metrics"
	"github.com/prismrt/prism/multiplexer"
	"github.com/prismrt/prism/prism"
)

// Application wires configuration, logging, metrics, the multiplexer and
// the optional network bridge into one managed runtime
type Application struct {
	cfg       *config.Config
	logger    zerolog.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector

	mux    *multiplexer.Multiplexer
	server *bridge.Server

	lifecycle *LifecycleManager
	watcher   *config.Watcher

	mutex   sync.RWMutex
	running bool

	shutdownChan chan os.Signal
}

// NewApplication builds an application from the given configuration
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg)

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)

	muxOpts := []multiplexer.Option{
		multiplexer.WithLogger(logger),
		multiplexer.WithCollector(collector),
		multiplexer.WithPollInterval(cfg.Runtime.PollInterval),
		multiplexer.WithQueueSize(cfg.Runtime.QueueSize),
		multiplexer.WithMaxRefractionDepth(cfg.Runtime.MaxRefractionDepth),
	}
	if cfg.Install.Root != "" {
		muxOpts = append(muxOpts, multiplexer.WithInstallRoot(cfg.Install.Root))
	}
	mux := multiplexer.New(muxOpts...)

	app := &Application{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		collector:    collector,
		mux:          mux,
		lifecycle:    NewLifecycleManager(),
		shutdownChan: make(chan os.Signal, 1),
	}

	if err := app.lifecycle.Register("multiplexer", &multiplexerService{app: app}); err != nil {
		return nil, err
	}

	if cfg.Bridge.Enabled {
		app.server = bridge.NewServer(cfg.BridgeAddr(), mux, logger,
			bridge.WithMetrics(collector, registry))
		if err := app.lifecycle.Register("bridge", &bridgeService{app: app}, "multiplexer"); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// newLogger builds the root logger from the log configuration
func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	switch cfg.Log.Level {
	case config.LogLevelDebug:
		logger = logger.Level(zerolog.DebugLevel)
	case config.LogLevelInfo:
		logger = logger.Level(zerolog.InfoLevel)
	case config.LogLevelWarn:
		logger = logger.Level(zerolog.WarnLevel)
	case config.LogLevelError:
		logger = logger.Level(zerolog.ErrorLevel)
	}

	return logger.With().
		Str("app", cfg.App.Name).
		Str("version", cfg.App.Version).
		Logger()
}

// Multiplexer returns the application's multiplexer
func (app *Application) Multiplexer() *multiplexer.Multiplexer {
	return app.mux
}

// Logger returns the root logger
func (app *Application) Logger() zerolog.Logger {
	return app.logger
}

// Collector returns the metrics collector
func (app *Application) Collector() *metrics.Collector {
	return app.collector
}

// Lifecycle returns the lifecycle manager
func (app *Application) Lifecycle() *LifecycleManager {
	return app.lifecycle
}

// RegisterFactory registers an in-process capability factory
func (app *Application) RegisterFactory(unitID string, factory prism.Factory) error {
	return app.mux.RegisterFactory(unitID, factory)
}

// WatchConfig watches the given file and applies log-level changes at runtime
func (app *Application) WatchConfig(configFile string) error {
	watcher, err := config.NewWatcher(configFile, config.NewLoader(), app.logger)
	if err != nil {
		return err
	}

	watcher.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig.Log.Level != newConfig.Log.Level {
			app.logger.Info().
				Str("old", oldConfig.Log.Level.String()).
				Str("new", newConfig.Log.Level.String()).
				Msg("log level changed")
			app.mutex.Lock()
			app.cfg.Log.Level = newConfig.Log.Level
			app.mutex.Unlock()
		}
	})

	if err := watcher.Start(); err != nil {
		watcher.Stop()
		return err
	}

	app.watcher = watcher
	return nil
}

// Start starts all managed services
func (app *Application) Start(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return fmt.Errorf("application is already running")
	}
	app.running = true
	app.mutex.Unlock()

	if err := app.lifecycle.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		return err
	}

	app.logger.Info().
		Str("environment", app.cfg.App.Environment.String()).
		Bool("bridge", app.cfg.Bridge.Enabled).
		Msg("application started")
	return nil
}

// Run starts the application and blocks until a shutdown signal or
// context cancellation
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	signal.Notify(app.shutdownChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-app.shutdownChan:
		app.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
		app.logger.Info().Msg("context cancelled, shutting down")
	}

	return app.Shutdown(context.Background())
}

// Shutdown stops all managed services gracefully
func (app *Application) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	app.mutex.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.watcher != nil {
		app.watcher.Stop()
		app.watcher = nil
	}

	err := app.lifecycle.Stop(shutdownCtx)
	app.logger.Info().Msg("application stopped")
	return err
}

// Health reports the health of all managed services
func (app *Application) Health(ctx context.Context) (map[string]HealthStatus, error) {
	return app.lifecycle.Health(ctx)
}

// multiplexerService wraps the multiplexer as a managed service
type multiplexerService struct {
	app *Application
}

func (s *multiplexerService) Name() string {
	return "multiplexer"
}

func (s *multiplexerService) Start(ctx context.Context) error {
	return nil
}

func (s *multiplexerService) Stop(ctx context.Context) error {
	return s.app.mux.Shutdown(ctx)
}

func (s *multiplexerService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{
		State:   HealthHealthy,
		Message: "multiplexer running",
	}, nil
}

// bridgeService wraps the network bridge as a managed service
type bridgeService struct {
	app *Application
}

func (s *bridgeService) Name() string {
	return "bridge"
}

func (s *bridgeService) Start(ctx context.Context) error {
	return s.app.server.Start(ctx)
}

func (s *bridgeService) Stop(ctx context.Context) error {
	return s.app.server.Stop(ctx)
}

func (s *bridgeService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{
		State:   HealthHealthy,
		Message: "bridge listening",
		Data: map[string]interface{}{
			"address": s.app.cfg.BridgeAddr(),
		},
	}, nil
}
