package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"jamwatch/internal/cfg"
	"jamwatch/internal/dashboard"
	"jamwatch/internal/logging"
	"jamwatch/internal/metrics"
	"jamwatch/internal/ml"
	"jamwatch/internal/publish"
	"jamwatch/internal/serving"
	"jamwatch/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	console := flag.Bool("console", false, "Human-readable log output")
	flag.Parse()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	logFile := logging.Setup(logging.Options{Level: c.LogLevel, File: c.LogFile, Console: *console})
	defer logFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, c, metrics.New(), prometheus.DefaultGatherer)
	if err != nil {
		log.Fatal().Err(err).Msg("server init failed")
	}
	defer a.Close()

	if c.WatchModel {
		startWatcher(ctx, a.svc)
	}

	var wg sync.WaitGroup
	startAPIServer(ctx, &wg, a.server, cancel)
	startDashboard(ctx, &wg, a.dash, cancel)

	waitForShutdown(ctx, cancel, &wg)
}

// app is the wired server process: the model service, its HTTP server and
// the dashboard, plus the sinks to close on exit.
type app struct {
	svc     *serving.Service
	server  *serving.Server
	dash    *dashboard.Dashboard
	closers []io.Closer
}

// newApp wires storage, the publisher, drift detection and the dashboard
// around a service and loads the startup model. Optional parts that fail to
// initialize are logged and left out.
func newApp(ctx context.Context, c cfg.Settings, m *metrics.Metrics, gatherer prometheus.Gatherer) (*app, error) {
	a := &app{}
	opts := serving.Options{Metrics: metrics.NewRecorder(m)}

	if store := initializeStorage(c); store != nil {
		a.closers = append(a.closers, store)
		opts.Sinks = append(opts.Sinks, store)
		opts.Archive = store
	}

	if pub := initializePublisher(ctx, c); pub != nil {
		a.closers = append(a.closers, pub)
		opts.Sinks = append(opts.Sinks, pub)
	}

	opts.Drift = initializeDrift(c)

	dist, err := dashboard.NewDistribution()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("distribution init failed: %w", err)
	}
	opts.Observers = []serving.ValidationObserver{dist}

	a.svc = serving.NewService(opts)

	if path := startupModelPath(c); path != "" {
		if err := a.svc.LoadModel(ctx, path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("startup model unavailable, waiting for /model/")
		}
	}

	a.server = serving.NewServer(a.svc, serving.ServerConfig{
		Port:           c.APIPort,
		Threshold:      c.ProbThreshold,
		LabelColumn:    c.LabelColumn,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		MetricsHandler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		FailureRate:    func() float64 { return metrics.FailureRate(gatherer) },
	})

	a.dash = dashboard.New(dashboard.Sources{
		History:      a.svc.History(),
		Model:        a.svc,
		Distribution: dist,
	}, dashboard.Config{
		Port:          c.DashboardPort,
		BatchAccuracy: c.BatchAccuracy,
		BatchF1:       c.BatchF1,
	})
	return a, nil
}

// Close releases the sinks in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close sink")
		}
	}
	a.closers = nil
}

// startupModelPath is MODEL_PATH, or the active registry version when unset.
func startupModelPath(c cfg.Settings) string {
	if c.ModelPath != "" {
		return c.ModelPath
	}
	registry, err := ml.NewRegistry(c.ModelsDir)
	if err != nil {
		log.Warn().Err(err).Msg("model registry unavailable")
		return ""
	}
	v, ok := registry.Current()
	if !ok {
		return ""
	}
	log.Info().Str("version", v.Version).Str("path", v.Path).Msg("Serving active registry version")
	return v.Path
}

// initializeStorage opens the sample database if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// initializePublisher connects the Redis sample publisher if REDIS_URL is configured
func initializePublisher(ctx context.Context, c cfg.Settings) *publish.Publisher {
	if c.RedisURL == "" {
		return nil
	}
	client, err := publish.Connect(ctx, c.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, samples will not be published")
		return nil
	}
	log.Info().Str("channel", c.RedisChannel).Msg("Publishing samples to redis")
	return publish.New(client, c.RedisChannel)
}

func initializeDrift(c cfg.Settings) *ml.DriftDetector {
	if !c.DriftEnabled {
		return nil
	}
	dd := ml.NewDriftDetector(c.DriftConfig())
	if err := dd.LoadBaseline(); err != nil {
		log.Warn().Err(err).Msg("failed to load drift baseline")
	}
	return dd
}

// startWatcher reloads the model whenever its file is rewritten
func startWatcher(ctx context.Context, svc *serving.Service) {
	w, err := serving.NewWatcher(svc, 0)
	if err != nil {
		log.Warn().Err(err).Msg("model watcher unavailable")
		return
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			log.Error().Err(err).Msg("model watcher stopped")
		}
	}()
}

func startAPIServer(ctx context.Context, wg *sync.WaitGroup, server *serving.Server, cancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to shutdown model server")
			}
		}()
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("model server failed")
			cancel()
		}
	}()
}

func startDashboard(ctx context.Context, wg *sync.WaitGroup, dash *dashboard.Dashboard, cancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := dash.Stop(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to stop dashboard")
			}
		}()
		if err := dash.Start(); err != nil {
			log.Error().Err(err).Msg("dashboard failed")
			cancel()
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all servers stopped")
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
