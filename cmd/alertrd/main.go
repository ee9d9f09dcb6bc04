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

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/alertr/alertrd/internal/alerter"
	"github.com/alertr/alertrd/internal/api"
	"github.com/alertr/alertrd/internal/config"
	"github.com/alertr/alertrd/internal/instrumentation"
	"github.com/alertr/alertrd/internal/internalsensor"
	"github.com/alertr/alertrd/internal/logging"
	"github.com/alertr/alertrd/internal/manager"
	"github.com/alertr/alertrd/internal/notifier"
	"github.com/alertr/alertrd/internal/session"
	"github.com/alertr/alertrd/internal/storage"
	"github.com/alertr/alertrd/internal/storage/memory"
	"github.com/alertr/alertrd/internal/storage/postgres"
	"github.com/alertr/alertrd/internal/version"
)

func main() {
	configPath := flag.String("config", "/config/server.yaml", "Path to server configuration (other files are read from the same directory)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	info := version.Get()
	if *showVersion {
		fmt.Println(info.String())
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}

	// Keep the last 1000 log entries for /api/logs
	logBuffer := logging.NewLogBuffer(1000)
	logger, logCloser, err := logging.New(logging.Options{
		Level:   *logLevel,
		File:    cfg.Server.LogFile,
		Version: info.Version,
		Commit:  info.Commit,
		Buffer:  logBuffer,
	})
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Str("log_file", cfg.Server.LogFile).Msg("Failed to set up logging")
	}

	levels := cfg.AlertLevelTable()
	logger.Info().
		Str("version", info.String()).
		Int("alert_levels", len(levels)).
		Int("clients", len(cfg.Clients)).
		Msg("Starting alertrd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Server.Storage.Backend).Msg("Failed to open storage")
	}

	registry := session.NewRegistry()
	for _, c := range cfg.Clients {
		nodeType, err := session.ParseNodeType(c.NodeType)
		if err != nil {
			logger.Fatal().Err(err).Str("client", c.Name).Msg("Invalid client")
		}
		url := os.Getenv(c.URLEnv)
		if url == "" {
			logger.Warn().
				Str("client", c.Name).
				Str("url_env", c.URLEnv).
				Msg("Client URL not set, client stays uninitialized")
		}
		registry.Add(notifier.NewWebhookClient(logger, c.Name, url, nodeType, c.AlertLevels))
	}

	dispatcher := notifier.NewDispatcher(logger, registry, cfg.Server.Engine.SendTimeout)

	var runnerOpts []instrumentation.RunnerOption
	var errorSensor *internalsensor.InstrumentationErrorSensor
	if s := cfg.InternalSensors.InstrumentationError; s != nil && s.Enabled {
		errorSensor = internalsensor.NewInstrumentationErrorSensor(logger, store, s.NodeID, s.SensorID, s.Description, s.AlertLevels)
		runnerOpts = append(runnerOpts, instrumentation.WithErrorReporter(errorSensor))
	}
	runner := instrumentation.NewRunner(logger, runnerOpts...)

	sessionSink := manager.NewSessionSink(logger, registry, cfg.Server.Engine.SendTimeout)
	sinks := []manager.Sink{sessionSink}
	var closers []io.Closer
	if k := cfg.Server.ManagerUpdate.Kafka; k != nil {
		kafkaSink, err := manager.NewKafkaSink(k.Brokers, k.Topic)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Kafka sink")
		}
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink)
		logger.Info().Strs("brokers", k.Brokers).Str("topic", k.Topic).Msg("Publishing state changes to Kafka")
	}
	updates := manager.NewUpdateExecuter(logger, cfg.Server.ManagerUpdate.IdleTimeout, sinks...)

	engine := alerter.NewEngine(logger, levels, store, runner, dispatcher, updates,
		alerter.WithIdleTimeout(cfg.Server.Engine.IdleTimeout),
		alerter.WithBusySleep(cfg.Server.Engine.BusySleep),
	)
	if errorSensor != nil {
		errorSensor.Attach(engine)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		updates.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	apiServer := api.NewServer(engine, levels, logger, cfg.Server.HTTPAddr)
	apiServer.SetLogBuffer(logBuffer)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	healthServer := api.NewHealthServer(engine, logger, cfg.Server.GRPCAddr)
	go func() {
		if err := healthServer.Serve(ctx); err != nil {
			logger.Error().Err(err).Msg("gRPC health server error")
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info().Msg("alertrd running, press Ctrl+C to stop")

	<-sigChan
	logger.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = apiServer.Shutdown(shutdownCtx)
	wg.Wait()
	sessionSink.Wait()
	dispatcher.Wait()
	runner.Wait()

	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	err = multierr.Append(err, store.Close())
	if err != nil {
		logger.Error().Err(err).Msg("Errors during shutdown")
	}

	logger.Info().Msg("alertrd stopped")
	_ = logCloser.Close()
}

func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Store, error) {
	switch cfg.Server.Storage.Backend {
	case config.BackendPostgres:
		dsn := os.Getenv(cfg.Server.Storage.DatabaseURLEnv)
		if dsn == "" {
			return nil, fmt.Errorf("%s is not set", cfg.Server.Storage.DatabaseURLEnv)
		}
		pg, err := postgres.New(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		logger.Warn().Msg("Using in-memory storage, queued sensor alerts are lost on restart")
		m := memory.New()
		m.SetAlertSystemActive(cfg.Server.Storage.AlertSystemActive)
		return m, nil
	}
}
