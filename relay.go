package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/cdcrelay/admin"
	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/pipeline"
	"github.com/maxpert/cdcrelay/publisher"
	_ "github.com/maxpert/cdcrelay/publisher/sink"
	"github.com/maxpert/cdcrelay/source"
	"github.com/maxpert/cdcrelay/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Upper bound for draining in-flight publishes on shutdown
const shutdownTimeout = 2 * time.Minute

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging. Console output goes to stderr so the stdin source can
	// share a terminal with it.
	var writer io.Writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stderr
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("cdcrelay - change event normalizer")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Relay stopped with error")
	}

	log.Info().Msg("Relay stopped")
}

func run(ctx context.Context) error {
	log.Info().Strs("sinks", publisher.SinkTypes()).Strs("sources", source.Types()).Msg("Initializing publisher")
	registry, err := publisher.NewRegistry(cfg.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize publisher: %w", err)
	}

	filter, err := publisher.NewGlobFilter(cfg.Config.Filter.Tables, cfg.Config.Filter.Databases)
	if err != nil {
		registry.Close(context.Background())
		return fmt.Errorf("invalid table filter: %w", err)
	}

	headers, err := publisher.NewHeaderFilter(cfg.Config.Output.HeaderPassthrough)
	if err != nil {
		registry.Close(context.Background())
		return fmt.Errorf("invalid header passthrough pattern: %w", err)
	}

	stats := admin.NewStats()
	pool, err := pipeline.NewWorkerPool(pipeline.Config{
		Workers:   cfg.Config.Pipeline.Workers,
		QueueSize: cfg.Config.Pipeline.QueueSize,
		Publisher: registry.Publisher(),
		Filter:    filter,
		Headers:   headers,
		Recorder:  stats,
	})
	if err != nil {
		registry.Close(context.Background())
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	pool.Start()

	collector := telemetry.NewMetricsCollector(pool, 5*time.Second)
	collector.Start()
	defer collector.Stop()

	if cfg.Config.Admin.Enabled {
		server, err := startAdminServer(admin.NewAdminHandlers(cfg.Config.InstanceID, stats, pool))
		if err != nil {
			shutdown(pool, registry)
			return err
		}
		defer server.Close()
	}

	log.Info().Str("source", string(cfg.Config.Source.Type)).Msg("Initializing source")
	src, err := source.New(cfg.Config)
	if err != nil {
		shutdown(pool, registry)
		return fmt.Errorf("failed to create source: %w", err)
	}

	log.Info().
		Str("topic", cfg.Config.Output.Topic).
		Str("dead_letter_topic", cfg.Config.Output.DeadLetterTopic).
		Int("workers", cfg.Config.Pipeline.Workers).
		Msg("Relay is operational")

	runErr := src.Run(ctx, pool.Submit)
	if runErr != nil {
		log.Error().Err(runErr).Msg("Source stopped")
	}

	if err := src.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close source")
	}

	return errors.Join(runErr, shutdown(pool, registry))
}

// shutdown drains the pool then the publisher so every issued publish resolves
// before sinks are closed
func shutdown(pool *pipeline.WorkerPool, registry *publisher.Registry) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Msg("Draining pipeline")
	poolErr := pool.Stop(ctx)
	if poolErr != nil {
		log.Warn().Err(poolErr).Msg("Worker pool did not drain cleanly")
	}

	return errors.Join(poolErr, registry.Close(ctx))
}

func startAdminServer(handlers *admin.AdminHandlers) (*http.Server, error) {
	addr := net.JoinHostPort(cfg.Config.Admin.Address, strconv.Itoa(cfg.Config.Admin.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on admin address %s: %w", addr, err)
	}

	httpMux := http.NewServeMux()

	// Register pprof handlers for profiling
	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	admin.RegisterRoutes(httpMux, handlers, telemetry.GetMetricsHandler(), cfg.Config.Admin.Secret)

	httpServer := &http.Server{
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin HTTP server failed")
		}
	}()

	log.Info().Str("address", addr).Msg("Admin HTTP server started")
	return httpServer, nil
}
