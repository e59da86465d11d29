package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/cascadeview/backend/internal/config"
	"github.com/cascadeview/backend/internal/discovery"
	"github.com/cascadeview/backend/internal/events"
	"github.com/cascadeview/backend/internal/logging"
	"github.com/cascadeview/backend/internal/monitoring"
	"github.com/cascadeview/backend/internal/server"
	"github.com/cascadeview/backend/internal/session"
	"github.com/cascadeview/backend/internal/snapshot"
)

func main() {
	cfg := config.LoadOrDefault()

	port := flag.String("port", cfg.Server.Port, "HTTP server port")
	host := flag.String("host", cfg.Server.Host, "HTTP server host")
	heuristicsFile := flag.String("heuristics", cfg.Discovery.HeuristicsFile, "YAML heuristics override file")
	dev := flag.Bool("dev", false, "development mode (colored logs, debug level)")
	flag.Parse()

	if *dev {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log = logging.NewDefault()
	}
	defer log.Sync()

	heur, err := config.LoadHeuristics(*heuristicsFile)
	if err != nil {
		log.Warn("heuristics file ignored", zap.Error(err))
	}

	registry := session.NewRegistry()
	hub := events.NewHub()
	metrics := monitoring.New()

	// One lock serializes discovery scans against snapshot poll ticks.
	var opLock sync.Mutex

	engine := discovery.NewEngine(discovery.Options{
		Enumerator: discovery.NewPortEnumerator(
			cfg.Discovery.Host,
			cfg.Discovery.PortStart,
			cfg.Discovery.PortEnd,
			log.Named("discovery"),
		),
		Heuristics:  heur,
		Registry:    registry,
		Hub:         hub,
		Metrics:     metrics,
		Logger:      log.Named("discovery"),
		OpLock:      &opLock,
		CallTimeout: cfg.Poll.CallTimeout,
	})

	capturer := snapshot.NewCapturer(heur)
	pipeline := snapshot.NewPipeline(snapshot.PipelineOptions{
		Registry:      registry,
		Capture:       capturer.Capture,
		Hub:           hub,
		Metrics:       metrics,
		Logger:        log.Named("snapshot"),
		OpLock:        &opLock,
		IdleThreshold: cfg.Poll.IdleThreshold,
		IdleCooldown:  cfg.Poll.IdleCooldown,
	})

	commander := session.NewCommander(registry, heur, cfg.Poll.DedupWindow, log.Named("commands"))

	srv := server.New(server.Options{
		Registry:  registry,
		Commander: commander,
		Pipeline:  pipeline,
		Engine:    engine,
		Hub:       hub,
		Metrics:   metrics,
		Logger:    log.Named("server"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx, cfg.Discovery.Interval)
	go pipeline.Run(ctx, cfg.Poll.Interval)

	errChan := make(chan error, 1)
	go func() {
		addr := *host + ":" + *port
		log.Info("listening", zap.String("addr", addr))
		errChan <- srv.Run(addr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("shutting down")
		cancel()
		for _, s := range registry.All() {
			s.Teardown()
		}
	case err := <-errChan:
		log.Fatal("server error", zap.Error(err))
	}
}
