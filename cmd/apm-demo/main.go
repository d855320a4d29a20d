package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apmdemo "github.com/fllarpy/apm-demo"
	"github.com/fllarpy/apm-demo/exporter"
	"github.com/fllarpy/apm-demo/internal/handlers"
	"github.com/fllarpy/apm-demo/internal/logger"
	"github.com/fllarpy/apm-demo/internal/ports/prom_reporter"
	"github.com/fllarpy/apm-demo/internal/server"
	"github.com/fllarpy/apm-demo/pkg/config"
)

// Set via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	branch  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := config.Flags("apm-demo")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(".", flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Flush(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The pipeline must be ready before the first connection is accepted.
	probe, err := apmdemo.NewProbe(ctx, cfg, exporter.BuildInfo{
		Version: version,
		Commit:  commit,
		Branch:  branch,
	}, log)
	if err != nil {
		log.Error("Failed to initialize metrics pipeline", zap.Error(err))
		return 1
	}

	var ready atomic.Bool
	servers := make([]*server.Server, 0, 2)

	app := server.New(server.Options{
		Name: "app",
		Addr: cfg.HTTP.Addr,
		Handler: handlers.NewRouter(handlers.RouterOptions{
			Handlers:       handlers.New(cfg.HTTP.SlowDelay, log),
			Recorder:       probe.Recorder(),
			TracerProvider: probe.TracerProvider(),
			Logger:         log,
			ServiceName:    cfg.ServiceName,
		}),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
		Logger:            log,
	})
	servers = append(servers, app)

	if cfg.Admin.Addr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			prom_reporter.NewCollector(probe.Store()),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		admin := server.New(server.Options{
			Name:              "admin",
			Addr:              cfg.Admin.Addr,
			Handler:           server.NewAdminHandler(probe.Store(), registry, cfg.Admin.DebugPath, ready.Load),
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
			ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
			Logger:            log,
		})
		servers = append(servers, admin)
	}

	listeners, err := listenAll(servers)
	if err != nil {
		log.Error("Failed to bind HTTP listeners", zap.Error(err))
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.FlushTimeout)
		defer cancel()
		if err := probe.Shutdown(flushCtx); err != nil {
			log.Error("Failed to flush metrics on shutdown", zap.Error(err))
		}
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		ln := listeners[i]
		g.Go(func() error { return srv.Serve(gctx, ln) })
	}

	ready.Store(true)
	serveErr := g.Wait()
	ready.Store(false)
	if serveErr != nil {
		log.Error("HTTP server failed", zap.Error(serveErr))
	}

	drain(log, cfg.Shutdown.DrainPeriod)

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.FlushTimeout)
	defer cancel()
	if err := probe.Shutdown(flushCtx); err != nil {
		log.Error("Failed to flush metrics on shutdown", zap.Error(err))
	} else {
		stats := probe.Stats()
		log.Info("Metrics flushed, exiting",
			zap.Uint64("exports", stats.Exports),
			zap.Uint64("failed_exports", stats.FailedExports),
			zap.Uint64("dropped_observations", stats.DroppedObservations))
	}

	if serveErr != nil {
		return 1
	}
	return 0
}

// listenAll binds every server's address. On failure the listeners already
// opened are closed.
func listenAll(servers []*server.Server) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := srv.Listen()
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return nil, err
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

// drain keeps the process alive for period so the last pushes reach the
// collector. A further interrupt ends the wait early.
func drain(log *zap.Logger, period time.Duration) {
	if period <= 0 {
		return
	}
	log.Info("Waiting so that we could see metrics going down...", zap.Duration("drain_period", period))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timer := time.NewTimer(period)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		log.Info("Drain interrupted")
	}
}
