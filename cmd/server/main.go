// Package main runs the signal board job on an interval and serves
// health, status and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"signal-board/internal/app"
	"signal-board/internal/logger"
	"signal-board/internal/observability"
	"signal-board/internal/orchestrator"
)

const shutdownTimeout = 30 * time.Second

// Server runs the job on a ticker and tracks its status.
type Server struct {
	orch     *orchestrator.Orchestrator
	interval time.Duration
	log      *logger.Logger

	mu        sync.Mutex
	started   time.Time
	lastRun   time.Time
	lastError string
	running   bool
	runs      int
	failures  int
	last      []orchestrator.PartitionReport
}

func main() {
	var flags app.Flags
	flags.Register(flag.CommandLine)
	interval := flag.Duration("interval", 0, "job interval (defaults to the configured interval)")
	metricsAddr := flag.String("metrics-addr", ":9090", "health, status and metrics HTTP address")
	flag.Parse()

	cfg, log, err := flags.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *interval > 0 {
		cfg.Interval = *interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, cleanup, err := app.Build(ctx, cfg, flags.BackendName(), log)
	if err != nil {
		log.Fatal("failed to build components", "error", err)
	}
	defer cleanup()

	s := &Server{
		orch:     components.Orchestrator,
		interval: cfg.Interval,
		log:      log,
		started:  time.Now(),
	}

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			log.Error("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			log.Error("graceful shutdown timed out, forcing exit", "timeout", shutdownTimeout)
			os.Exit(1)
		case <-done:
		}
	}()

	log.Info("starting server",
		"backend", flags.BackendName(),
		"partitions", len(cfg.Partitions),
		"interval", cfg.Interval,
		"metrics_addr", *metricsAddr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveHTTP(gctx, *metricsAddr) })
	g.Go(func() error { return s.runScheduler(gctx) })

	err = g.Wait()
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", "error", err)
	}
	log.Info("shutdown complete")
}

// runScheduler runs the job immediately and then on every tick.
func (s *Server) runScheduler(ctx context.Context) error {
	s.runJob(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runJob(ctx)
		}
	}
}

func (s *Server) runJob(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("job already running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	start := time.Now()
	res, err := s.orch.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = start
	s.runs++
	s.lastError = ""
	if res != nil {
		s.last = res.Partitions
		if len(res.Errors) > 0 {
			s.failures++
			s.lastError = errors.Join(res.Errors...).Error()
		}
	}
	if err != nil {
		s.lastError = err.Error()
		s.log.Warn("job interrupted", "error", err, "duration", time.Since(start))
		return
	}
	s.log.Info("job finished", "duration", time.Since(start), "errors", len(res.Errors))
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting HTTP server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse is the JSON body of /status.
type StatusResponse struct {
	Status     string                         `json:"status"`
	Uptime     string                         `json:"uptime"`
	Interval   string                         `json:"interval"`
	LastRun    time.Time                      `json:"last_run,omitempty"`
	LastError  string                         `json:"last_error,omitempty"`
	Running    bool                           `json:"running"`
	Runs       int                            `json:"runs"`
	Failures   int                            `json:"failures"`
	Partitions []orchestrator.PartitionReport `json:"partitions,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := StatusResponse{
		Status:     "running",
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Interval:   s.interval.String(),
		LastRun:    s.lastRun,
		LastError:  s.lastError,
		Running:    s.running,
		Runs:       s.runs,
		Failures:   s.failures,
		Partitions: s.last,
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
