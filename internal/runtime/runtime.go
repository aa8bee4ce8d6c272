// Package runtime assembles the lector daemon: storage, synthesis pipeline,
// message bus, telemetry, and the HTTP API, with ordered shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lectorlabs/lector-core/internal/artifact"
	"github.com/lectorlabs/lector-core/internal/auth"
	"github.com/lectorlabs/lector-core/internal/bus"
	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/docstore"
	"github.com/lectorlabs/lector-core/internal/extract"
	"github.com/lectorlabs/lector-core/internal/natsserver"
	"github.com/lectorlabs/lector-core/internal/pipeline"
	"github.com/lectorlabs/lector-core/internal/server"
	"github.com/lectorlabs/lector-core/internal/synth"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every subsystem and blocks until ctx is cancelled, then
// shuts them down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		// The bus only carries progress notifications; the API and
		// pipeline work without it.
		r.logger.Warn("continuing without message bus", slog.String("error", err.Error()))
		busClient = nil
	}
	if busClient != nil {
		defer busClient.Close()
	}

	docs, err := docstore.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer docs.Close()

	artifacts, err := artifact.NewStore(r.cfg.Artifacts.Dir)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	synthesizer, err := synth.New(r.cfg.Synthesis)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}

	pipe := pipeline.NewService(ctx, r.cfg.Synthesis, docs, artifacts, synthesizer, busClient, r.logger)
	defer pipe.Close()

	extractor := extract.NewReadabilityExtractor(
		time.Duration(r.cfg.Extract.TimeoutMS) * time.Millisecond)
	authorizer := auth.NewStaticToken(r.cfg.Auth.Token)

	api := server.New(r.cfg, docs, artifacts, pipe, extractor, authorizer, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	api.Routes(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synthesis_mode", r.cfg.Synthesis.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
