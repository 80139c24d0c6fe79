package main

import (
	"context"
	"net/http"
	"time"

	"reel/internal/config"
	"reel/internal/httpapi"
	"reel/internal/pkg/logger"
	"reel/internal/pkg/shutdown"
	"reel/internal/platform"
)

func main() {
	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = "reel-api"
	log := logger.New(logCfg)

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("invalid configuration", err)
	}

	log.Info("starting reel API",
		"queue_backend", cfg.Queue.Backend,
		"storage_provider", cfg.Storage.Provider,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	p, err := platform.Open(ctx, cfg, log)
	if err != nil {
		log.LogFatal("failed to open platform", err)
	}
	shutdownMgr.RegisterSimple("platform", p.Close)

	// The memory queue is private to this process, so it needs its own pool
	// and sweeper.
	if cfg.Queue.Backend == "memory" {
		if err := cfg.ValidateWorker(); err != nil {
			log.LogFatal("invalid worker configuration", err)
		}
		workersDone := make(chan struct{})
		go func() {
			defer close(workersDone)
			if err := p.RunWorkers(shutdownMgr.Context(), log); err != nil {
				log.Error("embedded workers stopped", "error", err.Error())
			}
		}()
		shutdownMgr.Register("workers", func(ctx context.Context) error {
			select {
			case <-workersDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		log.Info("embedded workers started", "concurrency", cfg.Worker.Concurrency)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:          p.Store,
		Waker:          p.Waker,
		Storage:        p.Storage,
		Log:            log,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // video downloads
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
