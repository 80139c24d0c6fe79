package main

import (
	"context"

	"reel/internal/config"
	"reel/internal/pkg/logger"
	"reel/internal/pkg/shutdown"
	"reel/internal/platform"
)

func main() {
	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = "reel-worker"
	log := logger.New(logCfg)

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("invalid configuration", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.LogFatal("invalid worker configuration", err)
	}
	if cfg.Queue.Backend == "memory" {
		log.Warn("QUEUE_BACKEND=memory: this worker only sees its own jobs; run the API's embedded pool instead")
	}

	// Running jobs get up to a full lease to finish before we give up on them.
	shutdownMgr := shutdown.NewManager(log, cfg.Worker.Lease())

	p, err := platform.Open(context.Background(), cfg, log)
	if err != nil {
		log.LogFatal("failed to open platform", err)
	}
	shutdownMgr.RegisterSimple("platform", p.Close)

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := p.RunWorkers(shutdownMgr.Context(), log); err != nil {
			log.Error("worker pool stopped", "error", err.Error())
		}
	}()

	shutdownMgr.Register("worker", func(ctx context.Context) error {
		select {
		case <-workersDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	log.Info("reel worker started",
		"concurrency", cfg.Worker.Concurrency,
		"lease", cfg.Worker.Lease().String(),
		"delivery_mode", cfg.Delivery.Mode,
	)

	shutdownMgr.Wait()
}
