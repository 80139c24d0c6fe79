// Package worker claims jobs from the store and runs them to a terminal or
// re-queued state.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"reel/internal/pkg/logger"
	"reel/internal/ports"
)

const (
	defaultReapInterval = 30 * time.Second
	minClaimBackoff     = time.Second
)

type PoolConfig struct {
	// Concurrency is the number of jobs processed at once.
	Concurrency int
	// PollInterval bounds how long an idle slot waits before claiming again.
	PollInterval time.Duration
	// ReapInterval is how often expired leases are reclaimed.
	ReapInterval time.Duration
	// Name prefixes slot owner names; defaults to the hostname.
	Name string
}

// Pool runs Concurrency claim loops and one lease reaper.
type Pool struct {
	store     ports.JobStore
	waker     ports.Waker
	processor *Processor
	cfg       PoolConfig
	log       *logger.Logger
}

func NewPool(store ports.JobStore, waker ports.Waker, processor *Processor, cfg PoolConfig, log *logger.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
		if cfg.Name == "" {
			cfg.Name = "worker"
		}
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Pool{store: store, waker: waker, processor: processor, cfg: cfg, log: log.WithComponent("pool")}
}

// Run blocks until ctx is cancelled and every in-flight job has finished.
// Jobs are not interrupted by ctx; they are bounded by their own timeouts.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker pool starting",
		"concurrency", p.cfg.Concurrency,
		"poll_interval", p.cfg.PollInterval.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= p.cfg.Concurrency; i++ {
		owner := fmt.Sprintf("%s-%d-%d", p.cfg.Name, os.Getpid(), i)
		g.Go(func() error {
			p.slot(gctx, owner)
			return nil
		})
	}
	g.Go(func() error {
		p.reap(gctx)
		return nil
	})

	err := g.Wait()
	p.log.Info("worker pool stopped")
	return err
}

func (p *Pool) slot(ctx context.Context, owner string) {
	log := p.log.WithWorker(owner)
	var backoff time.Duration

	for ctx.Err() == nil {
		job, err := p.store.Claim(ctx, owner)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff = nextBackoff(backoff, p.cfg.PollInterval)
			log.Warn("claim failed, backing off", "error", err.Error(), "backoff", backoff.String())
			sleep(ctx, backoff)
			continue
		}
		backoff = 0

		if job == nil {
			if _, err := p.waker.Wait(ctx, p.cfg.PollInterval); err != nil && ctx.Err() == nil {
				log.Warn("wake-up channel unavailable", "error", err.Error())
				sleep(ctx, p.cfg.PollInterval)
			}
			continue
		}

		jobCtx := logger.ContextWithWorker(context.WithoutCancel(ctx), owner)
		jobCtx = logger.ContextWithJobID(jobCtx, job.ID)
		_, _ = p.processor.Process(jobCtx, job)
	}
}

func (p *Pool) reap(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		n, err := p.store.ReclaimExpired(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			p.log.Warn("reclaim expired leases failed", "error", err.Error())
		case n > 0:
			p.log.Warn("reclaimed expired leases", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	if cur < minClaimBackoff {
		cur = minClaimBackoff
	} else {
		cur *= 2
	}
	if cur > ceiling {
		cur = ceiling
	}
	return cur
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
