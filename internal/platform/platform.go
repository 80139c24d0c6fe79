// Package platform builds the long-lived clients a reel process needs from
// its configuration and releases them on Close.
package platform

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"reel/internal/config"
	"reel/internal/delivery"
	"reel/internal/pkg/errors"
	"reel/internal/pkg/logger"
	"reel/internal/ports"
	"reel/internal/queue"
	"reel/internal/storage"
	"reel/internal/worker"
	"reel/internal/worker/renderer"
)

type Platform struct {
	Config  *config.Config
	Store   ports.JobStore
	Waker   ports.Waker
	Storage ports.StorageProvider

	// DB and Redis are nil with the memory queue backend.
	DB    *pgxpool.Pool
	Redis *redis.Client

	log *logger.Logger
}

// Policy derives the queue policy from configuration.
func Policy(cfg *config.Config) queue.Policy {
	return queue.Policy{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseDelay:   cfg.Queue.RetryBaseDelay,
		MaxDelay:    cfg.Queue.RetryMaxDelay,
		Lease:       cfg.Worker.Lease(),
	}
}

// Open connects to the store, the wake-up channel and object storage. On
// error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Platform, error) {
	p := &Platform{Config: cfg, log: log.WithComponent("platform")}
	policy := Policy(cfg)

	switch cfg.Queue.Backend {
	case "memory":
		p.Store = queue.NewMemoryStore(policy)
		p.Waker = queue.NewMemoryWaker()
		p.log.Warn("using in-memory queue; jobs do not survive a restart")

	default:
		db, err := queue.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		p.DB = db
		p.Store = queue.NewPostgresStore(db, policy)
		p.log.Info("PostgreSQL connected")

		p.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := p.Redis.Ping(ctx).Err(); err != nil {
			p.Close()
			return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "platform.open", "ping redis")
		}
		p.Waker = queue.NewRedisWaker(p.Redis, cfg.Queue.Name)
		p.log.Info("Redis connected")
	}

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Storage = sp
	p.log.Info("storage provider initialized", "provider", sp.Provider())

	return p, nil
}

// Deliverer returns the configured delivery variant.
func (p *Platform) Deliverer() delivery.Deliverer {
	cfg := p.Config
	pull := delivery.NewPull(p.Storage, cfg.Server.PublicBaseURL, cfg.Sweep.AssetTTL)
	if cfg.Delivery.Mode != "push" {
		return pull
	}

	var dedupe delivery.Deduper = delivery.NewMemoryDeduper()
	if p.Redis != nil {
		dedupe = delivery.NewRedisDeduper(p.Redis, cfg.Sweep.JobRetention)
	}
	return delivery.NewPush(pull, delivery.NewSMTPMailer(cfg.SMTP), dedupe, p.log)
}

func (p *Platform) Renderer() renderer.Client {
	r := p.Config.Renderer
	return renderer.NewHTTPClient(renderer.Options{
		BaseURL:           r.BaseURL,
		Path:              r.Path,
		APIKey:            r.APIKey,
		RatePerMin:        r.RatePerMin,
		Width:             r.Width,
		Height:            r.Height,
		Duration:          r.Duration,
		NumInferenceSteps: r.Steps,
		CFGScale:          r.CFGScale,
		Seed:              r.Seed,
	})
}

// Pool wires a worker pool to this platform.
func (p *Platform) Pool(log *logger.Logger) *worker.Pool {
	cfg := p.Config
	proc := worker.NewProcessor(worker.ProcessorDeps{
		Store:           p.Store,
		Renderer:        p.Renderer(),
		Deliverer:       p.Deliverer(),
		RenderTimeout:   cfg.Worker.RenderTimeout,
		DeliveryTimeout: cfg.Worker.DeliveryTimeout,
		Log:             log,
	})
	return worker.NewPool(p.Store, p.Waker, proc, worker.PoolConfig{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
	}, log)
}

func (p *Platform) Sweeper(log *logger.Logger) *worker.Sweeper {
	return worker.NewSweeper(p.Store, p.Storage, p.Config.Sweep, log)
}

// RunWorkers runs the worker pool and the retention sweeper until ctx is
// cancelled and the pool has drained its in-flight jobs.
func (p *Platform) RunWorkers(ctx context.Context, log *logger.Logger) error {
	pool := p.Pool(log.WithComponent("worker"))
	sweeper := p.Sweeper(log.WithComponent("sweeper"))

	var g errgroup.Group
	g.Go(func() error {
		return pool.Run(ctx)
	})
	g.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})
	return g.Wait()
}

// Close releases connections. It is safe to call more than once.
func (p *Platform) Close() {
	if p.Redis != nil {
		if err := p.Redis.Close(); err != nil {
			p.log.Warn("close redis", "error", err.Error())
		}
		p.Redis = nil
	}
	if p.DB != nil {
		p.DB.Close()
		p.DB = nil
	}
}
