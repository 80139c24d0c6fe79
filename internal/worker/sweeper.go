package worker

import (
	"context"
	"time"

	"reel/internal/config"
	"reel/internal/pkg/errors"
	"reel/internal/pkg/logger"
	"reel/internal/ports"
)

const videoPrefix = "videos/"

type SweepResult struct {
	AssetsDeleted int
	JobsPruned    int64
}

// Sweeper removes rendered assets past ASSET_TTL and completed job records
// past JOB_RETENTION. Failed jobs are never pruned.
type Sweeper struct {
	store   ports.JobStore
	storage ports.StorageProvider
	cfg     config.SweepConfig
	now     func() time.Time
	log     *logger.Logger
}

func NewSweeper(store ports.JobStore, storage ports.StorageProvider, cfg config.SweepConfig, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Sweeper{
		store:   store,
		storage: storage,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.WithComponent("sweeper"),
	}
}

// RunOnce does a single pass. Both halves run even if the other fails; the
// first error is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	deleted, assetErr := s.sweepAssets(ctx, now.Add(-s.cfg.AssetTTL))
	res.AssetsDeleted = deleted

	pruned, err := s.store.PruneFinished(ctx, now.Add(-s.cfg.JobRetention))
	if err != nil {
		err = errors.Wrap(err, "sweeper.prune", "prune finished jobs")
	}
	res.JobsPruned = pruned

	if res.AssetsDeleted > 0 || res.JobsPruned > 0 {
		s.log.Info("sweep finished", "assets_deleted", res.AssetsDeleted, "jobs_pruned", res.JobsPruned)
	}

	if assetErr != nil {
		return res, assetErr
	}
	return res, err
}

func (s *Sweeper) sweepAssets(ctx context.Context, cutoff time.Time) (int, error) {
	objs, err := s.storage.ListObjects(ctx, videoPrefix)
	if err != nil {
		return 0, errors.Wrap(err, "sweeper.assets", "list assets")
	}

	deleted := 0
	var firstErr error
	for _, o := range objs {
		if !o.ModTime.Before(cutoff) {
			continue
		}
		if err := s.storage.DeleteObject(ctx, o.Key); err != nil && !errors.IsNotFound(err) {
			s.log.Warn("delete expired asset failed", "key", o.Key, "error", err.Error())
			if firstErr == nil {
				firstErr = errors.Wrap(err, "sweeper.assets", "delete "+o.Key)
			}
			continue
		}
		deleted++
	}
	return deleted, firstErr
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.LogError(ctx, "sweep failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
