package ports

import (
	"context"
	"time"

	"reel/internal/models"
)

// JobStore is the durable queue and the single source of truth for job state.
//
// Errors carry codes from reel/internal/pkg/errors: NotFound for unknown
// ids, Conflict when a lease token no longer matches, Unavailable when the
// backing store cannot be reached.
type JobStore interface {
	Enqueue(ctx context.Context, p models.Payload) (*models.Job, error)

	// Claim moves one runnable queued job to active under owner and returns
	// it. It returns nil, nil when nothing is claimable.
	Claim(ctx context.Context, owner string) (*models.Job, error)

	// Complete is idempotent for the same result.
	Complete(ctx context.Context, id, leaseToken, result string) error

	// Fail re-queues with backoff or marks the job failed, and returns the
	// resulting state.
	Fail(ctx context.Context, id, leaseToken, reason string, retryable bool) (models.State, error)

	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, f models.ListFilter) ([]*models.Job, error)
	Counts(ctx context.Context) (models.Counts, error)

	// ReclaimExpired treats every active job past its lease as a retryable
	// failure and returns how many were affected.
	ReclaimExpired(ctx context.Context) (int64, error)

	// Purge deletes queued and active jobs.
	Purge(ctx context.Context) (int64, error)

	// PruneFinished deletes completed jobs finished before olderThan.
	PruneFinished(ctx context.Context, olderThan time.Time) (int64, error)

	Ping(ctx context.Context) error
}

// Waker lets the submission side nudge idle workers.
type Waker interface {
	Notify(ctx context.Context, jobID string) error
	// Wait returns true when woken, false on timeout. ctx cancellation
	// returns ctx.Err().
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}
