// Package queue implements the durable job store and the wake-up doorbell
// used by the reel API and worker.
package queue

import (
	"time"

	"reel/internal/models"
	"reel/internal/pkg/errors"
)

const leaseExpiredReason = "lease expired"

// Policy holds the retry ceiling, backoff curve and lease length.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Lease       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		MaxDelay:    5 * time.Minute,
		Lease:       13 * time.Minute,
	}
}

// Backoff returns the delay before the retry that follows attempt n
// (1-based): BaseDelay doubled per previous attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ErrLeaseLost is returned when a worker reports on a job it no longer owns.
var ErrLeaseLost = errors.New(errors.CodeConflict, "lease no longer held")

func leaseLost(op, id string) error {
	return errors.Wrap(ErrLeaseLost, op, "job "+id+" is not held by this lease").WithField("id", id)
}

// The functions below are the state machine shared by every store. They
// mutate j in place; the caller persists it.

func newJob(id string, p models.Payload, maxAttempts int, now time.Time) *models.Job {
	return &models.Job{
		ID:          id,
		Payload:     p,
		State:       models.StateQueued,
		MaxAttempts: maxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func claimJob(j *models.Job, owner, token string, now time.Time, lease time.Duration) {
	expires := now.Add(lease)
	j.State = models.StateActive
	j.Attempts++
	j.LeaseOwner = owner
	j.LeaseToken = token
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
}

func holdsLease(j *models.Job, token string) bool {
	return j.State == models.StateActive && token != "" && j.LeaseToken == token
}

// completeJob reports whether j changed. Completing an already completed job
// with the same result is a no-op.
func completeJob(j *models.Job, token, result string, now time.Time) (bool, error) {
	if result == "" {
		return false, errors.ValidationField("result", "result reference is required")
	}
	if j.State == models.StateCompleted && j.Result == result {
		return false, nil
	}
	if !holdsLease(j, token) {
		return false, leaseLost("queue.complete", j.ID)
	}
	j.State = models.StateCompleted
	j.Result = result
	j.FinishedAt = &now
	j.UpdatedAt = now
	clearLease(j)
	return true, nil
}

func failJob(j *models.Job, token, reason string, retryable bool, now time.Time, p Policy) error {
	if !holdsLease(j, token) {
		return leaseLost("queue.fail", j.ID)
	}
	applyFailure(j, reason, retryable, now, p)
	return nil
}

// applyFailure re-queues j with backoff while attempts remain, otherwise
// marks it failed.
func applyFailure(j *models.Job, reason string, retryable bool, now time.Time, p Policy) {
	reason = models.TruncateUTF8(reason, models.MaxReasonLen)
	if reason == "" {
		reason = "unknown error"
	}
	clearLease(j)
	j.UpdatedAt = now

	if retryable && j.Attempts < j.MaxAttempts {
		j.State = models.StateQueued
		j.RunAt = now.Add(p.Backoff(j.Attempts))
		j.LastError = reason
		return
	}

	j.State = models.StateFailed
	j.FailureReason = reason
	j.LastError = reason
	j.FinishedAt = &now
}

func leaseExpired(j *models.Job, now time.Time) bool {
	return j.State == models.StateActive && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}

func clearLease(j *models.Job) {
	j.LeaseOwner = ""
	j.LeaseToken = ""
	j.LeaseExpiresAt = nil
}
