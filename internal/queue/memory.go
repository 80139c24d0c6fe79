package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reel/internal/models"
	"reel/internal/pkg/errors"
)

// MemoryStore is an in-process JobStore for tests and single-process
// development. It applies the same state machine as PostgresStore.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	policy Policy
	now    func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, letting tests move past backoff and leases.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(p Policy, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		jobs:   make(map[string]*models.Job),
		policy: p,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Enqueue(ctx context.Context, p models.Payload) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.enqueue", "enqueue canceled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := newJob(uuid.NewString(), p, s.policy.MaxAttempts, s.now().UTC())
	s.jobs[j.ID] = j
	return j.Clone(), nil
}

func (s *MemoryStore) Claim(ctx context.Context, owner string) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.claim", "claim canceled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var next *models.Job
	for _, j := range s.jobs {
		if j.State != models.StateQueued || j.RunAt.After(now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) ||
			(j.RunAt.Equal(next.RunAt) && j.CreatedAt.Before(next.CreatedAt)) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	claimJob(next, owner, uuid.NewString(), now, s.policy.Lease)
	return next.Clone(), nil
}

func (s *MemoryStore) Complete(ctx context.Context, id, leaseToken, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return errors.NotFound("job", id)
	}
	_, err := completeJob(j, leaseToken, result, s.now().UTC())
	return err
}

func (s *MemoryStore) Fail(ctx context.Context, id, leaseToken, reason string, retryable bool) (models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return "", errors.NotFound("job", id)
	}
	if err := failJob(j, leaseToken, reason, retryable, s.now().UTC(), s.policy); err != nil {
		return j.State, err
	}
	return j.State, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.NotFound("job", id)
	}
	return j.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, f models.ListFilter) ([]*models.Job, error) {
	f = f.Normalize()

	s.mu.Lock()
	out := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.State == "" || j.State == f.State {
			out = append(out, j.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Counts(ctx context.Context) (models.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c models.Counts
	for _, j := range s.jobs {
		c.Add(j.State, 1)
	}
	return c, nil
}

func (s *MemoryStore) ReclaimExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var n int64
	for _, j := range s.jobs {
		if leaseExpired(j, now) {
			applyFailure(j, leaseExpiredReason, true, now, s.policy)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Purge(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, j := range s.jobs {
		if j.State == models.StateQueued || j.State == models.StateActive {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PruneFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, j := range s.jobs {
		if j.State == models.StateCompleted && j.FinishedAt != nil && j.FinishedAt.Before(olderThan) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// MemoryWaker is a channel-backed Waker for a single process.
type MemoryWaker struct {
	ch chan string
}

func NewMemoryWaker() *MemoryWaker {
	return &MemoryWaker{ch: make(chan string, 64)}
}

// Notify never blocks; a full buffer already guarantees a wake-up.
func (w *MemoryWaker) Notify(ctx context.Context, jobID string) error {
	select {
	case w.ch <- jobID:
	default:
	}
	return nil
}

func (w *MemoryWaker) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ch:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
