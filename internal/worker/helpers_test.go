package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reel/internal/adapters/storage/localfs"
	"reel/internal/delivery"
	"reel/internal/models"
	"reel/internal/pkg/logger"
	"reel/internal/queue"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type renderFunc func(ctx context.Context, prompt string) ([]byte, error)

func (f renderFunc) Render(ctx context.Context, prompt string) ([]byte, error) {
	return f(ctx, prompt)
}

type deliverFunc func(ctx context.Context, jobID string, video []byte, contact string) (string, error)

func (f deliverFunc) Deliver(ctx context.Context, jobID string, video []byte, contact string) (string, error) {
	return f(ctx, jobID, video, contact)
}

func okRender(ctx context.Context, prompt string) ([]byte, error) {
	return []byte("mp4:" + prompt), nil
}

var testPolicy = queue.Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    10 * time.Second,
	Lease:       time.Minute,
}

type harness struct {
	clock     *fakeClock
	store     *queue.MemoryStore
	storage   *localfs.LocalFS
	processor *Processor
}

func newHarness(t *testing.T, r renderFunc, d delivery.Deliverer) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := queue.NewMemoryStore(testPolicy, queue.WithClock(clock.Now))
	storage := localfs.New(t.TempDir())
	if d == nil {
		d = delivery.NewPull(storage, "http://api.test", time.Hour)
	}
	return &harness{
		clock:   clock,
		store:   store,
		storage: storage,
		processor: NewProcessor(ProcessorDeps{
			Store:           store,
			Renderer:        r,
			Deliverer:       d,
			RenderTimeout:   time.Second,
			DeliveryTimeout: time.Second,
			Log:             logger.Discard(),
		}),
	}
}

// step claims the next runnable job and processes it.
func (h *harness) step(t *testing.T) (*models.Job, models.State, error) {
	t.Helper()
	job, err := h.store.Claim(context.Background(), "test-worker")
	require.NoError(t, err)
	require.NotNil(t, job, "expected a claimable job")
	state, err := h.processor.Process(context.Background(), job)
	return job, state, err
}

func (h *harness) get(t *testing.T, id string) *models.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}
