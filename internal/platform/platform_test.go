package platform

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reel/internal/config"
	"reel/internal/delivery"
	"reel/internal/pkg/logger"
	"reel/internal/ports"
	"reel/internal/queue"
)

func memoryConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{PublicBaseURL: "http://api.test"},
		Queue: config.QueueConfig{
			Backend:        "memory",
			MaxAttempts:    4,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  time.Minute,
		},
		Worker: config.WorkerConfig{
			Concurrency:     2,
			PollInterval:    time.Second,
			RenderTimeout:   10 * time.Minute,
			DeliveryTimeout: 2 * time.Minute,
			LeaseGrace:      time.Minute,
		},
		Storage:  config.StorageConfig{Provider: "localfs", LocalRoot: t.TempDir()},
		Delivery: config.DeliveryConfig{Mode: "pull"},
		Sweep:    config.SweepConfig{AssetTTL: time.Hour, JobRetention: 24 * time.Hour},
	}
}

func TestOpenMemoryBackend(t *testing.T) {
	cfg := memoryConfig(t)
	p, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer p.Close()

	assert.IsType(t, &queue.MemoryStore{}, p.Store)
	assert.IsType(t, &queue.MemoryWaker{}, p.Waker)
	assert.Equal(t, "localfs", p.Storage.Provider())
	assert.Nil(t, p.DB)
	assert.Nil(t, p.Redis)

	assert.IsType(t, &delivery.Pull{}, p.Deliverer())
	assert.NotNil(t, p.Pool(logger.Discard()))
	assert.NotNil(t, p.Sweeper(logger.Discard()))

	p.Close()
}

func TestPushModeUsesMemoryDedupeWithoutRedis(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Delivery.Mode = "push"
	cfg.SMTP = config.SMTPConfig{Host: "smtp.test", Port: 587, From: "reel@example.com"}

	p, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer p.Close()

	assert.IsType(t, &delivery.Push{}, p.Deliverer())
}

func TestPolicyFromConfig(t *testing.T) {
	pol := Policy(memoryConfig(t))
	assert.Equal(t, 4, pol.MaxAttempts)
	assert.Equal(t, 13*time.Minute, pol.Lease)
}

func TestOpenRejectsBadStorage(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.Provider = "ftp"
	_, err := Open(context.Background(), cfg, logger.Discard())
	require.Error(t, err)
}

func TestRunWorkersSweepsAssets(t *testing.T) {
	cfg := memoryConfig(t)
	p, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Storage.PutObject(context.Background(), ports.PutObjectInput{ObjectKey: "videos/old.mp4", Reader: bytes.NewReader([]byte("v"))})
	require.NoError(t, err)
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(cfg.Storage.LocalRoot, "videos", "old.mp4"), stale, stale))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.RunWorkers(ctx, logger.Discard()) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		objs, err := p.Storage.ListObjects(context.Background(), "videos/")
		require.NoError(t, err)
		if len(objs) == 0 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("stale asset was not swept")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunWorkers did not return after cancel")
	}
}
