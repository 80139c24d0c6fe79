package delivery

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reel/internal/adapters/storage/localfs"
	"reel/internal/config"
	"reel/internal/pkg/errors"
	"reel/internal/pkg/logger"
	"reel/internal/ports"
)

type sentMail struct{ to, subject, body string }

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

// signingStorage wraps localfs and hands out a fixed URL.
type signingStorage struct {
	ports.StorageProvider
	url string
	err error
}

func (s signingStorage) GetSignedURL(ctx context.Context, key string, ttl time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{URL: s.url + key}, nil
}

func (s signingStorage) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if s.err != nil {
		return ports.PutObjectOutput{}, s.err
	}
	return s.StorageProvider.PutObject(ctx, in)
}

func TestPullFallsBackToAPIRoute(t *testing.T) {
	ctx := context.Background()
	store := localfs.New(t.TempDir())
	pull := NewPull(store, "http://api.test", time.Hour)

	ref, err := pull.Deliver(ctx, "job-1", []byte("video"), "ignored@example.com")
	require.NoError(t, err)
	assert.Equal(t, "http://api.test/videos/videos/job-1.mp4", ref)

	rc, contentType, _, err := store.GetObject(ctx, ObjectKey("job-1"))
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "video", string(data))
	assert.Equal(t, "video/mp4", contentType)
}

func TestPullUsesSignedURL(t *testing.T) {
	store := signingStorage{StorageProvider: localfs.New(t.TempDir()), url: "https://cdn.test/"}
	ref, err := NewPull(store, "http://api.test", time.Hour).Deliver(context.Background(), "job-1", []byte("v"), "")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/videos/job-1.mp4", ref)
}

func TestStorageFailureIsRetryable(t *testing.T) {
	store := signingStorage{StorageProvider: localfs.New(t.TempDir()), err: errors.New(errors.CodeInternal, "disk full")}
	_, err := NewPull(store, "http://api.test", time.Hour).Deliver(context.Background(), "job-1", []byte("v"), "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnavailable, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
}

func newPush(t *testing.T, mailer Mailer) *Push {
	t.Helper()
	pull := NewPull(localfs.New(t.TempDir()), "http://api.test", time.Hour)
	return NewPush(pull, mailer, NewMemoryDeduper(), logger.Discard())
}

func TestPushNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	mailer := &fakeMailer{}
	push := newPush(t, mailer)

	for i := 0; i < 3; i++ {
		ref, err := push.Deliver(ctx, "job-1", []byte("video"), "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, "http://api.test/videos/videos/job-1.mp4", ref)
	}

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "user@example.com", mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].body, "http://api.test/videos/videos/job-1.mp4")
}

func TestPushWithoutContactSendsNothing(t *testing.T) {
	mailer := &fakeMailer{}
	_, err := newPush(t, mailer).Deliver(context.Background(), "job-1", []byte("video"), "")
	require.NoError(t, err)
	assert.Empty(t, mailer.sent)
}

func TestPushSendFailureReleasesMarker(t *testing.T) {
	ctx := context.Background()
	mailer := &fakeMailer{err: errors.New(errors.CodeUnavailable, "smtp down")}
	push := newPush(t, mailer)

	_, err := push.Deliver(ctx, "job-1", []byte("video"), "user@example.com")
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))

	mailer.err = nil
	_, err = push.Deliver(ctx, "job-1", []byte("video"), "user@example.com")
	require.NoError(t, err)
	assert.Len(t, mailer.sent, 1)
}

func TestSMTPMailerRejectsBadSender(t *testing.T) {
	m := NewSMTPMailer(config.SMTPConfig{Host: "localhost", Port: 587, From: ""})
	err := m.Send(context.Background(), "user@example.com", "s", "b")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
