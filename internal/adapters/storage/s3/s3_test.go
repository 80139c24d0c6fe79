package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reel/internal/pkg/errors"
	"reel/internal/ports"
)

// fakeBucket serves the handful of path-style S3 calls the client makes.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/test-bucket")
	key = strings.TrimPrefix(key, "/")

	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>test-bucket</Name><IsTruncated>false</IsTruncated>`)
		for k, v := range f.objects {
			if strings.HasPrefix(k, prefix) {
				b.WriteString("<Contents><Key>" + k + "</Key><LastModified>2026-01-02T03:04:05.000Z</LastModified><Size>")
				b.WriteString(strconv.Itoa(len(v)))
				b.WriteString("</Size></Contents>")
			}
		}
		b.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(b.String()))
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(data)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newTestClient(t *testing.T, publicURL string) (*Client, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string][]byte{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Options{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PublicURL:       publicURL,
	})
	require.NoError(t, err)
	return c, bucket
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.True(t, errors.IsValidation(err))
}

func TestPutGetListDelete(t *testing.T) {
	ctx := context.Background()
	c, bucket := newTestClient(t, "")

	out, err := c.PutObject(ctx, ports.PutObjectInput{
		ObjectKey: "videos/a.mp4", ContentType: "video/mp4", Reader: bytes.NewReader([]byte("video")), Size: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "videos/a.mp4", out.ObjectKey)
	assert.Equal(t, []byte("video"), bucket.objects["videos/a.mp4"])

	rc, contentType, _, err := c.GetObject(ctx, "videos/a.mp4")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))
	assert.Equal(t, "video/mp4", contentType)

	objs, err := c.ListObjects(ctx, "videos/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "videos/a.mp4", objs[0].Key)
	assert.Equal(t, int64(5), objs[0].Size)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), objs[0].ModTime.UTC())

	require.NoError(t, c.DeleteObject(ctx, "videos/a.mp4"))
	_, _, _, err = c.GetObject(ctx, "videos/a.mp4")
	assert.True(t, errors.IsNotFound(err))
}

func TestSignedURL(t *testing.T) {
	ctx := context.Background()

	c, _ := newTestClient(t, "")
	out, err := c.GetSignedURL(ctx, "videos/a.mp4", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, out.URL, "/test-bucket/videos/a.mp4")
	assert.Contains(t, out.URL, "X-Amz-Signature=")

	public, _ := newTestClient(t, "https://cdn.example.com")
	out, err = public.GetSignedURL(ctx, "videos/a.mp4", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/videos/a.mp4", out.URL)
}
