// Package renderer calls the external text-to-video inference endpoint.
package renderer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	v1 "reel/internal/contracts/renderer/v1"
	"reel/internal/models"
	"reel/internal/pkg/errors"
)

// MaxVideoBytes caps a single rendered video held in memory.
const MaxVideoBytes = 512 << 20

// Client renders a prompt and returns the raw video bytes.
type Client interface {
	Render(ctx context.Context, prompt string) ([]byte, error)
}

type Options struct {
	BaseURL    string
	Path       string
	APIKey     string
	RatePerMin int // 0 disables client-side limiting

	Width             int
	Height            int
	Duration          float64
	NumInferenceSteps int
	CFGScale          float64
	Seed              int64

	// MaxBytes defaults to MaxVideoBytes.
	MaxBytes int64
	// HTTPClient defaults to a client without a global timeout; each call
	// is bounded by its context instead.
	HTTPClient *http.Client
}

type HTTPClient struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(opts Options) *HTTPClient {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = MaxVideoBytes
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMin)), 1)
	}

	return &HTTPClient{opts: opts, client: client, limiter: limiter}
}

// Render posts the prompt and resolves the response into video bytes.
func (c *HTTPClient) Render(ctx context.Context, prompt string) ([]byte, error) {
	res, err := c.post(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return c.resolve(ctx, res)
}

func (c *HTTPClient) post(ctx context.Context, prompt string) (*v1.RenderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(ctx, err, "renderer.render", "wait for rate limiter")
	}

	body, err := json.Marshal(v1.RenderRequest{
		Prompt:            prompt,
		Width:             c.opts.Width,
		Height:            c.opts.Height,
		Duration:          c.opts.Duration,
		NumInferenceSteps: c.opts.NumInferenceSteps,
		CFGScale:          c.opts.CFGScale,
		Seed:              c.opts.Seed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "renderer.render", "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+c.opts.Path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "renderer.render", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err, "renderer.render", "request failed")
	}
	defer resp.Body.Close()

	if err := statusError(resp, "renderer.render", "renderer"); err != nil {
		return nil, err
	}

	var out v1.RenderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2*c.opts.MaxBytes)).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, transportError(ctx, err, "renderer.render", "read response")
		}
		return nil, errors.UpstreamRejected("renderer", "renderer returned a malformed response: "+err.Error())
	}
	if !out.HasOutput() {
		return nil, errors.UpstreamRejected("renderer", "renderer response has neither video_url nor video")
	}
	return &out, nil
}

func (c *HTTPClient) resolve(ctx context.Context, res *v1.RenderResponse) ([]byte, error) {
	if res.Video != "" {
		return decodeBase64(res.Video)
	}
	if strings.HasPrefix(res.VideoURL, "data:") {
		return decodeDataURI(res.VideoURL)
	}

	u, err := url.Parse(res.VideoURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.UpstreamRejected("renderer", fmt.Sprintf("renderer returned an unusable video_url %q", res.VideoURL))
	}
	return c.download(ctx, u.String())
}

func (c *HTTPClient) download(ctx context.Context, videoURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "renderer.download", "build request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err, "renderer.download", "download failed")
	}
	defer resp.Body.Close()

	if err := statusError(resp, "renderer.download", "video host"); err != nil {
		return nil, err
	}
	if resp.ContentLength > c.opts.MaxBytes {
		return nil, tooLarge(c.opts.MaxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBytes+1))
	if err != nil {
		return nil, transportError(ctx, err, "renderer.download", "read video")
	}
	if int64(len(data)) > c.opts.MaxBytes {
		return nil, tooLarge(c.opts.MaxBytes)
	}
	if len(data) == 0 {
		return nil, errors.UpstreamRejected("renderer", "downloaded video is empty")
	}
	return data, nil
}

// transportError classifies failures below HTTP: deadlines are timeouts,
// everything else is the backend being unreachable.
func transportError(ctx context.Context, err error, op, message string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.WrapWithCode(err, errors.CodeTimeout, op, message)
	}
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, message)
}

const maxErrorBody = 512

// statusError maps non-2xx responses. 429 and 5xx are transient, any other
// status means the request itself was refused.
func statusError(resp *http.Response, op, service string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read a few bytes past the limit so the cut can land on a rune boundary.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+utf8.UTFMax))
	msg := fmt.Sprintf("%s returned %d", service, resp.StatusCode)
	if s := strings.TrimSpace(models.TruncateUTF8(string(snippet), maxErrorBody)); s != "" {
		msg += ": " + s
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &errors.Error{Code: errors.CodeResourceExhaust, Op: op, Message: msg}
	case resp.StatusCode >= 500:
		return &errors.Error{Code: errors.CodeUnavailable, Op: op, Message: msg}
	default:
		return errors.UpstreamRejected(service, msg)
	}
}

func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.UpstreamRejected("renderer", "renderer returned invalid base64 video: "+err.Error())
	}
	if len(data) == 0 {
		return nil, errors.UpstreamRejected("renderer", "renderer returned an empty video")
	}
	return data, nil
}

func decodeDataURI(uri string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errors.UpstreamRejected("renderer", "renderer returned a malformed data URI")
	}
	if strings.HasSuffix(meta, ";base64") {
		return decodeBase64(payload)
	}
	s, err := url.PathUnescape(payload)
	if err != nil || s == "" {
		return nil, errors.UpstreamRejected("renderer", "renderer returned a malformed data URI")
	}
	return []byte(s), nil
}

func tooLarge(limit int64) error {
	return errors.UpstreamRejected("renderer", fmt.Sprintf("video exceeds %d MiB", limit>>20))
}
