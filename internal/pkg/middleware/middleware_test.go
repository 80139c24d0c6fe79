package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reel/internal/pkg/errors"
	"reel/internal/pkg/logger"
)

func bufferLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Config{Level: "debug", Format: "json", Output: buf})
}

type envelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not a JSON envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logger.RequestIDKey).(string)
	}))

	t.Run("generates new request ID", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs", nil))

		reqID := rec.Header().Get(RequestIDHeader)
		if len(reqID) != 32 {
			t.Errorf("expected request ID length 32, got %d", len(reqID))
		}
		if seen != reqID {
			t.Errorf("context request ID %q differs from header %q", seen, reqID)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/jobs", nil)
		req.Header.Set(RequestIDHeader, "existing-id-123")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "existing-id-123" {
			t.Errorf("expected preserved request ID, got %s", got)
		}
	})

	t.Run("replaces oversized request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/jobs", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); len(got) != 32 {
			t.Errorf("expected a generated request ID, got %q", got)
		}
	})
}

func TestLoggingLevels(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		expectedLevel string
	}{
		{"2xx logs info", 202, "INFO"},
		{"4xx logs warn", 404, "WARN"},
		{"5xx logs error", 503, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			handler := Logging(bufferLogger(&logBuf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte("ok"))
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/jobs", nil))

			var completed map[string]any
			for _, line := range strings.Split(strings.TrimSpace(logBuf.String()), "\n") {
				var entry map[string]any
				if json.Unmarshal([]byte(line), &entry) == nil && entry["msg"] == "request completed" {
					completed = entry
				}
			}
			if completed == nil {
				t.Fatalf("no completion record in: %s", logBuf.String())
			}
			if completed["level"] != tt.expectedLevel {
				t.Errorf("expected level %s, got %v", tt.expectedLevel, completed["level"])
			}
			if completed["status"] != float64(tt.statusCode) {
				t.Errorf("expected status %d, got %v", tt.statusCode, completed["status"])
			}
			if completed["size"] != float64(2) {
				t.Errorf("expected size 2, got %v", completed["size"])
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var logBuf bytes.Buffer
	handler := Recovery(bufferLogger(&logBuf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/1", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error.Code != string(errors.CodeInternal) {
		t.Errorf("expected INTERNAL_ERROR, got %s", env.Error.Code)
	}
	if !strings.Contains(logBuf.String(), "panic recovered") {
		t.Errorf("expected panic to be logged, got: %s", logBuf.String())
	}
}

func TestTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := Timeout(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
		<-r.Context().Done()
		if r.Context().Err() != context.DeadlineExceeded {
			t.Errorf("expected deadline exceeded, got %v", r.Context().Err())
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs", nil))

	if !ok || deadline.IsZero() {
		t.Fatal("expected a deadline on the request context")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("handler response should pass through, got %d", rec.Code)
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError)
	_, _ = rw.Write([]byte("hello"))

	if rw.status != http.StatusAccepted {
		t.Errorf("first WriteHeader should win, got %d", rw.status)
	}
	if rw.size != 5 {
		t.Errorf("expected size 5, got %d", rw.size)
	}
	if rw.Unwrap() != rec {
		t.Error("Unwrap should return the underlying writer")
	}
}

func TestWrapHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"success", nil, http.StatusOK, "", ""},
		{"not found", errors.NotFound("job", "abc"), http.StatusNotFound, "NOT_FOUND", "job not found: abc"},
		{"validation", errors.ValidationField("prompt", "prompt is required"), http.StatusBadRequest, "VALIDATION_ERROR", "prompt is required"},
		{"unavailable", errors.Wrap(errors.Unavailable("postgres"), "queue.get", "load job"), http.StatusServiceUnavailable, "UNAVAILABLE", "load job"},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			handler := WrapHandler(bufferLogger(&logBuf), func(w http.ResponseWriter, r *http.Request) error {
				if tt.err != nil {
					return tt.err
				}
				w.WriteHeader(http.StatusOK)
				return nil
			})

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/abc", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.err == nil {
				return
			}
			env := decodeEnvelope(t, rec)
			if env.Error.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, env.Error.Code)
			}
			if env.Error.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, env.Error.Message)
			}
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, errors.CodeValidation, `prompt "x" is "bad"`+"\n", map[string]any{"field": "prompt", "max": 4000})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	env := decodeEnvelope(t, rec)
	if env.Error.Message != `prompt "x" is "bad"`+"\n" {
		t.Errorf("message not round-tripped: %q", env.Error.Message)
	}
	if env.Error.Details["field"] != "prompt" || env.Error.Details["max"] != float64(4000) {
		t.Errorf("unexpected details: %v", env.Error.Details)
	}
}

func TestGenerateRequestID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateRequestID()
		if ids[id] {
			t.Fatalf("duplicate request ID %s", id)
		}
		ids[id] = true
	}
}
