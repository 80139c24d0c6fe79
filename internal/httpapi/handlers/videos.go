package handlers

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"reel/internal/pkg/errors"
)

// StreamVideo handles GET /videos/*. Seekable objects are served with Range
// support; others are streamed as-is.
func (h *Handler) StreamVideo(w http.ResponseWriter, r *http.Request) error {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" {
		return errors.NotFound("video", "")
	}

	rc, contentType, size, err := h.storage.GetObject(r.Context(), key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path.Base(key), time.Time{}, rs)
		return nil
	}

	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		if _, err := io.Copy(w, rc); err != nil {
			h.log.FromContext(r.Context()).Warn("video stream interrupted", "key", key, "error", err.Error())
		}
	}
	return nil
}
