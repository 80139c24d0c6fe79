package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"reel/internal/httpkit"
	"reel/internal/models"
	"reel/internal/pkg/errors"
)

type SubmitJobRequest struct {
	Prompt  string `json:"prompt" validate:"required,max=4000"`
	Contact string `json:"contact,omitempty" validate:"omitempty,email"`
}

type SubmitJobResponse struct {
	JobID     string       `json:"jobId"`
	State     models.State `json:"state"`
	StatusURL string       `json:"statusUrl"`
}

type JobResponse struct {
	JobID         string       `json:"jobId"`
	State         models.State `json:"state"`
	Attempts      int          `json:"attempts"`
	Result        string       `json:"result,omitempty"`
	FailureReason string       `json:"failureReason,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	FinishedAt    *time.Time   `json:"finishedAt,omitempty"`
}

func toJobResponse(j *models.Job) JobResponse {
	return JobResponse{
		JobID:         j.ID,
		State:         j.State,
		Attempts:      j.Attempts,
		Result:        j.Result,
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		FinishedAt:    j.FinishedAt,
	}
}

// SubmitJob handles POST /jobs. It only enqueues; rendering happens in the
// worker.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	var req SubmitJobRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "api.submit", "invalid json body")
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Contact = strings.TrimSpace(req.Contact)

	if err := h.validate.Struct(&req); err != nil {
		return validationError(err)
	}

	job, err := h.store.Enqueue(ctx, models.Payload{Prompt: req.Prompt, Contact: req.Contact})
	if err != nil {
		return err
	}

	if err := h.waker.Notify(ctx, job.ID); err != nil {
		h.log.FromContext(ctx).Warn("wake-up notification failed; job waits for the next poll",
			"job_id", job.ID,
			"error", err.Error(),
		)
	}
	h.log.FromContext(ctx).Info("job submitted", "job_id", job.ID)

	httpkit.WriteJSON(w, http.StatusAccepted, SubmitJobResponse{
		JobID:     job.ID,
		State:     job.State,
		StatusURL: "/jobs/" + job.ID,
	})
	return nil
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) error {
	job, err := h.store.Get(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, toJobResponse(job))
	return nil
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) error {
	var f models.ListFilter

	if s := strings.TrimSpace(r.URL.Query().Get("state")); s != "" {
		st, err := models.ParseState(s)
		if err != nil {
			return errors.ValidationField("state", err.Error())
		}
		f.State = st
	}
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return errors.ValidationField("limit", "limit must be a positive integer")
		}
		f.Limit = n
	}

	jobs, err := h.store.List(r.Context(), f.Normalize())
	if err != nil {
		return err
	}

	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": out})
	return nil
}

// PurgeJobs handles DELETE /jobs: queued and active jobs are removed.
// Workers holding a purged job lose their lease and drop the result.
func (h *Handler) PurgeJobs(w http.ResponseWriter, r *http.Request) error {
	n, err := h.store.Purge(r.Context())
	if err != nil {
		return err
	}
	h.log.FromContext(r.Context()).Warn("pending jobs purged", "count", n)
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"purged": n})
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WrapWithCode(err, errors.CodeValidation, "api.submit", "invalid request")
	}

	first := verrs[0]
	field := strings.ToLower(first.Field())
	msg := field + " is invalid"
	switch first.Tag() {
	case "required":
		msg = field + " is required"
	case "email":
		msg = field + " must be an email address"
	case "max":
		msg = field + " is too long"
	}

	e := errors.ValidationField(field, msg)
	for _, fe := range verrs {
		e = e.WithField(strings.ToLower(fe.Field()), fe.Tag())
	}
	return e
}
