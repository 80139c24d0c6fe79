package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"reel/internal/delivery"
	"reel/internal/models"
	"reel/internal/pkg/errors"
	"reel/internal/pkg/logger"
	"reel/internal/ports"
	"reel/internal/worker/renderer"
)

const defaultStoreTimeout = 30 * time.Second

type ProcessorDeps struct {
	Store           ports.JobStore
	Renderer        renderer.Client
	Deliverer       delivery.Deliverer
	RenderTimeout   time.Duration
	DeliveryTimeout time.Duration
	// StoreTimeout bounds Complete and Fail. Zero means 30s.
	StoreTimeout time.Duration
	Log          *logger.Logger
}

// Processor runs a single claimed job: render, deliver, record the outcome.
type Processor struct {
	store           ports.JobStore
	renderer        renderer.Client
	deliverer       delivery.Deliverer
	renderTimeout   time.Duration
	deliveryTimeout time.Duration
	storeTimeout    time.Duration
	log             *logger.Logger
}

func NewProcessor(d ProcessorDeps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	storeTimeout := d.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Processor{
		store:           d.Store,
		renderer:        d.Renderer,
		deliverer:       d.Deliverer,
		renderTimeout:   d.RenderTimeout,
		deliveryTimeout: d.DeliveryTimeout,
		storeTimeout:    storeTimeout,
		log:             log.WithComponent("processor"),
	}
}

// Process returns the state the job was left in. An error means the outcome
// could not be recorded, usually because the lease was lost.
func (p *Processor) Process(ctx context.Context, job *models.Job) (state models.State, err error) {
	log := p.log.FromContext(ctx).WithJobID(job.ID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			state, err = p.fail(ctx, log, job, "", errors.New(errors.CodeInternal, "internal error"), true)
		}
	}()

	log.Info("processing job", "attempt", job.Attempts, "max_attempts", job.MaxAttempts)

	result, stage, runErr := p.run(ctx, job)
	if runErr != nil {
		return p.fail(ctx, log, job, stage, runErr, errors.IsRetryable(runErr))
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	if err := p.store.Complete(storeCtx, job.ID, job.LeaseToken, result); err != nil {
		log.LogError(ctx, "record completion", err)
		return "", err
	}
	log.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
	return models.StateCompleted, nil
}

// run returns the result reference, or the failing stage and its error.
func (p *Processor) run(ctx context.Context, job *models.Job) (result, stage string, err error) {
	prompt := strings.TrimSpace(job.Payload.Prompt)
	if prompt == "" {
		return "", "", errors.ValidationField("prompt", "prompt is required")
	}

	renderCtx, cancel := context.WithTimeout(ctx, p.renderTimeout)
	video, err := p.renderer.Render(renderCtx, prompt)
	cancel()
	if err != nil {
		return "", "render failed", err
	}

	deliverCtx, cancel := context.WithTimeout(ctx, p.deliveryTimeout)
	defer cancel()
	ref, err := p.deliverer.Deliver(deliverCtx, job.ID, video, job.Payload.Contact)
	if err != nil {
		return "", "delivery failed", err
	}
	return ref, "", nil
}

func (p *Processor) fail(ctx context.Context, log *logger.Logger, job *models.Job, stage string, cause error, retryable bool) (models.State, error) {
	reason := failureReason(cause)
	if stage != "" {
		reason = stage + ": " + reason
	}
	reason = models.TruncateUTF8(reason, models.MaxReasonLen)

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	state, err := p.store.Fail(storeCtx, job.ID, job.LeaseToken, reason, retryable)
	if err != nil {
		log.LogError(ctx, "record failure", err, "reason", reason)
		return "", err
	}

	args := []any{"code", string(errors.GetCode(cause)), "reason", reason, "attempt", job.Attempts, "retryable", retryable}
	if state == models.StateQueued {
		log.Warn("job failed, requeued", args...)
	} else {
		log.Error("job failed", args...)
	}
	return state, nil
}

// failureReason joins the messages along the error chain, without the op
// and code decoration of Error().
func failureReason(err error) string {
	var parts []string
	for err != nil {
		var e *errors.Error
		if !errors.As(err, &e) {
			parts = append(parts, err.Error())
			break
		}
		if e.Message != "" {
			parts = append(parts, e.Message)
		}
		err = e.Err
	}

	return strings.Join(parts, ": ")
}
