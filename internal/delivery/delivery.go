// Package delivery turns a rendered video into the reference stored as a
// job's result: a URL the client can pull, optionally announced by email.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"reel/internal/pkg/errors"
	"reel/internal/pkg/logger"
	"reel/internal/ports"
)

const ContentType = "video/mp4"

// Deliverer stores a video and returns its result reference.
type Deliverer interface {
	Deliver(ctx context.Context, jobID string, video []byte, contact string) (string, error)
}

// ObjectKey is where a job's video is stored. Re-delivering the same job
// overwrites it on providers that address objects by key.
func ObjectKey(jobID string) string {
	return "videos/" + jobID + ".mp4"
}

// Pull uploads the video and returns a link to it.
type Pull struct {
	storage       ports.StorageProvider
	publicBaseURL string
	urlTTL        time.Duration
}

func NewPull(storage ports.StorageProvider, publicBaseURL string, urlTTL time.Duration) *Pull {
	return &Pull{storage: storage, publicBaseURL: publicBaseURL, urlTTL: urlTTL}
}

// Deliver ignores contact.
func (p *Pull) Deliver(ctx context.Context, jobID string, video []byte, contact string) (string, error) {
	out, err := p.storage.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   ObjectKey(jobID),
		ContentType: ContentType,
		Reader:      bytes.NewReader(video),
		Size:        int64(len(video)),
	})
	if err != nil {
		return "", unavailable(err, "delivery.upload", "store video")
	}

	signed, err := p.storage.GetSignedURL(ctx, out.ObjectKey, p.urlTTL)
	if err != nil {
		return "", unavailable(err, "delivery.upload", "sign video url")
	}
	if signed.URL != "" {
		return signed.URL, nil
	}
	return p.publicBaseURL + "/videos/" + out.ObjectKey, nil
}

// Mailer sends a plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Deduper records that a job's notification was sent. Acquire returns false
// when it already was.
type Deduper interface {
	Acquire(ctx context.Context, jobID string) (bool, error)
	Release(ctx context.Context, jobID string) error
}

// Push delivers like Pull, then emails the link to the job's contact once.
type Push struct {
	pull   *Pull
	mailer Mailer
	dedupe Deduper
	log    *logger.Logger
}

func NewPush(pull *Pull, mailer Mailer, dedupe Deduper, log *logger.Logger) *Push {
	return &Push{pull: pull, mailer: mailer, dedupe: dedupe, log: log.WithComponent("delivery")}
}

func (p *Push) Deliver(ctx context.Context, jobID string, video []byte, contact string) (string, error) {
	ref, err := p.pull.Deliver(ctx, jobID, video, contact)
	if err != nil || contact == "" {
		return ref, err
	}

	first, err := p.dedupe.Acquire(ctx, jobID)
	if err != nil {
		return "", unavailable(err, "delivery.notify", "record notification")
	}
	if !first {
		p.log.Info("notification already sent", "job_id", jobID)
		return ref, nil
	}

	if err := p.mailer.Send(ctx, contact, "Your video is ready", notificationBody(ref)); err != nil {
		if rerr := p.dedupe.Release(context.WithoutCancel(ctx), jobID); rerr != nil {
			p.log.LogError(ctx, "release notification marker", rerr, "job_id", jobID)
		}
		return "", unavailable(err, "delivery.notify", "send notification")
	}

	p.log.Info("notification sent", "job_id", jobID)
	return ref, nil
}

func notificationBody(ref string) string {
	return fmt.Sprintf("Your video has finished rendering.\n\nWatch or download it here:\n%s\n", ref)
}

// unavailable marks every delivery failure as retryable.
func unavailable(err error, op, message string) error {
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, message)
}
