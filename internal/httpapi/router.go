package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"reel/internal/httpapi/handlers"
	"reel/internal/pkg/logger"
	"reel/internal/pkg/middleware"
	"reel/internal/ports"
)

type Deps struct {
	Store   ports.JobStore
	Waker   ports.Waker
	Storage ports.StorageProvider
	Log     *logger.Logger

	// RequestTimeout bounds the /jobs handlers. Zero disables it.
	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))

	h := handlers.New(handlers.Deps{
		Store:   d.Store,
		Waker:   d.Waker,
		Storage: d.Storage,
		Log:     log,
	})
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- VIDEOS ----
	r.Get("/videos/*", wrap(h.StreamVideo))
	r.Head("/videos/*", wrap(h.StreamVideo))

	// ---- JOBS ----
	r.Route("/jobs", func(r chi.Router) {
		if d.RequestTimeout > 0 {
			r.Use(middleware.Timeout(d.RequestTimeout))
		}
		r.Post("/", wrap(h.SubmitJob))
		r.Get("/", wrap(h.ListJobs))
		r.Delete("/", wrap(h.PurgeJobs))
		r.Get("/{jobId}", wrap(h.GetJob))
	})

	return r
}
