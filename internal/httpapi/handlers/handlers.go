package handlers

import (
	"github.com/go-playground/validator/v10"

	"reel/internal/pkg/logger"
	"reel/internal/ports"
)

type Deps struct {
	Store   ports.JobStore
	Waker   ports.Waker
	Storage ports.StorageProvider
	Log     *logger.Logger
}

type Handler struct {
	store    ports.JobStore
	waker    ports.Waker
	storage  ports.StorageProvider
	log      *logger.Logger
	validate *validator.Validate
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		store:    d.Store,
		waker:    d.Waker,
		storage:  d.Storage,
		log:      log.WithComponent("api"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}
