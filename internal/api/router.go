package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hackgods/dental-clinic-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service      appointment.Scheduler
	Location     *time.Location
	Dependencies []Dependency
	Logger       *zap.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := cfg.Service

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger.Named("http")))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(svc, loc))
		r.Get("/", listAppointmentsHandler(svc, loc))
		r.Get("/doctor/{doctorID}", doctorAppointmentsHandler(svc, loc))
		r.Get("/patient/{patientID}", patientAppointmentsHandler(svc, loc))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getAppointmentHandler(svc, loc))
			r.Put("/", rescheduleAppointmentHandler(svc, loc))
			r.Delete("/", deleteAppointmentHandler(svc))
			r.Put("/confirm", transitionHandler(svc, loc, confirmAction))
			r.Put("/begin", transitionHandler(svc, loc, beginAction))
			r.Put("/complete", transitionHandler(svc, loc, completeAction))
			r.Put("/cancel", transitionHandler(svc, loc, cancelAction))
		})
	})

	r.Get("/doctors/{id}/availability", availabilityHandler(svc, loc))

	return r
}
