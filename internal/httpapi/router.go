package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(h.RequireAuth)
		v1.Get("/models", h.ListModels)

		v1.Route("/research", func(rr chi.Router) {
			rr.Post("/", h.StartResearch)
			rr.Get("/", h.ListResearch)
			rr.Route("/{runID}", func(run chi.Router) {
				run.Get("/", h.GetResearch)
				run.Get("/events", h.ResearchEvents)
				run.Post("/respond", h.RespondResearch)
				run.Post("/stop", h.StopResearch)
				run.Get("/report", h.ResearchReport)
			})
		})
	})

	return r
}
