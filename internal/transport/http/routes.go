package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phuslu/log"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "catalog-import-service/internal/docs"
)

func Routes(h *Handler, logger *log.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/importers/{name}/jobs", h.SubmitImport)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/{id}", h.GetJob)
		r.Post("/{id}/cancel", h.CancelJob)
		r.Get("/{id}/logs", h.JobLogs)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
