package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-resolver/internal/web/handlers"
	"github.com/kozaktomas/face-resolver/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	statsHandler := handlers.NewStatsHandler(s.store)
	facesHandler := handlers.NewFacesHandler(s.store, statsHandler)
	personsHandler := handlers.NewPersonsHandler(s.store, statsHandler)
	clustersHandler := handlers.NewClustersHandler(s.store)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/stats", statsHandler.Get)

		// Faces
		r.Get("/faces", facesHandler.List)
		r.Get("/faces/{id}", facesHandler.Get)

		// Persons
		r.Get("/persons", personsHandler.List)

		// Clusters and runs
		r.Get("/clusters", clustersHandler.List)
		r.Get("/runs", clustersHandler.Runs)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(s.config.APIToken))

			r.Post("/faces/{id}/confirm", facesHandler.Confirm)
			r.Post("/persons", personsHandler.Create)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}` + "\n"))
	})
}
