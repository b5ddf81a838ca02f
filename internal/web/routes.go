package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/album-curator/internal/web/handlers"
)

// requestTimeout bounds every request except the event stream.
const requestTimeout = 5 * time.Minute

func (s *Server) setupRoutes() {
	albums := handlers.NewAlbumsHandler(s.orch)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Long-lived event stream, no request timeout
		r.Get("/albums/{id}/events", albums.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Get("/health", handlers.HealthCheck)
			r.Get("/moods", albums.Moods)

			// Jobs
			r.Post("/albums/{id}/jobs", albums.StartJob)
			r.Get("/albums/{id}/status", albums.Status)
			r.Post("/albums/{id}/preferences", albums.SubmitPreferences)

			// Results
			r.Get("/albums/{id}/reduced-pool", albums.ReducedPool)
			r.Get("/albums/{id}/clusters", albums.Clusters)
			r.Get("/albums/{id}/clusters/{clusterId}/images", albums.ClusterImages)
			r.Get("/albums/{id}/similar", albums.Similar)
			r.Get("/albums/{id}/assets/*", albums.Asset)

			// Tournament
			r.Get("/albums/{id}/tournament", albums.Tournament)
			r.Get("/albums/{id}/tournament/next", albums.NextPair)
			r.Post("/albums/{id}/tournament/matches", albums.SubmitMatch)
			r.Post("/albums/{id}/export", albums.Export)
		})
	})
}
