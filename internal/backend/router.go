package backend

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires the backend's thin REST surface, SSE stream, and video
// WebSocket behind a chi router with browser CORS enabled, matching the
// teacher's chi usage throughout cmd/nvr/main.go.
func NewRouter(handlers *Handlers, sseHub *SSEHub, videoHub *VideoHub, logsHandler *LogsHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", Healthz)
	r.Post("/api/register_provider", handlers.RegisterProvider)
	r.Delete("/api/delete_provider", handlers.DeleteProvider)
	r.Post("/api/suspicion_config", handlers.SuspicionConfig)
	r.Get("/api/sse", sseHub.ServeHTTP)
	r.Get("/ws/video", videoHub.ServeHTTP)
	r.Get("/api/logs", logsHandler.ServeHTTP)

	return r
}
