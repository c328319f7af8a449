package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the REST API, the websocket endpoint, health and metrics.
func NewRouter(h *Handler, ws *WSHandler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-User-Name"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(h.identify)

		r.Get("/ws", ws.ServeWS)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/start", h.StartSession)
			r.Post("/heartbeat", h.HeartbeatSession)
			r.Post("/end", h.EndSession)
		})

		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", h.CreateRoom)
			r.Get("/code/{code}", h.GetRoomByCode)
			r.Get("/{id}", h.GetRoom)
			r.Patch("/{id}", h.UpdateRoom)
			r.Delete("/{id}", h.DeleteRoom)
			r.Get("/{id}/leaderboard", h.GetLeaderboard)
		})

		r.Route("/quizzes", func(r chi.Router) {
			r.Get("/{id}", h.GetQuiz)
			r.Put("/{id}", h.UpdateQuiz)
		})

		r.Get("/results/{roomId}", h.GetResult)
	})

	return r
}
