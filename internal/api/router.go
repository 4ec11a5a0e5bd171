// Package api exposes the chat service over REST with chi.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/chat"
	"github.com/whisper/polyglot/internal/metrics"
)

// Version is reported by GET /.
const Version = "1.0.0"

// Stats reports live transport numbers for /health. ws.Server implements it.
type Stats interface {
	ConnectionCount() int
	Uptime() time.Duration
}

// Deps holds everything the router needs. Stats and WebSocket are optional.
type Deps struct {
	Service   *chat.Service
	Stats     Stats
	WebSocket http.Handler // mounted at /ws when set
	Logger    *logrus.Logger
}

// NewRouter builds the HTTP handler for the REST surface, /health,
// /metrics and the WebSocket upgrade route.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	h := &handler{svc: d.Service, stats: d.Stats, log: d.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.root)
	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if d.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", d.WebSocket)
	}

	r.Route("/chat", func(r chi.Router) {
		r.Post("/conversations", h.createConversation)
		r.Get("/conversations/{id}", h.getConversation)
		r.Get("/conversations/user/{user_id}", h.listConversations)

		r.Post("/messages", h.sendMessage)
		r.Get("/messages/{conversation_id}", h.listMessages)

		r.Post("/translate", h.translate)
		r.Get("/languages", h.languages)
		r.Put("/users/{user_id}/language", h.setLanguage)
		r.Get("/users/{user_id}/language", h.getLanguage)
	})
	return r
}

// requestLogger logs one line per request at Debug, or Warn for 5xx.
func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start),
				"request_id": middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("api: request failed")
				return
			}
			entry.Debug("api: request")
		})
	}
}
