// Package httpapi exposes the chat REST API and mounts the realtime gateway.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps wires the router.
type Deps struct {
	Accounts AccountService
	Chat     ChatService
	DB       Pinger
	Gateway  http.Handler // served at /ws; nil leaves the route out
	Log      *zap.Logger

	AllowedOrigins []string
	// AuthRateLimit is requests per minute per IP on /api/auth; 0 disables it.
	AuthRateLimit int
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	h := &handlers{acc: d.Accounts, chat: d.Chat, db: d.DB, log: d.Log}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(d.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", promhttp.Handler())
	if d.Gateway != nil {
		r.Handle("/ws", d.Gateway)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			if d.AuthRateLimit > 0 {
				r.Use(httprate.Limit(d.AuthRateLimit, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
						writeMessage(w, http.StatusTooManyRequests, "Too many requests")
					}),
				))
			}
			r.Post("/register", h.register)
			r.Post("/login", h.login)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(d.Accounts, d.Log))
			r.Get("/me", h.me)
			r.Get("/users", h.users)
			r.Get("/messages", h.broadcasts)
			r.Post("/messages", h.send)
			r.Get("/conversations/{otherUserId}", h.conversation)
		})
	})

	return r
}
