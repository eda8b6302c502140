package server

import (
	"github.com/ashureev/planforge/internal/auth"
	"github.com/ashureev/planforge/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the full HTTP surface: public health and document
// routes, then the bearer-token plan API and the session WebSocket.
func NewRouter(h *Handler, wsh *WSHandler, authn *auth.Authenticator, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))

	h.RegisterPublicRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)
		h.RegisterRoutes(r)
		r.Get("/api/plan/ws/generate", wsh.ServeHTTP)
	})

	return r
}
