package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	authHandler "github.com/zhouzirui/c3-chat/backend/internal/handler/auth"
	"github.com/zhouzirui/c3-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/handler/socket"
	"github.com/zhouzirui/c3-chat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/c3-chat/backend/internal/middleware"
	authService "github.com/zhouzirui/c3-chat/backend/internal/service/auth"
	"github.com/zhouzirui/c3-chat/backend/internal/service/session"
	"github.com/zhouzirui/c3-chat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(authSvc *authService.Service, sessions *session.Manager, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		auth := authHandler.New(authSvc, logger)
		auth.RegisterRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.Auth(authSvc.Authenticate))

			auth.RegisterProtectedRoutes(protected)
			chat.New(sessions, logger).RegisterRoutes(protected)
			stream.New(sessions, logger).RegisterRoutes(protected)
			socket.New(sessions, logger).RegisterRoutes(protected)
		})
	})

	return r
}
