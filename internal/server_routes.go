package internal

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router mounts every HTTP endpoint. The websocket endpoint lives at wsPath.
func (s *Server) Router(wsPath string) http.Handler {
	if wsPath == "" {
		wsPath = "/ws"
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.HandleHealth)
	r.Method(http.MethodGet, "/metrics", s.MetricsHandler())
	r.Get(wsPath, s.ServeWS)

	r.Post("/signup", s.HandleSignup)
	r.Post("/login", s.HandleLogin)
	r.Post("/logout", s.HandleLogout)

	r.Route("/groups", func(r chi.Router) {
		r.Get("/", s.HandleListGroups)
		r.Post("/", s.HandleCreateGroup)
		r.Get("/{id}/live", s.HandleGroupLive)
		r.Get("/{id}/members", s.HandleListMembers)
		r.Post("/{id}/members", s.HandleAddMember)
		r.Delete("/{id}/members/{uid}", s.HandleRemoveMember)
	})
	r.Get("/users/{id}/online", s.HandleUserOnline)
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
