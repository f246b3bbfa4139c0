package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/doubtfire-lms/doubtfire-go/internal/config"
	"github.com/doubtfire-lms/doubtfire-go/internal/portfolio"
	"github.com/doubtfire-lms/doubtfire-go/internal/project"
	"github.com/doubtfire-lms/doubtfire-go/internal/pushnotification"
	"github.com/doubtfire-lms/doubtfire-go/internal/task"
	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
	"github.com/doubtfire-lms/doubtfire-go/pkg/clog"
)

type Server struct {
	server                 *http.Server
	env                    *config.Env
	taskServer             *task.Server
	projectServer          *project.Server
	portfolioServer        *portfolio.Server
	pushNotificationServer *pushnotification.Server
}

func NewServer(
	env *config.Env,
	taskServer *task.Server,
	projectServer *project.Server,
	portfolioServer *portfolio.Server,
	pushNotificationServer *pushnotification.Server,
) *Server {
	return &Server{
		env:                    env,
		taskServer:             taskServer,
		projectServer:          projectServer,
		portfolioServer:        portfolioServer,
		pushNotificationServer: pushNotificationServer,
	}
}

// ListenAndServe starts the HTTP server. The provided context is used as the
// base context for all incoming requests via http.Server.BaseContext, so
// cancelling it on shutdown also cancels in-flight request contexts.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
		)
		s.taskServer.RegisterRoutes(r)
		s.projectServer.RegisterRoutes(r)
		s.portfolioServer.RegisterRoutes(r)
		s.pushNotificationServer.RegisterRoutes(r)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
	})
	// PDF downloads bypass the JSON response middleware.
	r.Route("/files", func(r chi.Router) {
		r.Use(clog.SlogChiMiddleware())
		s.portfolioServer.RegisterFileRoutes(r)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: h2c.NewHandler(cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(r), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
