// Package server wires handlers, middleware and routes into the JSON API and
// runs it with graceful shutdown.
//
// DEPENDENCY INJECTION FLOW:
// cmd/server creates:
//   config → backend.Selection (repository) → auth services → Server
//   Server.New() creates: session.Resolver, services → handlers → routes
//
// All dependencies are assembled here (the "composition root"), so handlers
// never see the repository and services never see HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/nearby/internal/auth"
	"github.com/sakif/nearby/internal/backend"
	"github.com/sakif/nearby/internal/config"
	"github.com/sakif/nearby/internal/handler"
	"github.com/sakif/nearby/internal/middleware"
	"github.com/sakif/nearby/internal/service"
	"github.com/sakif/nearby/internal/session"
)

// ShutdownTimeout bounds how long in-flight requests may run after a
// shutdown has been requested.
const ShutdownTimeout = 30 * time.Second

// Server represents the HTTP API and all its dependencies.
//
// The Server owns the repository in selection: Run closes it on the way out.
type Server struct {
	router    *chi.Mux
	config    config.Config
	logger    *slog.Logger
	selection *backend.Selection
	sessions  *session.Resolver
}

// New assembles the API on top of an already opened backend.
func New(cfg config.Config, selection *backend.Selection, passwords *auth.PasswordService, tokens *auth.TokenService, logger *slog.Logger) *Server {
	repo := selection.Repo

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		selection: selection,
		sessions:  session.NewResolver(repo, passwords, tokens, cfg.Session.TTL, logger),
	}

	accounts := service.NewAccountService(repo, passwords, logger)
	feed := service.NewFeedService(repo, logger)
	messages := service.NewMessageService(repo, logger)

	s.setupRoutes(
		handler.NewAccountHandler(accounts, s.sessions, logger, cfg.Session.SecureCookie),
		handler.NewFeedHandler(feed, messages, logger),
		handler.NewHealthHandler(selection, s.sessions),
	)
	return s
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTES:
// GET    /healthz                    → backend in use, degraded flag
// POST   /api/register               → create account
// POST   /api/login                  → start session (sets cookie)
// POST   /api/logout                 → end session
// GET    /api/me                     → current account or null
// GET    /api/profile/{id}           → public profile
// GET    /api/nearby/people          → people around the caller       [auth]
// GET    /api/nearby/businesses      → businesses around the caller   [auth]
// GET    /api/forum                  → recent posts                   [auth]
// POST   /api/forum                  → publish post                   [auth]
// POST   /api/messages               → send message                   [auth]
// GET    /api/messages/{otherID}     → conversation                   [auth]
//
// MIDDLEWARE ORDER MATTERS:
// Session runs before Logger so the log line can carry the account id.
func (s *Server) setupRoutes(accounts *handler.AccountHandler, feed *handler.FeedHandler, health *handler.HealthHandler) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Session(s.sessions))
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", health.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/register", accounts.HandleRegister)
		r.Post("/login", accounts.HandleLogin)
		r.Post("/logout", accounts.HandleLogout)
		r.Get("/me", accounts.HandleMe)
		r.Get("/profile/{id}", accounts.HandleProfile)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession)

			r.Get("/nearby/people", accounts.HandleNearbyPeople)
			r.Get("/nearby/businesses", accounts.HandleNearbyBusinesses)
			r.Get("/forum", feed.HandleListPosts)
			r.Post("/forum", feed.HandleCreatePost)
			r.Post("/messages", feed.HandleSendMessage)
			r.Get("/messages/{otherID}", feed.HandleConversation)
		})
	})
}

// Handler returns the root handler. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the API until ctx is cancelled, then shuts down gracefully and
// closes the repository.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.selection.Repo.Close(); err != nil {
			s.logger.Error("closing repository", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("server starting",
		slog.String("addr", s.config.Server.Addr()),
		slog.String("backend", s.selection.Repo.Backend()),
		slog.Bool("degraded", s.selection.Degraded),
	)
	return Serve(ctx, s.logger, &http.Server{
		Addr:    s.config.Server.Addr(),
		Handler: s.router,
	})
}

// Serve runs srv until ctx is cancelled or the listener fails. Unset
// timeouts get the API defaults. A cancelled ctx is a clean shutdown and
// returns nil.
func Serve(ctx context.Context, logger *slog.Logger, srv *http.Server) error {
	if srv.ReadTimeout == 0 {
		srv.ReadTimeout = 15 * time.Second
	}
	if srv.WriteTimeout == 0 {
		srv.WriteTimeout = 15 * time.Second
	}
	if srv.IdleTimeout == 0 {
		srv.IdleTimeout = 60 * time.Second
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		logger.Info("shutdown requested", slog.String("addr", srv.Addr))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		<-serverErrors
		logger.Info("server stopped gracefully", slog.String("addr", srv.Addr))
		return nil
	}
}
