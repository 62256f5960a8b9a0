// Package server is the composition root: it opens the database, builds
// every service and handler, and owns the router and the HTTP lifecycle.
//
// DEPENDENCY FLOW:
//
//	cmd/server (config, llm clients)
//	  → server.New
//	      sqlite.DB → stores → session.Reconciler, service.AuthService, service.ChatService
//	      → handlers → chi router
//
// Each layer only receives what it needs: services get repository
// interfaces, handlers get services, nothing below the handlers knows
// about HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/gemix-chat/internal/auth"
	"github.com/sakif/gemix-chat/internal/handler"
	"github.com/sakif/gemix-chat/internal/llm"
	"github.com/sakif/gemix-chat/internal/middleware"
	sqliteRepo "github.com/sakif/gemix-chat/internal/repository/sqlite"
	"github.com/sakif/gemix-chat/internal/service"
	"github.com/sakif/gemix-chat/internal/session"
)

const (
	sweepInterval   = 5 * time.Minute
	shutdownTimeout = 30 * time.Second
)

// Config holds server configuration.
type Config struct {
	Addr       string
	DBPath     string
	JWTSecret  string
	SessionTTL time.Duration
	BcryptCost int
}

// Backends are the upstream collaborators. A nil field is treated as not
// configured: chat, captions and images degrade to their placeholder
// replies and titles come from the first message.
type Backends struct {
	Chat       llm.ChatBackend
	Summarizer llm.Summarizer
	Captioner  llm.Captioner
	Images     llm.ImageGenerator
}

// Server represents the HTTP server and all its dependencies.
// It owns the database and closes it when Start returns.
type Server struct {
	router   *chi.Mux
	config   Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	registry *session.Registry
	// idle sessions older than this are swept; equals the cookie lifetime
	sessionTTL time.Duration
}

// New opens the database and wires every layer.
func New(cfg Config, backends Backends, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	db, err := sqliteRepo.New(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: session.NewRegistry(),

		sessionTTL: tokens.TTL(),
	}
	s.setupRoutes(tokens, withDefaults(backends))
	return s, nil
}

func withDefaults(b Backends) Backends {
	if b.Chat == nil {
		b.Chat = llm.Unavailable{}
	}
	if b.Captioner == nil {
		b.Captioner = llm.Unavailable{}
	}
	if b.Images == nil {
		b.Images = llm.Unavailable{}
	}
	return b
}

// setupRoutes configures middleware and routes.
//
// ROUTES:
//
//	POST   /api/auth/signup       → create account, sign session in
//	POST   /api/auth/signin       → sign session in
//	POST   /api/auth/logout       → replace session with a guest
//	GET    /api/me                → current user (or guest)
//	PUT    /api/me/profile        → first/last name
//	PUT    /api/me/password       → change password
//	GET    /api/threads?q=        → history, newest first
//	POST   /api/threads           → new chat
//	GET    /api/threads/current   → current thread + messages
//	PUT    /api/threads/current   → switch thread
//	DELETE /api/threads/{id}      → delete thread
//	POST   /api/chat              → chat turn
//	POST   /api/images            → image generation turn
//	POST   /api/captions          → image caption turn
//	GET    /healthz               → liveness
//
// Middleware order: request id, real ip, logging, panic recovery, then
// cookie → session resolution on /api.
func (s *Server) setupRoutes(tokens *auth.TokenService, b Backends) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	threads, messages := s.db.Threads(), s.db.Messages()
	reconciler := session.NewReconciler(threads, messages, s.logger)
	accounts := service.NewAuthService(s.db.Users(), auth.NewPasswordService(s.config.BcryptCost), s.logger)
	titles := service.NewTitleGenerator(b.Summarizer, s.logger)
	chat := service.NewChatService(messages, threads, titles, b.Chat, b.Images, b.Captioner, s.logger)

	sessions := handler.NewSessionManager(s.registry, reconciler, tokens, s.logger)
	authHandler := handler.NewAuthHandler(accounts, reconciler, sessions, s.logger)
	threadHandler := handler.NewThreadHandler(reconciler, s.logger)
	chatHandler := handler.NewChatHandler(chat, s.logger)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.SessionCookie(tokens))
		r.Use(sessions.Middleware)

		r.Post("/auth/signup", authHandler.HandleSignUp)
		r.Post("/auth/signin", authHandler.HandleSignIn)
		r.Post("/auth/logout", authHandler.HandleLogout)

		r.Get("/me", authHandler.HandleMe)
		r.Put("/me/profile", authHandler.HandleUpdateProfile)
		r.Put("/me/password", authHandler.HandleChangePassword)

		r.Get("/threads", threadHandler.HandleList)
		r.Post("/threads", threadHandler.HandleNew)
		r.Get("/threads/current", threadHandler.HandleCurrent)
		r.Put("/threads/current", threadHandler.HandleSelect)
		r.Delete("/threads/{id}", threadHandler.HandleDelete)

		r.Post("/chat", chatHandler.HandleSend)
		r.Post("/images", chatHandler.HandleGenerateImage)
		r.Post("/captions", chatHandler.HandleCaption)
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully:
// stop accepting connections, let in-flight turns finish (30s), stop the
// session sweeper and close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	// Image generation alone may take two minutes.
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go s.sweepSessions(sweepCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", s.config.Addr),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// sweepSessions drops sessions idle for longer than the cookie lifetime;
// their cookies have expired, so nothing can reach them any more.
func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.registry.Sweep(s.sessionTTL); n > 0 {
				s.logger.Info("expired sessions removed",
					slog.Int("removed", n),
					slog.Int("active", s.registry.Len()),
				)
			}
		}
	}
}
