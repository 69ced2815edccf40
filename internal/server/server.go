// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: New receives an opened store and the
// loaded configuration, builds the auth services on top of them, and
// wires handlers to routes. Nothing below this package knows how its
// dependencies are constructed.
//
// DEPENDENCY CHAIN:
//
//	repository.Store ─┬→ AuthService          → AuthHandler
//	                  ├→ UserService          → UserHandler
//	                  ├→ PasswordResetService → ResetHandler
//	                  └→ ResetTokenJanitor (background)
//	TokenService ─────→ AuthService, RequireAuth
//	HashPool ─────────→ AuthService, UserService, PasswordResetService
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

	"github.com/sakif/tripcms/internal/auth"
	"github.com/sakif/tripcms/internal/config"
	"github.com/sakif/tripcms/internal/handler"
	"github.com/sakif/tripcms/internal/middleware"
	"github.com/sakif/tripcms/internal/repository"
	"github.com/sakif/tripcms/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server owns the router, the store and the background workers.
//
// RESOURCE MANAGEMENT:
// The store, the janitor goroutine, pending reset-mail deliveries and the
// rate limiter's redis client are all released by Close, which Start calls
// on the way out.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	store  repository.Store

	tokens      *auth.TokenService
	hasher      *auth.HashPool
	users       *service.UserService
	resets      *service.PasswordResetService
	janitor     *service.ResetTokenJanitor
	limiter     *middleware.RateLimiter
	requireAuth func(http.Handler) http.Handler
}

// New builds the services and routes. The server takes ownership of store.
func New(cfg config.Config, store repository.Store, notifier service.ResetNotifier, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Tokens.AccessSecret,
		RefreshSecret: cfg.Tokens.RefreshSecret,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		Issuer:        cfg.Tokens.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	limiter, err := middleware.NewRateLimiter(cfg.RateLimit.Auth, cfg.RateLimit.RedisURL, cfg.RateLimit.TrustProxy)
	if err != nil {
		return nil, fmt.Errorf("creating rate limiter: %w", err)
	}

	passwords := auth.NewPasswordService(auth.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
	})

	s := &Server{
		router:      chi.NewRouter(),
		config:      cfg,
		logger:      logger,
		store:       store,
		tokens:      tokens,
		hasher:      auth.NewHashPool(passwords, cfg.HashWorkers, logger),
		limiter:     limiter,
		requireAuth: auth.RequireAuth(tokens, store, logger),
	}
	s.users = service.NewUserService(store, s.hasher, nil, logger)
	s.resets = service.NewPasswordResetService(store, store, s.hasher, notifier, service.ResetConfig{
		TTL:     cfg.Reset.TTL,
		URLBase: cfg.Reset.URLBase,
	}, logger)
	s.janitor = service.NewResetTokenJanitor(store, cfg.Reset.CleanupInterval, cfg.Reset.TTL, logger)

	s.setupRoutes()
	logger.Info("auth services ready",
		slog.Int("hashWorkers", s.hasher.Size()),
		slog.Bool("trustProxyHeaders", cfg.RateLimit.TrustProxy),
	)
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                                 → database ping
//	GET    /metrics                                 → Prometheus exposition
//	POST   /api/auth/login                   [rate] → token pair + cookies
//	POST   /api/auth/refresh                        → new token pair
//	POST   /api/auth/logout                         → clear cookies
//	POST   /api/auth/forgot-password         [rate] → start a reset
//	GET    /api/auth/validate-reset-token/{token}   → {valid:true} or 400
//	POST   /api/auth/reset-password          [rate] → redeem a reset
//	GET    /api/auth/me                      [auth]
//	POST   /api/auth/users                   [auth, user.create]
//	GET    /api/auth/users                   [auth, user.list]
//	PUT    /api/auth/users/{id}              [auth, user.update]
//	DELETE /api/auth/users/{id}              [auth, user.delete]
//
// Further resources are attached with MountResource.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	if s.config.RateLimit.TrustProxy {
		s.router.Use(chimiddleware.RealIP)
	}
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Prometheus)
	s.router.Use(middleware.NewSecure(middleware.SecureOptions(!s.config.IsProduction())))

	healthHandler := handler.NewHealthHandler(s.store, s.logger)
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", middleware.MetricsHandler())

	authHandler := handler.NewAuthHandler(
		service.NewAuthService(s.store, s.tokens, s.hasher, s.logger),
		s.config.IsProduction(),
		s.logger,
	)
	userHandler := handler.NewUserHandler(s.users)
	resetHandler := handler.NewResetHandler(s.resets)

	s.router.Route("/api/auth", func(r chi.Router) {
		r.With(s.limiter.Handler).Post("/login", authHandler.HandleLogin)
		r.Post("/refresh", authHandler.HandleRefresh)
		r.Post("/logout", authHandler.HandleLogout)

		r.With(s.limiter.Handler).Post("/forgot-password", resetHandler.HandleForgotPassword)
		r.Get("/validate-reset-token/{token}", resetHandler.HandleValidateToken)
		r.With(s.limiter.Handler).Post("/reset-password", resetHandler.HandleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", authHandler.HandleMe)

			r.With(auth.RequirePermission(auth.OpUserCreate)).Post("/users", userHandler.HandleCreate)
			r.With(auth.RequirePermission(auth.OpUserList)).Get("/users", userHandler.HandleList)
			r.With(auth.RequirePermission(auth.OpUserUpdate)).Put("/users/{id}", userHandler.HandleUpdate)
			r.With(auth.RequirePermission(auth.OpUserDelete)).Delete("/users/{id}", userHandler.HandleDelete)
		})
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Users exposes the account service, for bootstrapping and tests.
func (s *Server) Users() *service.UserService {
	return s.users
}

// Start runs the HTTP server until SIGINT or SIGTERM, then shuts down.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting connections and let in-flight requests finish.
//  2. Stop the janitor and wait for queued reset mails.
//  3. Close the rate limiter and the store.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.janitor.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("environment", s.config.Environment),
			slog.String("database", s.config.Database.Driver),
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

// Close stops background work and releases the store. It is safe to call
// on a server that was never started.
func (s *Server) Close() error {
	s.janitor.Stop()
	s.resets.Wait()

	if err := s.limiter.Close(); err != nil {
		s.logger.Warn("closing rate limiter", slog.String("error", err.Error()))
	}
	return s.store.Close()
}
