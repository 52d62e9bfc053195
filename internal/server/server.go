package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"songmap/internal/auth"
	"songmap/internal/config"
	"songmap/internal/listening"
	"songmap/internal/namespace"
	"songmap/internal/properties"
)

// Pinger is a dependency the health endpoint checks
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the HTTP layer routes to
type Dependencies struct {
	Auth       *auth.Service
	Namespaces *namespace.Manager
	Listening  *listening.Service
	Properties *properties.Administrator
	GraphStore Pinger
	History    Pinger
}

// Server is the HTTP front end of the listening graph
type Server struct {
	config     *config.Config
	logger     *logrus.Logger
	auth       *auth.Service
	namespaces *namespace.Manager
	listening  *listening.Service
	properties *properties.Administrator
	graphStore Pinger
	history    Pinger
	router     chi.Router
}

// NewServer creates a server and sets up its routes
func NewServer(cfg *config.Config, deps Dependencies, logger *logrus.Logger) *Server {
	s := &Server{
		config:     cfg,
		logger:     logger,
		auth:       deps.Auth,
		namespaces: deps.Namespaces,
		listening:  deps.Listening,
		properties: deps.Properties,
		graphStore: deps.GraphStore,
		history:    deps.History,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(s.panicRecoveryMiddleware)
	r.Use(s.requestLoggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.handleHealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/api/graphs", func(r chi.Router) {
			r.Get("/", s.handleListGraphs)
			r.Post("/", s.handleCreateGraph)

			r.Route("/{graphID}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteGraph)
				r.Get("/data", s.handleGraphData)
				r.Get("/history", s.handleHistory)
				r.Post("/listen", s.handleListen(false))
				r.Post("/newlisten", s.handleListen(true))
				r.Get("/recommend", s.handleRecommend)
				r.Get("/nodes", s.handleQueryNode)
				r.Delete("/nodes", s.handleDeleteNode)
				r.Get("/edges", s.handleQueryEdge)
				r.Delete("/edges", s.handleDeleteEdge)
			})
		})

		r.Route("/api/properties/{target}", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/", s.handleAddProperty)
			r.Delete("/{key}", s.handleRemoveProperty)
		})
	})

	s.router = r
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.config.GetAddress(),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", server.Addr).Info("SongMap server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("Server shutdown complete")
	return nil
}
