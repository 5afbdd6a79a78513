package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/api/handler"
	mw "github.com/edvin/certverify/internal/api/middleware"
	"github.com/edvin/certverify/internal/core"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

type Options struct {
	MaxUploadBytes int64
	// RateLimiter limits the public endpoints per client IP. Leave it nil
	// to disable rate limiting.
	RateLimiter mw.RateLimiter
	// Checks are run by /readyz, keyed by the name reported in its body.
	Checks map[string]ReadinessCheck
}

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	opts     Options
}

func NewServer(logger zerolog.Logger, services *core.Services, opts Options) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		opts:     opts,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	cert := handler.NewCertificate(s.services, s.opts.MaxUploadBytes)

	// Public endpoints
	s.router.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(s.opts.RateLimiter))

		r.Post("/certificates/upload", cert.Upload)
		r.Post("/certificates/upload/batch", cert.UploadBatch)
		r.Post("/certificates/verify", cert.Verify)
	})

	// Issuer endpoints
	s.router.Group(func(r chi.Router) {
		r.Use(mw.Auth(s.services.APIKey))

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireScope("certificates", "read"))
			r.Get("/certificates", cert.List)
			r.Get("/certificates/stats", cert.Stats)
			r.Get("/certificates/index", cert.LookupIndex)
			r.Get("/certificates/by-hash/{rawHash}", cert.GetByRawHash)
			r.Get("/certificates/{id}", cert.Get)
			r.Get("/owners/{ownerID}/certificates", cert.ListByOwner)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireScope("certificates", "write"))
			r.Post("/certificates/{id}/revoke", cert.Revoke)
			r.Post("/certificates/{id}/unrevoke", cert.Unrevoke)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireScope("*", "*"))
			apiKey := handler.NewAPIKey(s.services.APIKey)
			r.Post("/api-keys", apiKey.Create)
			r.Delete("/api-keys/{id}", apiKey.Revoke)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
