// Package api exposes place resolution over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/cache"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resolver"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Resolver is the resolution surface the API serves.
type Resolver interface {
	ResolvePlace(ctx context.Context, q model.UnresolvedPlace, opts ...resolver.ResolveOption) (model.PlaceResolutionResult, error)
	ResolvePlaces(ctx context.Context, qs []model.UnresolvedPlace, opts ...resolver.ResolveOption) ([]model.PlaceResolutionResult, error)
	CacheStats(ctx context.Context) (cache.Stats, error)
	Flush(ctx context.Context) error
}

// ModeSwitch reads and overrides the resolution mode at runtime.
type ModeSwitch interface {
	String() string
	ApplyOverride(value string) error
}

// Options configures NewServer.
type Options struct {
	Addr           string
	AllowedOrigins []string
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP API.
type Server struct {
	httpServer *http.Server
	resolver   Resolver
	mode       ModeSwitch
}

// NewServer builds the router and wraps it in an http.Server.
func NewServer(r Resolver, mode ModeSwitch, opts Options) *Server {
	s := &Server{resolver: r, mode: mode}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	router.Get("/health", s.handleHealth)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Route("/v1", func(v1 chi.Router) {
		v1.Post("/places/resolve", s.handleResolve)
		v1.Post("/places/resolve-batch", s.handleResolveBatch)
		v1.Post("/itineraries/resolve", s.handleResolveItinerary)
		v1.Get("/cache/stats", s.handleCacheStats)
		v1.Post("/cache/flush", s.handleCacheFlush)
		v1.Get("/mode", s.handleGetMode)
		v1.Put("/mode", s.handleSetMode)
	})

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	zap.L().Info("api: server starting", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
