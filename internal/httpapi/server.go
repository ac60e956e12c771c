// Package httpapi exposes the proxy's HTTP surface: POST /, GET
// /health, GET /cache/stats, POST /cache/flush, and GET /metrics. A
// chi.Mux carries RequestID/RealIP/Recoverer middleware, and handlers
// are Server methods closing over their dependencies rather than a
// package-level singleton.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/breaker"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/cachestore"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/coalescer"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/config"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/lock"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/metrics"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/pipeline"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/upstream"
)

// maxBodyBytes bounds the request body the same way the upstream client
// bounds upstream responses — a misbehaving client should not be able
// to exhaust memory through this endpoint.
const maxBodyBytes = 10 << 20

// ServerOptions carries every dependency the handlers close over,
// assembled once at startup.
type ServerOptions struct {
	Pipeline  *pipeline.Pipeline
	Store     cachestore.Store
	Upstream  *upstream.Client
	Breaker   *breaker.Breaker
	Coalescer *coalescer.Coalescer
	Lock      *lock.Lock
	Metrics   *metrics.Metrics
	Config    *config.Config
	Log       zerolog.Logger
	Version   string
}

// Server holds the chi router plus every dependency the handlers need.
type Server struct {
	Router *chi.Mux

	pipeline  *pipeline.Pipeline
	store     cachestore.Store
	upstream  *upstream.Client
	breaker   *breaker.Breaker
	coalescer *coalescer.Coalescer
	lock      *lock.Lock
	metrics   *metrics.Metrics
	cfg       *config.Config
	log       zerolog.Logger

	version   string
	startedAt time.Time
}

// New builds the router and registers every route.
func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{
		Router:    r,
		pipeline:  opts.Pipeline,
		store:     opts.Store,
		upstream:  opts.Upstream,
		breaker:   opts.Breaker,
		coalescer: opts.Coalescer,
		lock:      opts.Lock,
		metrics:   opts.Metrics,
		cfg:       opts.Config,
		log:       opts.Log,
		version:   opts.Version,
		startedAt: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Use(s.logRequests)
	s.Router.Post("/", s.handleRPC)
	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/cache/stats", s.handleCacheStats)
	s.Router.Post("/cache/flush", s.handleCacheFlush)
	s.Router.Get("/metrics", promhttp.Handler().ServeHTTP)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	out, err := s.pipeline.HandleBody(r.Context(), body)
	if err != nil {
		s.log.Error().Err(err).Msg("httpapi: unexpected pipeline error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// healthResponse mirrors GET /health shape.
type healthResponse struct {
	Status       string                 `json:"status"`
	Version      string                 `json:"version"`
	StartedAt    time.Time              `json:"startedAt"`
	UptimeSec    float64                `json:"uptime"`
	CacheType    string                 `json:"cacheType"`
	Metrics      metrics.Snapshot       `json:"metrics"`
	RPCProviders []upstream.Snapshot    `json:"rpcProviders"`
	Config       map[string]interface{} `json:"config"`
	Coalescing   coalescer.Stats        `json:"coalescing"`
	Breaker      breakerSnapshot        `json:"circuitBreaker"`
	Lock         lockSnapshot           `json:"distributedLock"`
}

type breakerSnapshot struct {
	State            string    `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	HalfOpenSuccess  int       `json:"halfOpenSuccess"`
	NextAttempt      time.Time `json:"nextAttempt,omitempty"`
	WindowSamples    int       `json:"windowSamples"`
}

type lockSnapshot struct {
	Enabled   bool `json:"enabled"`
	HeldCount int  `json:"heldCount"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	bs := s.breaker.Snapshot()

	resp := healthResponse{
		Status:       "ok",
		Version:      s.version,
		StartedAt:    s.startedAt,
		UptimeSec:    time.Since(s.startedAt).Seconds(),
		CacheType:    s.store.Kind(),
		Metrics:      s.metrics.Snapshot(),
		RPCProviders: s.upstream.Snapshots(),
		Config: map[string]interface{}{
			"port":                s.cfg.Port,
			"host":                s.cfg.Host,
			"rpcFallbackEnabled":  s.cfg.RPCFallbackEnabled,
			"permanentHeight":     s.cfg.PermanentHeightString(),
			"coalescingEnabled":   s.cfg.CoalescingEnabled,
			"distributedLockEnabled": s.cfg.DistributedLockEnabled,
			"circuitBreakerEnabled":  s.cfg.CircuitBreakerEnabled,
			"staleWhileRevalidate":   s.cfg.StaleWhileRevalidate,
			"negativeCaching":        s.cfg.NegativeCaching,
		},
		Coalescing: s.coalescer.Stats(),
		Breaker: breakerSnapshot{
			State:            bs.State,
			ConsecutiveFails: bs.ConsecutiveFails,
			HalfOpenSuccess:  bs.HalfOpenSuccess,
			NextAttempt:      bs.NextAttempt,
			WindowSamples:    bs.WindowSamples,
		},
		Lock: lockSnapshot{
			Enabled:   s.lock.Enabled(),
			HeldCount: s.lock.HeldCount(),
		},
	}

	writeJSON(w, http.StatusOK, resp)
}

type cacheStatsResponse struct {
	Backend string           `json:"backend"`
	Metrics metrics.Snapshot `json:"metrics"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Backend: s.store.Kind(),
		Metrics: s.metrics.Snapshot(),
	})
}

type flushResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.store.FlushAll(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, flushResponse{Success: false, Message: err.Error()})
		return
	}
	s.coalescer.Clear()
	s.metrics.ResetSnapshot()

	writeJSON(w, http.StatusOK, flushResponse{Success: true, Message: "cache flushed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
