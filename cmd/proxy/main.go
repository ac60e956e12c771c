// Command proxy runs the Ethereum JSON-RPC caching reverse proxy:
// load config, construct every component explicitly (no package-level
// singletons), start the HTTP server in a goroutine, then block on a
// cancellable signal context and shut everything down in reverse
// dependency order.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/breaker"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/cachestore"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/coalescer"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/config"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/httpapi"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/lock"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/methodpolicy"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/metrics"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/pipeline"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/upstream"
)

// version is stamped at build time via -ldflags; "dev" covers local runs.
var version = "dev"

func main() {
	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("proxy: failed to load configuration")
	}

	store, err := cachestore.Resolve(ctx, cfg.CacheType, cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("proxy: failed to resolve cache backend")
	}
	defer store.Close()

	policy := methodpolicy.NewPolicy(methodpolicy.Config{
		PermanentHeight: cfg.PermanentHeight,
		LatestBlockTTL:  cfg.LatestBlockTTL,
		RecentBlockTTL:  cfg.RecentBlockTTL,
		EthCallTTL:      cfg.EthCallTTL,
		StaleTTL:        cfg.StaleTTL,
	})

	mtr := metrics.New(prometheus.DefaultRegisterer)

	br := breaker.New(breaker.Options{
		Enabled:               cfg.CircuitBreakerEnabled,
		FailureThreshold:      cfg.CircuitFailureThreshold,
		SuccessThreshold:      cfg.CircuitSuccessThreshold,
		Timeout:               cfg.CircuitTimeout,
		ResetTimeout:          cfg.CircuitResetTimeout,
		VolumeThreshold:       cfg.CircuitVolumeThreshold,
		ErrorThresholdPercent: cfg.CircuitErrorPercentage,
		WindowSize:            breaker.DefaultOptions().WindowSize,
	}, func(from, to breaker.State) {
		log.Info().Str("from", from.String()).Str("to", to.String()).Msg("proxy: circuit breaker transition")
	})

	co := coalescer.New(coalescer.Options{
		Enabled: cfg.CoalescingEnabled,
		Timeout: cfg.CoalescingTimeout,
	})

	lk := lock.New(store, lock.Options{
		Enabled:       cfg.DistributedLockEnabled,
		TTL:           cfg.LockTTL,
		RetryAttempts: cfg.LockRetryAttempts,
		RetryDelay:    cfg.LockRetryDelay,
	}, log)

	upOpts := upstream.DefaultOptions()
	upOpts.MaxRetriesPerURL = cfg.RPCMaxRetriesPerURL
	up := upstream.New(cfg.UpstreamURLs, upOpts, log)
	up.OnAttempt = func(url string, duration time.Duration, callErr error) {
		mtr.ObserveUpstreamDuration(url, duration.Seconds())
		if callErr != nil {
			mtr.RecordUpstreamAttemptError()
		}
	}
	defer up.Close()

	pl := pipeline.New(store, policy, br, co, lk, up, mtr, pipeline.Options{
		StaleWhileRevalidate: cfg.StaleWhileRevalidate,
		NegativeCaching:      cfg.NegativeCaching,
		NegativeTTL:          cfg.NegativeTTL,
		LockRecheckSleep:     pipeline.DefaultOptions().LockRecheckSleep,
	}, log)

	srv := httpapi.New(httpapi.ServerOptions{
		Pipeline:  pl,
		Store:     store,
		Upstream:  up,
		Breaker:   br,
		Coalescer: co,
		Lock:      lk,
		Metrics:   mtr,
		Config:    cfg,
		Log:       log,
		Version:   version,
	})

	httpServer := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           srv.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("cache", store.Kind()).Msg("proxy: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("proxy: http server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("proxy: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("proxy: http shutdown error")
	}

	lk.ReleaseAllHeld(shutdownCtx)
	co.Clear()

	log.Info().Msg("proxy: stopped")
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("LOG_LEVEL") != "" {
		if parsed, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
			level = parsed
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("component", "proxy").Logger()
}
