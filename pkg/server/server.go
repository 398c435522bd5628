// Package server hosts the HTTP services on gin: shared middleware, the
// response envelope, health and metrics endpoints, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
)

// Config holds per-service HTTP settings
type Config struct {
	Service         string
	Port            int
	RateLimit       float64 // requests per second, 0 disables limiting
	RateLimitBurst  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults for service
func DefaultConfig(service string, port int) Config {
	return Config{
		Service:         service,
		Port:            port,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewEngine builds a gin engine with the shared middleware chain and the
// /health and /metrics endpoints registered
func NewEngine(cfg Config, log *logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.NewNop()
	}

	r := gin.New()
	r.Use(
		Recovery(cfg.Service, log),
		RequestID(),
		Metrics(cfg.Service),
		RequestLogger(log),
		CORS(),
	)
	if cfg.RateLimit > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		r.Use(RateLimit(cfg.Service, rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": cfg.Service})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Route not found", "error": "NOT_FOUND"})
	})
	return r
}

// Run serves handler until ctx is cancelled, then shuts down gracefully
func Run(ctx context.Context, cfg Config, handler http.Handler, log *logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("service listening", "service", cfg.Service, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server failed: %w", cfg.Service, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		log.Info("shutting down", "service", cfg.Service)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("service stopped gracefully", "service", cfg.Service)
	return nil
}
