// Package server hosts the shop API on a gin engine together with the
// operational endpoints: /metrics, /live and /ready.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults.
const (
	DefaultShutdownTimeout = 10 * time.Second
	readyCheckTimeout      = 2 * time.Second
	maxGoroutines          = 10_000
)

// Pinger reports whether the store is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure a [Server]. API is required.
type Options struct {
	Addr            string
	API             http.Handler
	Store           Pinger
	Logger          *zap.Logger
	Registry        *prometheus.Registry
	ShutdownTimeout time.Duration
}

// Server is the HTTP front of the shop.
type Server struct {
	addr            string
	engine          *gin.Engine
	log             *zap.Logger
	shutdownTimeout time.Duration
	draining        atomic.Bool
}

// New builds the engine. Requests that match no operational route go to
// opts.API.
func New(opts Options) *Server {
	s := &Server{
		addr:            opts.Addr,
		log:             opts.Logger,
		shutdownTimeout: opts.ShutdownTimeout,
	}

	if s.log == nil {
		s.log = zap.NewNop()
	}

	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = DefaultShutdownTimeout
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	health.AddReadinessCheck("draining", func() error {
		if s.draining.Load() {
			return errors.New("shutting down")
		}

		return nil
	})

	if opts.Store != nil {
		store := opts.Store
		health.AddReadinessCheck("docstore", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), readyCheckTimeout)
			defer cancel()

			return store.Ping(ctx)
		})
	}

	engine := gin.New()
	engine.Use(ginzap.Ginzap(s.log, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(s.log, true))
	engine.Use(requestMetrics(reg))

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	engine.GET("/live", gin.WrapF(health.LiveEndpoint))
	engine.GET("/ready", gin.WrapF(health.ReadyEndpoint))

	engine.NoRoute(gin.WrapH(opts.API))

	s.engine = engine

	return s
}

// Handler returns the engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then stops accepting, marks the
// server not ready and waits up to the shutdown timeout for in-flight
// requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.log),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))

		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		s.draining.Store(true)
		s.log.Info("shutting down", zap.Duration("timeout", s.shutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
