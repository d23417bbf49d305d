// Package server exposes the gateway's HTTP surface: the transcription and
// pairing REST endpoints, admission-token issuance, the WebSocket channel
// endpoint, and the health and metrics routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mondzorgtools/dictaat/internal/asr"
	"github.com/mondzorgtools/dictaat/internal/auth"
	"github.com/mondzorgtools/dictaat/internal/channel"
	"github.com/mondzorgtools/dictaat/internal/config"
	"github.com/mondzorgtools/dictaat/internal/health"
	"github.com/mondzorgtools/dictaat/internal/observe"
	"github.com/mondzorgtools/dictaat/internal/pairing"
)

// shutdownTimeout bounds the drain of in-flight requests on shutdown.
const shutdownTimeout = 15 * time.Second

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadyCheck adds a readiness checker to /readyz.
func WithReadyCheck(c health.Checker) Option {
	return func(s *Server) { s.checks = append(s.checks, c) }
}

// Server owns the HTTP surface and the channel fabric behind /ws.
type Server struct {
	cfg      *config.Config
	provider asr.Provider
	trans    channel.Transcriber
	pairs    *pairing.Store
	issuer   *auth.Issuer

	registry *channel.Registry
	router   *channel.Router

	logger  *slog.Logger
	metrics *observe.Metrics
	checks  []health.Checker

	httpSrv *http.Server
}

// New wires a server over the given collaborators. The channel registry and
// router are built internally from the configured rate limits.
func New(cfg *config.Config, provider asr.Provider, trans channel.Transcriber, pairs *pairing.Store, issuer *auth.Issuer, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
		trans:    trans,
		pairs:    pairs,
		issuer:   issuer,
		logger:   slog.Default(),
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}

	s.registry = channel.NewRegistry(pairs, s.metrics)
	s.router = channel.NewRouter(s.registry, pairs, trans,
		channel.WithRouterLogger(s.logger),
		channel.WithRouterMetrics(s.metrics),
		channel.WithControlRate(cfg.Limits.ControlMessagesPerSec),
		channel.WithAudioByteRate(cfg.Limits.AudioBytesPerSec),
	)
	return s
}

// Routes builds the full handler tree. The WebSocket endpoint bypasses the
// HTTP middleware because the connection is hijacked before a status code
// exists to record.
func (s *Server) Routes() http.Handler {
	rest := http.NewServeMux()
	rest.HandleFunc("POST /transcribe", s.handleTranscribe)
	rest.HandleFunc("POST /generate-pair-code", s.handleGeneratePairCode)
	rest.HandleFunc("POST /pair-device", s.handlePairDevice)
	rest.HandleFunc("POST /auth/ws-token", s.handleWSToken)
	rest.HandleFunc("POST /auth/ws-token-mobile", s.handleWSTokenMobile)
	rest.Handle("GET /metrics", promhttp.Handler())
	health.New(s.checks...).Register(rest)

	outer := http.NewServeMux()
	outer.HandleFunc("GET /ws", s.handleWS)
	outer.Handle("/", observe.Middleware(s.metrics)(rest))
	return outer
}

// Run serves HTTP until ctx is cancelled, running the pairing sweeper
// alongside. Shutdown drains in-flight requests for up to 15 seconds.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", slog.String("addr", s.cfg.Server.ListenAddr))
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = s.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	})

	g.Go(func() error {
		s.runSweeper(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runSweeper periodically drops expired pairing codes and keeps the pending
// gauge in step.
func (s *Server) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Pairing.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.pairs.Sweep(); removed > 0 {
				s.metrics.PendingPairings.Add(ctx, -int64(removed))
				s.logger.Debug("pairing sweep", slog.Int("removed", removed))
			}
		}
	}
}
