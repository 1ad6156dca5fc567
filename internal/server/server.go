// Package server assembles the HTTP surface of the voice relay: the realtime
// WebSocket endpoint, the legacy text-to-speech endpoint, health and stats
// endpoints, and the Prometheus scrape route, wrapped in rate limiting, CORS,
// and observability middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MeGallin/ai-chat-bot-api/internal/config"
	"github.com/MeGallin/ai-chat-bot-api/internal/health"
	"github.com/MeGallin/ai-chat-bot-api/internal/observe"
	"github.com/MeGallin/ai-chat-bot-api/internal/relay"
	"github.com/MeGallin/ai-chat-bot-api/internal/speech"
	"github.com/MeGallin/ai-chat-bot-api/pkg/realtime"
)

// Server is the relay's HTTP server. Construct with [New], start with [Run].
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *relay.Registry
	upstream realtime.Client
	pipeline speech.Pipeline
	obs      *observe.Metrics
	health   *health.Handler

	// originPatterns are host patterns derived from the configured allowed
	// origins, in the form the WebSocket accept check expects.
	originPatterns []string

	httpSrv *http.Server
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the server's logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithObserve sets the observability instruments to record into. Defaults to
// [observe.DefaultMetrics].
func WithObserve(obs *observe.Metrics) Option {
	return func(s *Server) { s.obs = obs }
}

// New assembles a Server from its dependencies. upstream opens the realtime
// session behind each WebSocket connection; pipeline serves the legacy
// endpoint.
func New(cfg *config.Config, reg *relay.Registry, upstream realtime.Client, pipeline speech.Pipeline, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		log:      slog.Default(),
		registry: reg,
		upstream: upstream,
		pipeline: pipeline,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.obs == nil {
		s.obs = observe.DefaultMetrics()
	}
	s.health = health.New(
		health.Checker{Name: "upstream", Check: func(context.Context) error {
			if cfg.OpenAI.APIKey == "" {
				return errors.New("missing OpenAI API key")
			}
			return nil
		}},
	)
	s.originPatterns = originHostPatterns(cfg.Server.AllowedOrigins)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the full route table wrapped in the middleware chain:
// observability outermost, then CORS, then rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /realtime", s.handleRealtime)
	mux.HandleFunc("POST /{$}", s.handleSpeak)

	var h http.Handler = mux
	h = rateLimit(s.cfg.RateLimit)(h)
	h = cors(s.cfg.Server.AllowedOrigins)(h)
	h = observe.Middleware(s.obs)(h)
	return h
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully: the
// listener stops accepting, every open relay is closed, and in-flight
// requests get cfg.Server.ShutdownTimeout to finish. A clean shutdown
// returns nil.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown closes every live relay first so their sockets do not hold the
// HTTP shutdown open, then drains the listener.
func (s *Server) shutdown() error {
	s.log.Info("shutting down", "open_connections", s.registry.Len())
	s.registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// originHostPatterns extracts the host part of each allowed origin URL, the
// format the WebSocket origin check matches against. Origins that do not
// parse as URLs are passed through verbatim.
func originHostPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			patterns = append(patterns, strings.TrimSpace(o))
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}
