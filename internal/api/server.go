package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vtxstudio/vtx/internal/logging"
	"github.com/vtxstudio/vtx/internal/pipelines"
	"github.com/vtxstudio/vtx/internal/registry"
)

const shutdownGrace = 5 * time.Second

type ServerConfig struct {
	Port       int // 0 picks a free port
	Repository registry.Repository
	Prober     *pipelines.CachedProber // optional; only cached entries are reported
	Logger     *slog.Logger
	StartTime  time.Time
	Version    string
}

// Server is the loopback-only status API.
type Server struct {
	http     *http.Server
	listener net.Listener
	prober   *pipelines.CachedProber
	logger   *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		http: &http.Server{
			Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)),
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		prober: cfg.Prober,
		logger: logging.WithComponent(logging.OrDiscard(cfg.Logger), "status-api"),
	}
}

// Listen binds the socket. After it returns, Addr reports the real port.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve handles requests until ctx is cancelled, then drains in-flight
// requests for a few seconds. It binds first if Listen was not called.
// With a prober configured, every known pipeline is probed once in the
// background so /capabilities has data without handlers probing.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("status server listening", "addr", s.Addr())
	if s.prober != nil {
		go WarmCapabilities(ctx, s.prober, s.logger)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(s.listener) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down status server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.http.Addr
}

// WarmCapabilities probes every known pipeline module into the cache,
// stopping early when ctx is cancelled. Probe failures are cached too.
func WarmCapabilities(ctx context.Context, prober *pipelines.CachedProber, logger *slog.Logger) {
	logger = logging.OrDiscard(logger)
	start := time.Now()
	for _, key := range pipelines.KnownPipelines() {
		if ctx.Err() != nil {
			return
		}
		module, _ := pipelines.ModuleFor(key)
		if _, err := prober.Probe(ctx, module); err != nil {
			logger.Debug("pipeline probe failed", "pipeline", key, "error", err)
		}
	}
	logger.Info("capabilities warmed", "pipelines", len(pipelines.KnownPipelines()), "duration_ms", time.Since(start).Milliseconds())
}
