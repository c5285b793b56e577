package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports whether the editor loop is accepting players.
type ReadinessChecker func() bool

// Server exposes /metrics and the liveness and readiness checks of the
// editor process on their own port.
type Server struct {
	addr     string
	ready    ReadinessChecker
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *Metrics

	running atomic.Bool
	ln      net.Listener
	srv     *http.Server
}

func NewServer(addr string, ready ReadinessChecker, logger *slog.Logger) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Server{
		addr:     addr,
		ready:    ready,
		logger:   logger.With("component", "observability"),
		registry: reg,
		metrics:  NewMetrics(reg),
	}
}

func (s *Server) Metrics() *Metrics { return s.metrics }

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start listens and serves in the background. A serve failure is delivered
// on the returned channel, which is closed once serving ends.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Errorf("already running")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrapf(err, "listen")
	}
	srv := &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	s.ln, s.srv = ln, srv

	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errs <- oops.In("observability").With("addr", s.Addr()).Wrapf(err, "serve")
		}
	}()
	return errs, nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return oops.In("observability").Wrapf(err, "shutdown")
	}
	s.logger.Debug("observability server stopped")
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.Handle("GET /healthz/liveness", healthCheck(nil))
	mux.Handle("GET /healthz/readiness", healthCheck(s.ready))
	return mux
}

// healthCheck answers 200 while check passes and 503 otherwise. A nil check
// always passes.
func healthCheck(check ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if check != nil && !check() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "not ready\n")
			return
		}
		_, _ = io.WriteString(w, "ok\n")
	}
}
