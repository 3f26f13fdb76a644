// Package ops exposes the long-running HTTP surface a resident codegraph
// process serves alongside the CLI's one-shot storage access: health,
// Prometheus-style metrics, and an on-demand integrity-check trigger over
// the recovery checker.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/codegraph-io/codegraph/internal/recovery"
	"github.com/codegraph-io/codegraph/pkg/metrics"
	"github.com/codegraph-io/codegraph/pkg/mid"
	"github.com/codegraph-io/codegraph/pkg/resilience"
)

// Registry is the subset of instruments ops handlers and their callers
// share; held separately from the metrics.Registry itself so a caller
// outside this package (the CLI's dispatch loop) can record against the
// same counters without importing net/http.
type Registry struct {
	*metrics.Registry
	Requests     *metrics.Counter
	Errors       *metrics.Counter
	CheckLatency *metrics.Histogram
}

// NewRegistry builds a Registry with its instruments pre-registered.
func NewRegistry() *Registry {
	m := metrics.New()
	return &Registry{
		Registry:     m,
		Requests:     m.Counter("codegraph_ops_requests_total", "total ops HTTP requests"),
		Errors:       m.Counter("codegraph_ops_errors_total", "total ops HTTP errors"),
		CheckLatency: m.Histogram("codegraph_integrity_check_seconds", "on-demand integrity check latency", nil),
	}
}

// Server is the ops HTTP surface: /healthz, /metrics, and
// /integrity/check. Requests are throttled ahead of the handler so an
// on-demand integrity scan triggered from this endpoint can't be turned
// into a load spike by a misbehaving caller, independent of the
// checker's own internal rate limit on RunIntegrityCheck itself.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires the mux, middleware chain, and throttling limiter
// around checker and reg, listening on addr.
func NewServer(addr string, checker *recovery.Checker, reg *Registry, logger *slog.Logger) *Server {
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: 20, Burst: 40})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz())
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/integrity/check", handleIntegrityCheck(checker, reg))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		throttle(limiter, reg),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      otelhttp.NewHandler(handler, "codegraph-ops"),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe blocks until ctx is cancelled, then shuts the server
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// throttle rejects requests past the configured rate instead of queueing
// them, since load on an ops endpoint is a symptom worth surfacing, not
// absorbing.
func throttle(l *resilience.Limiter, reg *Registry) mid.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reg.Requests.Inc()
			if !l.Allow() {
				reg.Errors.Inc()
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// handleIntegrityCheck runs one on-demand integrity pass through the
// recovery checker's own internal limiter (RunIntegrityCheck), separate
// from this handler's request-level throttle.
func handleIntegrityCheck(checker *recovery.Checker, reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		report, err := checker.RunIntegrityCheck(r.Context())
		reg.CheckLatency.Since(start)
		if err != nil {
			reg.Errors.Inc()
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}
