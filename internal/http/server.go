package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"budgetgoals/internal/core"
	applog "budgetgoals/internal/log"
	"budgetgoals/internal/middleware/ratelimit"
	"budgetgoals/internal/middleware/security"
	"budgetgoals/internal/middleware/trace"
)

// RolesHeader carries the caller's roles as a comma separated list.
const RolesHeader = "X-User-Roles"

// GoalAPI is the goal engine as seen by the HTTP layer.
type GoalAPI interface {
	Create(ctx context.Context, spec core.GoalSpec) (core.GoalView, error)
	Get(ctx context.Context, id string) (core.GoalView, error)
	Update(ctx context.Context, id string, patch core.GoalPatch) (core.GoalView, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, budgetID string, month core.Month, categoryGroupID string) ([]core.GoalView, error)
	Overview(ctx context.Context, budgetID string, month core.Month) (core.Overview, error)
}

// ReadinessChecker reports whether backing storage can serve requests.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// Options tunes the server. Zero values pick defaults.
type Options struct {
	// WriteRoles restricts POST/PUT/DELETE to callers holding one of them.
	// Empty means writes are open.
	WriteRoles      []string
	RequestTimeout  time.Duration
	WritesPerMinute int
	Ready           ReadinessChecker
	Logger          *applog.Logger
}

type Server struct {
	http.Server
	goals      GoalAPI
	ready      ReadinessChecker
	limiter    *ratelimit.Limiter
	detector   *security.Detector
	logger     *applog.StructuredLogger
	writeRoles core.RoleSet
	timeout    time.Duration
	now        func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, goals GoalAPI, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background()).WithComponent(applog.ComponentHTTP)
	}

	mux := http.NewServeMux()
	s := &Server{
		goals:      goals,
		ready:      opts.Ready,
		limiter:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.WritesPerMinute}),
		detector:   security.NewDetector(),
		logger:     applog.NewStructuredLogger(logger),
		writeRoles: core.NewRoleSet(opts.WriteRoles),
		timeout:    opts.RequestTimeout,
		now:        time.Now,
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/goal-overview", s.read(s.handleOverview))
	mux.Handle("GET /api/goals", s.read(s.handleListGoals))
	mux.Handle("GET /api/goals/{id}", s.read(s.handleGetGoal))
	mux.Handle("POST /api/goals", s.write(s.handleCreateGoal))
	mux.Handle("PUT /api/goals/{id}", s.write(s.handleUpdateGoal))
	mux.Handle("DELETE /api/goals/{id}", s.write(s.handleDeleteGoal))

	var handler http.Handler = mux
	handler = s.detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = trace.NewMiddleware(s.detector.ExtractClientIP, logger).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and the rate limiter
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) read(h http.HandlerFunc) http.Handler {
	return s.withTimeout(h)
}

// write adds the rate limit and the role gate in front of h.
func (s *Server) write(h http.HandlerFunc) http.Handler {
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		writeErrorBody(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later")
	})
	return limited(s.requireWriteRole(s.withTimeout(h)))
}

func (s *Server) withTimeout(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		h(w, r.WithContext(ctx))
	})
}

func (s *Server) requireWriteRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.writeRoles) > 0 {
			caller := core.NewRoleSet(r.Header.Get(RolesHeader))
			if !caller.Intersects(s.writeRoles) {
				applog.FromContext(r.Context()).WarnContext(r.Context(), "Write rejected by role gate",
					"method", r.Method,
					"path", r.URL.Path,
					"caller_roles", caller.Sorted())
				writeErrorBody(w, http.StatusForbidden, "forbidden", "caller lacks a role allowed to modify goals")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.LogError(r.Context(), "Readiness check failed", err, applog.ComponentHTTP, "ready", nil)
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
