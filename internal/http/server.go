package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"coinvest/internal/core"
	applog "coinvest/internal/log"
	"coinvest/internal/ports"
	"coinvest/internal/services"
)

// SpendingAPI is the engine surface the handlers call.
type SpendingAPI interface {
	CreateSpending(ctx context.Context, actorID string, in core.NewSpending) (core.SpendingView, error)
	CastVote(ctx context.Context, actorID, spendingID, voterID string, d core.Decision) (core.SpendingView, error)
	ListSpendings(ctx context.Context, actorID, projectID string, f services.ListFilter) ([]core.SpendingView, error)
	ProjectSummary(ctx context.Context, actorID, projectID string) (core.ProjectSummary, error)
	BulkSummaries(ctx context.Context, actorID string, projectIDs []string) ([]core.ProjectSummary, error)
	UserExpenses(ctx context.Context, actorID string, f ports.SpendingFilter) (services.UserExpenses, error)
	Analytics(ctx context.Context, actorID string, from, to core.Date) (services.Analytics, error)
	Notifications(ctx context.Context, actorID string, limit int) ([]ports.Notification, error)
	Reconcile(ctx context.Context, actorID, projectID string) (int, error)
}

// Options tune the server. Zero values pick defaults.
type Options struct {
	Logger *applog.Logger
	// WritesPerMinute caps POST requests per client IP (default: 60)
	WritesPerMinute int
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
	Now   func() time.Time
}

// Server wraps http.Server with the API routes and its middleware state.
type Server struct {
	http.Server

	api         SpendingAPI
	log         *applog.Logger
	ready       func(ctx context.Context) error
	now         func() time.Time
	rateLimiter *rateLimiter
	metrics     securityMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run server.
func NewServer(addr string, api SpendingAPI, opts Options) *Server {
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		api:         api,
		log:         opts.Logger,
		ready:       opts.Ready,
		now:         opts.Now,
		rateLimiter: newRateLimiter(opts.WritesPerMinute),
	}
	if s.log == nil {
		s.log = applog.New(applog.DefaultConfig())
	}
	s.log = s.log.WithComponent(applog.ComponentHTTP)
	if s.now == nil {
		s.now = time.Now
	}
	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(applog.Middleware(s.log))
	r.Use(applog.RequestIDMiddleware(func(r *http.Request) string {
		return chimiddleware.GetReqID(r.Context())
	}))
	r.Use(applog.AccessLog(extractClientIP))
	r.Use(s.securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(requireActor)

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Post("/spendings", s.handleCreateSpending)
			r.Get("/spendings", s.handleListSpendings)
			r.Get("/summary", s.handleProjectSummary)
			r.Get("/export.csv", s.handleExportCSV)
			r.Post("/reconcile", s.handleReconcile)
		})
		r.Post("/spendings/{spendingID}/votes", s.handleCastVote)
		r.Get("/summaries", s.handleBulkSummaries)
		r.Get("/analytics", s.handleAnalytics)
		r.Get("/me/expenses", s.handleUserExpenses)
		r.Get("/me/notifications", s.handleNotifications)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusNotFound, "not_found", "no such route").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed").Write(w)
	})
	return r
}

// requireActor rejects requests that carry no actor id.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorID(r) == "" {
			UnauthorizedError("missing " + ActorHeader + " header").Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops the rate limiter and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
