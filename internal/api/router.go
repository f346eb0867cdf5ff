package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gpmonitor/internal/docs"
	"gpmonitor/internal/metrics"
	"gpmonitor/internal/platform"
)

// Options wires the router's dependencies
type Options struct {
	Controller Controller
	Audit      AuditReader
	Services   ServiceLookup
	Journal    platform.JournalFollower
	Docs       *docs.Service
	Metrics    *metrics.Metrics

	Token      string
	TrustProxy bool
	PerMinute  int
	Burst      int

	Version   string
	Mechanism string
}

// Router sets up the HTTP routes
type Router struct {
	handler  *Handler
	streamer *LogStreamer
	limiter  *rateLimiter
	mux      chi.Router
}

// NewRouter creates a new router with all API endpoints
func NewRouter(opts Options) *Router {
	r := &Router{
		handler:  NewHandler(opts.Controller, opts.Audit, opts.Docs, opts.Version, opts.Mechanism),
		streamer: NewLogStreamer(opts.Services, opts.Journal),
		limiter:  newRateLimiter(opts.PerMinute, opts.Burst),
		mux:      chi.NewRouter(),
	}

	r.setupRoutes(opts)
	return r
}

func (r *Router) setupRoutes(opts Options) {
	var observeHTTP func(string, int)
	var onLimit func()
	if opts.Metrics != nil {
		observeHTTP = opts.Metrics.ObserveHTTP
		onLimit = opts.Metrics.RateLimited
	}

	if opts.TrustProxy {
		r.mux.Use(middleware.RealIP)
	}
	r.mux.Use(requestID)
	r.mux.Use(accessLog(observeHTTP))
	r.mux.Use(middleware.Recoverer)

	r.mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		errorResponse(w, req, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.mux.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		errorResponse(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	// Public
	r.mux.Get("/health", r.handler.Health)
	if opts.Docs != nil {
		r.mux.Get("/docs", r.handler.Docs)
		r.mux.Get("/docs/{name}", r.handler.Docs)
	}

	// Authenticated
	r.mux.Group(func(g chi.Router) {
		g.Use(limitRate(r.limiter, onLimit))
		g.Use(bearerAuth(opts.Token))

		g.Route("/control", func(c chi.Router) {
			c.Get("/services/status", r.handler.ServicesStatus)

			// Queries may use GET; the controller rejects GET for mutating actions.
			c.Get("/service/{action}/{service}", r.handler.ServiceAction)
			c.Post("/service/{action}/{service}", r.handler.ServiceAction)

			c.Get("/logs/{service}", r.streamer.HandleLogStream)

			c.Get("/commands", r.handler.ListCommands)
			c.Get("/command/{name}", r.handler.RunCommand)
			c.Post("/command/{name}", r.handler.RunCommand)

			c.Post("/server/reboot", r.handler.ScheduleReboot)
			c.Delete("/server/reboot", r.handler.CancelReboot)

			c.Get("/audit", r.handler.Audit)
		})

		if opts.Metrics != nil {
			g.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
		}
	})
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
