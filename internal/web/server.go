package web

import (
	"context"
	"net/http"
	"time"

	"github.com/darkace1998/PostureLens/internal/assessment"
	"github.com/darkace1998/PostureLens/internal/config"
	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/scheduler"
)

// Server is the HTTP query API for PostureLens.
type Server struct {
	cfg   config.WebConfig
	svc   *assessment.Service
	sched *scheduler.Scheduler
	mux   *http.ServeMux
	srv   *http.Server
	log   *logging.Logger

	// About info
	fullCfg   config.Config
	version   string
	startTime time.Time
}

// NewServer creates a new API server. sched may be nil when periodic
// assessments are disabled.
func NewServer(cfg config.WebConfig, svc *assessment.Service, sched *scheduler.Scheduler) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		sched:     sched,
		mux:       http.NewServeMux(),
		log:       logging.Default().Named("web"),
		startTime: time.Now(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/about", s.handleAbout)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/tenants", s.handleTenants)
	s.mux.HandleFunc("GET /api/tenants/{tenant}/manifests", s.handleHistory)
	s.mux.HandleFunc("GET /api/tenants/{tenant}/manifests/latest", s.handleLatest)
	s.mux.HandleFunc("GET /api/tenants/{tenant}/manifests/{id}", s.handleManifest)
	s.mux.HandleFunc("GET /api/tenants/{tenant}/compare", s.handleCompare)
	s.mux.HandleFunc("POST /api/tenants/{tenant}/assessments", s.handleAssess)

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start begins listening and serving HTTP requests. It blocks until the server
// is shut down or encounters a fatal error.
func (s *Server) Start() error {
	s.log.Info("Web server listening on %s", s.cfg.Listen)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the web server, waiting for in-flight requests
// until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// SetAboutInfo configures the information reported by /api/about.
func (s *Server) SetAboutInfo(cfg config.Config, version string, startTime time.Time) {
	s.fullCfg = cfg
	s.version = version
	s.startTime = startTime
}

// Mux returns the underlying ServeMux for testing purposes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}
