package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/web/handlers"
	"github.com/kozaktomas/face-finder/internal/web/middleware"
)

const (
	// uploadReadTimeout bounds reading a whole request, uploads included.
	uploadReadTimeout = 10 * time.Minute
	// responseSlack is added to the analysis timeout for writing the response.
	responseSlack = time.Minute
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	Runner   handlers.Runner
	Models   handlers.ModelStatus
	Detector handlers.ReferenceDetector
	Runs     database.RunWriter // nil disables run history
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	jobManager *handlers.JobManager

	// cancelBase aborts the context every request derives from
	cancelBase context.CancelFunc
	drained    chan struct{}
	drainOnce  sync.Once
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps) *Server {
	r := chi.NewRouter()
	baseCtx, cancelBase := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		deps:       deps,
		router:     r,
		jobManager: handlers.NewJobManager(constants.MaxConcurrentJobs),
		cancelBase: cancelBase,
		drained:    make(chan struct{}),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       uploadReadTimeout,
		WriteTimeout:      cfg.Analysis.Timeout + responseSlack + uploadReadTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return s
}

// requestTimeout bounds a synchronous request: the upload plus one analysis.
func (s *Server) requestTimeout() time.Duration {
	return s.config.Analysis.Timeout + responseSlack
}

// Start listens on the configured address and serves until Shutdown has
// finished draining.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln. After Shutdown it returns only once in-flight requests
// and background jobs are done, so their working directories are gone.
func (s *Server) Serve(ln net.Listener) error {
	log.Printf("Starting web server on %s", ln.Addr())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	<-s.drained
	return nil
}

// Shutdown cancels running analyses and waits for their handlers and jobs
// to return, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.drainOnce.Do(func() { close(s.drained) })
	log.Println("Shutting down web server...")

	s.jobManager.CancelAll()
	s.cancelBase()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down server: %w", err))
	}
	if err := s.jobManager.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for jobs: %w", err))
	}
	return errors.Join(errs...)
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
