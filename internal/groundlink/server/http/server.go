package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/groundlink/internal/groundlink/core"
	"github.com/autopeer-io/groundlink/internal/groundlink/paramstore"
	"github.com/autopeer-io/groundlink/internal/pkg/metrics"
	"github.com/autopeer-io/groundlink/pkg/log"
	"github.com/autopeer-io/groundlink/pkg/options"
)

const shutdownTimeout = 5 * time.Second

// ArchiveIndex reports the newest archived object.
type ArchiveIndex interface {
	LastKey() string
}

// Deps are the services behind the API. Store, Archive and Index may be nil.
type Deps struct {
	LinkID  string
	Link    core.Link
	Store   paramstore.Store
	Archive paramstore.Archive
	Index   ArchiveIndex
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	deps    Deps
	logger  log.Logger
}

func NewServer(opts *options.HttpOptions, deps Deps, logger log.Logger) *Server {
	s := &Server{
		options: opts,
		deps:    deps,
		logger:  log.OrStd(logger).WithName("http"),
	}
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.routes(),
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

func (s *Server) Name() string { return "http" }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/parameters", s.handleParameters).Methods(http.MethodGet)
	v1.HandleFunc("/parameters/snapshots", s.handleListSnapshots).Methods(http.MethodGet)
	v1.HandleFunc("/parameters/snapshots/{id:[0-9]+}", s.handleGetSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/parameters/archive", s.handleArchiveURL).Methods(http.MethodGet)
	v1.HandleFunc("/commands", s.handleSubmitCommand).Methods(http.MethodPost)

	req := v1.PathPrefix("/requests").Subrouter()
	req.HandleFunc("/autopilot-info", s.handleAutopilotInfo).Methods(http.MethodPost)
	req.HandleFunc("/datastream", s.handleDataStream).Methods(http.MethodPost)
	req.HandleFunc("/mission-list", s.handleMissionList).Methods(http.MethodPost)
	req.HandleFunc("/mission-items", s.handleMissionItems).Methods(http.MethodPost)
	req.HandleFunc("/mission-ack", s.handleMissionAck).Methods(http.MethodPost)

	r.Use(s.logRequests)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}

	s.logger.Info("Starting HTTP Server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
