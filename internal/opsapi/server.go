// Package opsapi exposes the engine's operational surface: health, metrics
// and manual invocation of the reaper and rehydration passes. It is an
// internal listener, not the public cart API.
package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/orderflow/stockhold/internal/metrics"
	"github.com/orderflow/stockhold/internal/reaper"
	"github.com/orderflow/stockhold/internal/rehydrate"
	"github.com/orderflow/stockhold/internal/system"
	"github.com/orderflow/stockhold/pkg/logger"
)

// Pinger reports connectivity of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the operational endpoints.
type Server struct {
	log     *logger.Logger
	reaper  *reaper.Reaper
	rehydra *rehydrate.Job
	pingers map[string]Pinger
	httpSrv *http.Server
}

var _ system.Service = (*Server)(nil)

// New creates a server listening on addr. pingers maps a component name to
// its connectivity check for /healthz.
func New(addr string, r *reaper.Reaper, job *rehydrate.Job, pingers map[string]Pinger, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("opsapi")
	}
	s := &Server{log: log, reaper: r, rehydra: job, pingers: pingers}

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ops/reap", s.handleReap).Methods(http.MethodPost)
	router.HandleFunc("/ops/rehydrate", s.handleRehydrate).Methods(http.MethodPost)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // manual rehydration can be slow
	}
	return s
}

func (s *Server) Name() string { return "opsapi" }

func (s *Server) Start(_ context.Context) error {
	go func() {
		s.log.WithField("addr", s.httpSrv.Addr).Info("ops listener started")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("ops listener failed")
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.pingers))
	for name, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}
	writeJSON(w, status, checks)
}

func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	report, err := s.reaper.RunOnce(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("manual reap failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRehydrate(w http.ResponseWriter, r *http.Request) {
	report, err := s.rehydra.RunOnce(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("manual rehydration failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
