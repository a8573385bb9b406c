// cmd/orchestrator/server.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/queue"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Triggers are the scheduler entry points exposed for manual runs.
type Triggers interface {
	TriggerScan(ctx context.Context) (queue.EnqueueResult, error)
	TriggerStageCheck(ctx context.Context) (queue.EnqueueResult, error)
}

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type opsServer struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          logger.Logger
}

func newOpsServer(addr string, shutdownTimeout time.Duration, triggers Triggers, checks map[string]Check, log logger.Logger) *opsServer {
	return &opsServer{
		srv:             &http.Server{Addr: addr, Handler: newRouter(triggers, checks, log), ReadHeaderTimeout: 5 * time.Second},
		shutdownTimeout: shutdownTimeout,
		logger:          log.WithFields(map[string]interface{}{"component": "ops_server"}),
	}
}

func newRouter(triggers Triggers, checks map[string]Check, log logger.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID, chiMiddleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	router.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		writeJSON(w, code, status)
	})

	router.Handle("/metrics", promhttp.Handler())

	router.Route("/triggers", func(r chi.Router) {
		r.Post("/periodic-scan", triggerHandler(triggers.TriggerScan, log))
		r.Post("/stage-check", triggerHandler(triggers.TriggerStageCheck, log))
	})

	return router
}

func triggerHandler(trigger func(context.Context) (queue.EnqueueResult, error), log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := trigger(r.Context())
		if err != nil {
			log.Error("manual trigger failed", map[string]interface{}{"path": r.URL.Path, "error": err.Error()})
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		code := http.StatusAccepted
		if res.Duplicate {
			code = http.StatusOK
		}
		writeJSON(w, code, map[string]interface{}{"jobId": res.JobID, "duplicate": res.Duplicate})
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *opsServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", map[string]interface{}{"address": s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.srv.SetKeepAlivesEnabled(false)
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("ops server stopped", nil)
	return nil
}
