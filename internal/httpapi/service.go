// Package httpapi exposes the operational HTTP surface: engine status, task
// control, run history, and Prometheus metrics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"paperbase/internal/metrics"
	"paperbase/internal/storage"
	"paperbase/internal/task/engine"
	logx "paperbase/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Token   string // optional bearer token; empty means no auth
}

type Service struct {
	cfg     Config
	log     logx.Logger
	engine  *engine.Service
	store   storage.Store
	metrics *metrics.Set

	srv *http.Server
}

func New(cfg Config, eng *engine.Service, store storage.Store, m *metrics.Set, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, engine: eng, store: store, metrics: m}
}

// Start binds the listener and serves in the background. Disabled config is a
// clean no-op.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8377"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.srv = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api serve failed", logx.Err(err))
		}
	}()
	s.log.Info("http api listening",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("auth", s.cfg.Token != ""))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	return err
}

// Routes builds the router. Exposed for tests.
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth)

		r.Get("/status", s.handleStatus)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{name}", s.handleTask)
		r.Post("/tasks/{name}/trigger", s.handleTrigger)
		r.Post("/tasks/{name}/enable", s.handleEnable)
		r.Post("/tasks/{name}/disable", s.handleDisable)
		r.Get("/runs", s.handleRuns)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	})
	return r
}

func (s *Service) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Service) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListTasks())
}

func (s *Service) handleTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := s.engine.TaskInfo(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown task: "+name)
		return
	}

	resp := map[string]any{"task": info}
	if s.store != nil {
		if runs, err := s.store.RecentRuns(r.Context(), name, 10); err == nil {
			resp["recent_runs"] = runs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	switch err := s.engine.TriggerTask(name); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"task": name, "result": "triggered"})
	case errors.Is(err, engine.ErrUnknownTask):
		writeError(w, http.StatusNotFound, "unknown task: "+name)
	case errors.Is(err, engine.ErrTriggerRefused):
		writeError(w, http.StatusConflict, "task run in flight")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Service) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Service) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Service) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := chi.URLParam(r, "name")
	var err error
	if enabled {
		err = s.engine.EnableTask(name)
	} else {
		err = s.engine.DisableTask(name)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown task: "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": name, "enabled": enabled})
}

func (s *Service) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history storage is disabled")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.store.RecentRuns(r.Context(), r.URL.Query().Get("task"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
