// Package api exposes edit sessions over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"asyncedit/internal/audit"
	"asyncedit/internal/model"
	"asyncedit/internal/preference"
	"asyncedit/internal/session"
)

// ChangeLog lists audited changes.
type ChangeLog interface {
	Recent(ctx context.Context, actor model.ActorID, limit int) ([]audit.Record, error)
}

type Options struct {
	// Preferences enables the actor preference endpoints when set.
	Preferences preference.Store
	// Changes enables the audit endpoint when set.
	Changes ChangeLog
	Logger  *slog.Logger
}

type Server struct {
	sessions *session.Manager
	prefs    preference.Store
	changes  ChangeLog
	logger   *slog.Logger
	validate *validator.Validate
}

// NewServer routes the session endpoints, a health check and /metrics.
func NewServer(sessions *session.Manager, opts Options) http.Handler {
	s := &Server{
		sessions: sessions,
		prefs:    opts.Preferences,
		changes:  opts.Changes,
		logger:   opts.Logger,
		validate: validator.New(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.closeSession)
			r.Put("/async-forced", s.setAsyncForced)
			r.Post("/async-reset", s.resetAsync)
			r.Put("/limit", s.setLimit)
			r.Post("/checks/{operation}", s.checkOperation)
			r.Post("/flush", s.flush)
			r.Post("/fill", s.fill)
			r.Put("/blocks/{x}/{y}/{z}", s.putBlock)
			r.Get("/blocks/{x}/{y}/{z}", s.getBlock)
		})
	})
	r.Route("/actors/{actor}", func(r chi.Router) {
		r.Get("/preference", s.getPreference)
		r.Put("/preference", s.putPreference)
		r.Delete("/preference", s.deletePreference)
		r.Get("/changes", s.listChanges)
	})
	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Debug("request",
			"method", r.Method, "route", route, "status", status,
			"duration", elapsed, "request_id", middleware.GetReqID(r.Context()))
	})
}
