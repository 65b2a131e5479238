package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/crm-insights/internal/dashboard"
	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/reconcile"
)

// now is swapped in tests.
var now = time.Now

// newRouter serves the dashboard API. gatherer may be nil to skip /metrics.
func newRouter(svc *dashboard.Service, gatherer prometheus.Gatherer, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", func(w http.ResponseWriter, req *http.Request) {
			c, err := criteriaFromQuery(req.URL.Query())
			if err != nil {
				writeError(w, http.StatusBadRequest, err, false)
				return
			}
			view, err := svc.Load(req.Context(), c)
			if err != nil {
				if dashboard.IsFetchError(err) {
					writeError(w, http.StatusBadGateway, err, true)
					return
				}
				writeError(w, http.StatusInternalServerError, err, false)
				return
			}
			writeJSON(w, http.StatusOK, view)
		})

		r.Post("/reconcile/scan", func(w http.ResponseWriter, _ *http.Request) {
			err := svc.Rescan()
			switch {
			case errors.Is(err, reconcile.ErrScanInProgress):
				writeJSON(w, http.StatusConflict, map[string]any{"status": "scanning", "progress": svc.Progress()})
			case errors.Is(err, dashboard.ErrNoWindow):
				writeError(w, http.StatusConflict, err, false)
			case err != nil:
				writeError(w, http.StatusInternalServerError, err, false)
			default:
				writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "progress": svc.Progress()})
			}
		})

		r.Post("/refresh", func(w http.ResponseWriter, req *http.Request) {
			err := svc.Refresh(req.Context())
			switch {
			case errors.Is(err, dashboard.ErrNoWindow):
				writeError(w, http.StatusConflict, err, false)
			case dashboard.IsFetchError(err):
				writeError(w, http.StatusBadGateway, err, true)
			case err != nil:
				writeError(w, http.StatusInternalServerError, err, false)
			default:
				win, _ := svc.Window()
				writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed", "window": win})
			}
		})

		r.Get("/reconcile/records", func(w http.ResponseWriter, _ *http.Request) {
			win, ok := svc.Window()
			records, err := svc.Records()
			if !ok || err != nil {
				writeError(w, http.StatusConflict, dashboard.ErrNoWindow, false)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"window": win, "records": records})
		})

		r.Get("/reconcile/progress", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"scanning": svc.Scanning(), "progress": svc.Progress()})
		})

		r.Get("/goals", func(w http.ResponseWriter, req *http.Request) {
			goals, err := svc.Goals(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err, false)
				return
			}
			writeJSON(w, http.StatusOK, goals)
		})

		r.Put("/goals", func(w http.ResponseWriter, req *http.Request) {
			var goals model.DemandGoals
			if err := json.NewDecoder(req.Body).Decode(&goals); err != nil {
				writeError(w, http.StatusBadRequest, errors.New("invalid request body"), false)
				return
			}
			if err := svc.SaveGoals(req.Context(), goals); err != nil {
				if errors.Is(err, dashboard.ErrInvalidGoals) {
					writeError(w, http.StatusBadRequest, err, false)
					return
				}
				writeError(w, http.StatusInternalServerError, err, false)
				return
			}
			saved, err := svc.Goals(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err, false)
				return
			}
			writeJSON(w, http.StatusOK, saved)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, retryable bool) {
	writeJSON(w, status, map[string]any{"error": err.Error(), "retryable": retryable})
}
