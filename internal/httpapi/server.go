// Package httpapi exposes the REST facade consumed by the dashboard
// pages: current dashboard payload plus paged reads over the persisted
// readings and device history.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lynguyen2516/iot/internal/model"
	"github.com/lynguyen2516/iot/internal/monitor"
	"github.com/lynguyen2516/iot/internal/store"
)

type Server struct {
	repo    *store.Repo
	cache   *store.StateCache
	monitor *monitor.Monitor
	ws      http.Handler
}

func NewServer(repo *store.Repo, cache *store.StateCache, mon *monitor.Monitor, ws http.Handler) *Server {
	return &Server{repo: repo, cache: cache, monitor: mon, ws: ws}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/dashboard_data", s.handleDashboardData)
	r.Get("/api/sensor_data", s.handleSensorData)
	r.Get("/api/device_history", s.handleDeviceHistory)
	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}
	return r
}

type dashboardResponse struct {
	LatestSensor json.RawMessage               `json:"latestSensor"`
	ChartData    []store.SensorReading         `json:"chartData"`
	Devices      map[model.Device]model.Status `json:"devices"`
	ESP32Online  bool                          `json:"esp32Online"`
}

func (s *Server) handleDashboardData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	latest := json.RawMessage(`{}`)
	if cached, err := s.cache.LatestReading(ctx); err == nil && len(cached) > 0 {
		latest = cached
	} else {
		if err != nil {
			slog.Debug("latest reading cache read failed", "error", err)
		}
		p, err := s.repo.LatestReading(ctx)
		if err != nil {
			slog.Error("latest reading query failed", "error", err)
			http.Error(w, "could not load dashboard data", http.StatusInternalServerError)
			return
		}
		if p != nil {
			if b, err := json.Marshal(p); err == nil {
				latest = b
			}
		}
	}

	chart, err := s.repo.RecentReadings(ctx, 20)
	if err != nil {
		slog.Error("chart data query failed", "error", err)
		http.Error(w, "could not load dashboard data", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		LatestSensor: latest,
		ChartData:    chart,
		Devices:      s.monitor.Snapshot(),
		ESP32Online:  s.monitor.Online(),
	})
}

func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListReadingsOpts{
		Page:      intParam(q.Get("page"), 1),
		Limit:     intParam(q.Get("limit"), 10),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}
	var err error
	if opts.From, err = timeParam(q.Get("from")); err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	if opts.To, err = timeParam(q.Get("to")); err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	page, err := s.repo.ListReadings(r.Context(), opts)
	if err != nil {
		slog.Error("sensor data query failed", "error", err)
		http.Error(w, "could not query sensor data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListEventsOpts{
		Page:      intParam(q.Get("page"), 1),
		Limit:     intParam(q.Get("limit"), 10),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}

	if v := strings.TrimSpace(q.Get("device")); v != "" {
		d := model.Device(v)
		if !d.Valid() {
			http.Error(w, "invalid device", http.StatusBadRequest)
			return
		}
		opts.Device = d
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		st, ok := model.ParseStatus(v)
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		opts.Status = st
	}
	var err error
	if opts.From, err = timeParam(q.Get("from")); err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	if opts.To, err = timeParam(q.Get("to")); err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	page, err := s.repo.ListDeviceEvents(r.Context(), opts)
	if err != nil {
		slog.Error("device history query failed", "error", err)
		http.Error(w, "could not query device history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(v string, def int) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func timeParam(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
