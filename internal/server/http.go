package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetwatch/beacond/internal/liveness"
)

// ComponentStatus is one dependency's health
type ComponentStatus struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
}

// HealthStatus is the /healthz body
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components"`
	Liveness   *liveness.Metrics          `json:"liveness,omitempty"`
}

// HTTPHandler returns the operator HTTP mux
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.deps.Hub != nil {
		mux.Handle("/events", s.deps.Hub)
	}
	if s.deps.Journal != nil {
		mux.HandleFunc("/events/recent", s.handleRecentEvents)
	}
	return mux
}

func check(ctx context.Context, ping func(context.Context) error) ComponentStatus {
	start := time.Now()
	err := ping(ctx)
	st := ComponentStatus{Status: "healthy", Latency: time.Since(start)}
	if err != nil {
		st.Status = "unhealthy"
		st.Message = err.Error()
	}
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	hs := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Components: map[string]ComponentStatus{
			"registry":  check(ctx, s.deps.Registry.Ping),
			"taskqueue": check(ctx, s.deps.Queue.Ping),
		},
	}
	for _, c := range hs.Components {
		if c.Status != "healthy" {
			hs.Status = "unhealthy"
		}
	}
	if s.deps.Evaluator != nil {
		m := s.deps.Evaluator.Metrics()
		hs.Liveness = &m
	}

	code := http.StatusOK
	if hs.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(hs)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := int64(100)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recent, err := s.deps.Journal.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recent)
}
