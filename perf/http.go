package perf

import (
	"encoding/json"
	"net/http"
	"time"
)

// HTTPMetrics returns the metrics snapshot over HTTP as JSON
func (m *Monitor) HTTPMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(m.Metrics())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type latencyPayload struct {
	Latency *[]float64   `json:"latency_s"`
	Time    *[]time.Time `json:"timestamp"`
}

// HTTPLatencies returns the rolling latency and timestamp rings over HTTP
func (m *Monitor) HTTPLatencies(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	lat := m.lat.Contiguous()
	times := m.times.Contiguous()
	m.mu.Unlock()
	s := latencyPayload{
		Latency: &lat,
		Time:    &times}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTPConstraints returns an HTTP handler serving the constraint report
func (m *Monitor) HTTPConstraints(c Constraints) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(m.Validate(c))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// HTTPAlerts returns the retained alerts over HTTP as JSON
func (w2 *Watch) HTTPAlerts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(w2.Alerts())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
