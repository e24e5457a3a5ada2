package recovery

import (
	"encoding/json"
	"net/http"
)

// HTTPStats returns the statistics snapshot over HTTP as JSON
func (m *Manager) HTTPStats(w http.ResponseWriter, r *http.Request) {
	s := m.Stats()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTPHealth returns 200 when the system is healthy and 503 otherwise,
// with the boolean as JSON either way
func (m *Manager) HTTPHealth(w http.ResponseWriter, r *http.Request) {
	healthy := m.Healthy()
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]bool{"healthy": healthy})
}
