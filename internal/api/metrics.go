package api

import "net/http"

// handleMetrics returns the current bus metrics snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.GetMetrics())
}

// handleResetMetrics zeroes all counters, rates and latency history.
// Installers reset between commissioning runs to get clean figures.
func (s *Server) handleResetMetrics(w http.ResponseWriter, _ *http.Request) {
	s.bus.ResetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}
