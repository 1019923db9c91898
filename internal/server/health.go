package server

import (
	"net/http"
	"sync/atomic"
	"time"
)

// handleHealth summarizes the relay state: store counters, live client
// count and the rolling ingest rate.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}

	stats := s.st.GetStats()
	clients := s.gw.ListClients()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"status":         "ok",
		"server":         "relay",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"log_count":      stats.Count,
		"max_entries":    stats.MaxEntries,
		"appended":       stats.Appended,
		"evicted":        stats.Evicted,
		"level_counts":   stats.LevelCounts,
		"client_count":   len(clients),
		"ingest_rate":    atomic.LoadInt64(&s.ingestRate),
	})
}
