package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"
)

// healthCheckTimeout bounds each dependency check on /health.
const healthCheckTimeout = 3 * time.Second

// SystemStats is the response body for GET /api/v1/stats.
type SystemStats struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeStats   `json:"runtime"`
	Liveness      LivenessStats  `json:"liveness"`
	WebSocket     WebSocketStats `json:"websocket"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// LivenessStats summarises the tracker at the time of the request.
type LivenessStats struct {
	Tracked          int     `json:"tracked"`
	Online           int     `json:"online"`
	ThresholdSeconds float64 `json:"threshold_seconds"`
}

// WebSocketStats contains WebSocket hub statistics.
type WebSocketStats struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleStats returns runtime and liveness statistics.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	now := s.now()
	ids := s.tracker.DeviceIDs()
	online := 0
	for _, id := range ids {
		if s.tracker.IsOnline(id, now) {
			online++
		}
	}

	writeJSON(w, http.StatusOK, SystemStats{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Liveness: LivenessStats{
			Tracked:          len(ids),
			Online:           online,
			ThresholdSeconds: s.tracker.Threshold().Seconds(),
		},
		WebSocket: WebSocketStats{
			ConnectedClients: s.hub.ClientCount(),
		},
	})
}

// handleHealth reports service health and each registered dependency.
// Any failing dependency turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	status, code := "ok", http.StatusOK
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()

		if err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
