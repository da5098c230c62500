package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/mqtt"
)

// SystemMetrics is the JSON summary served at /api/v1/metrics.
// Prometheus scrapes /metrics instead.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          *mqtt.Stats    `json:"mqtt,omitempty"`
	Monitors      MonitorMetrics `json:"monitors"`
	Devices       DeviceMetrics  `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MonitorMetrics counts monitored resources by presence state.
type MonitorMetrics struct {
	Total      int            `json:"total"`
	ByState    map[string]int `json:"by_state"`
	Requesters int            `json:"requesters"`
}

// DeviceMetrics counts tracked devices by presence state.
type DeviceMetrics struct {
	Total   int            `json:"total"`
	ByState map[string]int `json:"by_state"`
}

// handleMetrics returns a JSON system summary.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.bus != nil {
		stats := s.bus.Stats()
		metrics.MQTT = &stats
	}

	statuses := s.monitors.List()
	metrics.Monitors = MonitorMetrics{
		Total:   len(statuses),
		ByState: make(map[string]int),
	}
	for _, st := range statuses {
		metrics.Monitors.ByState[st.Presence.State.String()]++
		metrics.Monitors.Requesters += st.Presence.Requesters
	}

	devices := s.monitors.Devices()
	metrics.Devices = DeviceMetrics{
		Total:   len(devices),
		ByState: make(map[string]int),
	}
	for _, d := range devices {
		metrics.Devices.ByState[d.State.String()]++
	}

	writeJSON(w, http.StatusOK, metrics)
}
