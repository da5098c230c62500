package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-presence/internal/presence"
)

// handleListDevices returns every host with at least one monitored resource
// and its device-level presence state. An optional ?state= query parameter
// filters by state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.monitors.Devices()

	if raw := r.URL.Query().Get("state"); raw != "" {
		want, err := presence.ParseState(raw)
		if err != nil {
			writeBadRequest(w, "invalid state filter: "+raw)
			return
		}
		filtered := make([]presence.DeviceInfo, 0, len(devices))
		for _, d := range devices {
			if d.State == want {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}
