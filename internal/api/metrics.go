package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/lumen-core/internal/bridges/yeelight"
	"github.com/nerrad567/lumen-core/internal/infrastructure/influxdb"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                    `json:"timestamp"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Runtime       RuntimeMetrics            `json:"runtime"`
	WebSocket     WSMetrics                 `json:"websocket"`
	MQTT          MQTTMetrics               `json:"mqtt"`
	History       HistoryMetrics            `json:"history"`
	Bridge        yeelight.BridgeStatistics `json:"bridge"`
	Lights        LightMetrics              `json:"lights"`
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
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled    bool   `json:"enabled"`
	Connected  bool   `json:"connected"`
	Reconnects uint64 `json:"reconnects"`
}

// HistoryMetrics contains InfluxDB write statistics.
type HistoryMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
	influxdb.Stats
}

// LightMetrics counts lights by connection state.
type LightMetrics struct {
	Total        int            `json:"total"`
	ByConnection map[string]int `json:"by_connection"`
}

// handleMetrics returns runtime, transport and light statistics.
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
		Bridge: s.lights.Statistics(),
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
		metrics.WebSocket.DroppedEvents = s.hub.Dropped()
	}
	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Enabled:    true,
			Connected:  s.mqtt.IsConnected(),
			Reconnects: s.mqtt.Reconnects(),
		}
	}

	if s.history != nil {
		metrics.History = HistoryMetrics{
			Enabled:   true,
			Connected: s.history.IsConnected(),
			Stats:     s.history.Stats(),
		}
	}

	lights := s.lights.Lights()
	metrics.Lights = LightMetrics{
		Total:        len(lights),
		ByConnection: make(map[string]int),
	}
	for _, l := range lights {
		metrics.Lights.ByConnection[l.Connection]++
	}

	writeJSON(w, http.StatusOK, metrics)
}
