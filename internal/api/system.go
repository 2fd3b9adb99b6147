package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-gpio/internal/bridge"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Timestamp     time.Time    `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Session       SessionStats `json:"session"`
	Bridge        BridgeStats  `json:"bridge"`
	WebSocket     WSStats      `json:"websocket"`
	Runtime       RuntimeStats `json:"runtime"`
}

// SessionStats is the JSON view of pigpio.SessionStats.
type SessionStats struct {
	Initialized      bool      `json:"initialized"`
	Connected        bool      `json:"connected"`
	DaemonVersion    int       `json:"daemon_version"`
	Connects         uint64    `json:"connects"`
	OpenHandles      int       `json:"open_handles"`
	PacketsTx        uint64    `json:"packets_tx"`
	PacketsRx        uint64    `json:"packets_rx"`
	ErrorsTotal      uint64    `json:"errors_total"`
	LastActivity     time.Time `json:"last_activity,omitzero"`
	NotifyActive     bool      `json:"notify_active"`
	NotifyPins       []int     `json:"notify_pins"`
	NotifyHandle     int       `json:"notify_handle"`
	ReportsRx        uint64    `json:"reports_rx"`
	EventsDispatched uint64    `json:"events_dispatched"`
	EventsDropped    uint64    `json:"events_dropped"`
	MonitorErrors    uint64    `json:"monitor_errors"`
	LastReport       time.Time `json:"last_report,omitzero"`
}

// BridgeStats is the JSON view of bridge.Stats.
type BridgeStats struct {
	EventsForwarded uint64 `json:"events_forwarded"`
	CommandsHandled uint64 `json:"commands_handled"`
	CommandsFailed  uint64 `json:"commands_failed"`
	SinkErrors      uint64 `json:"sink_errors"`
}

// WSStats contains WebSocket hub metrics.
type WSStats struct {
	ConnectedClients int `json:"connected_clients"`
}

// RuntimeStats contains Go runtime metrics.
type RuntimeStats struct {
	Goroutines  int    `json:"goroutines"`
	HeapAllocMB uint64 `json:"heap_alloc_mb"`
	NumGC       uint32 `json:"num_gc"`
}

func newSessionStats(s pigpio.SessionStats) SessionStats {
	return SessionStats{
		Initialized:      s.Initialized,
		Connected:        s.Connected,
		DaemonVersion:    s.Version,
		Connects:         s.Connects,
		OpenHandles:      s.OpenHandles,
		PacketsTx:        s.Sender.PacketsTx,
		PacketsRx:        s.Sender.PacketsRx,
		ErrorsTotal:      s.Sender.ErrorsTotal,
		LastActivity:     s.Sender.LastActivity,
		NotifyActive:     s.Monitor.Active,
		NotifyPins:       bridge.MaskPins(s.Monitor.Mask),
		NotifyHandle:     s.Monitor.Handle,
		ReportsRx:        s.Monitor.ReportsRx,
		EventsDispatched: s.Monitor.EventsDispatched,
		EventsDropped:    s.Monitor.EventsDropped,
		MonitorErrors:    s.Monitor.ErrorsTotal,
		LastReport:       s.Monitor.LastReport,
	}
}

// handleHealth returns the bridge health. Degraded bridges answer 503 so
// load balancers and container probes can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.gpio.Health()

	status := http.StatusOK
	if health.Status != bridge.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// handleStats returns session, bridge and runtime counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	b := s.gpio.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Session:       newSessionStats(s.session.Stats()),
		Bridge: BridgeStats{
			EventsForwarded: b.EventsForwarded,
			CommandsHandled: b.CommandsHandled,
			CommandsFailed:  b.CommandsFailed,
			SinkErrors:      b.SinkErrors,
		},
		WebSocket: WSStats{ConnectedClients: s.hub.ClientCount()},
		Runtime: RuntimeStats{
			Goroutines:  runtime.NumGoroutine(),
			HeapAllocMB: mem.HeapAlloc / (1 << 20),
			NumGC:       mem.NumGC,
		},
	})
}

// handleVersion reports bridge, daemon and board versions.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"bridge": s.version,
		"daemon": s.session.Stats().Version,
	}

	hw, err := s.session.HardwareRevision(r.Context())
	if err != nil {
		writeGPIOError(w, err)
		return
	}
	resp["hardware_revision"] = hw

	writeJSON(w, http.StatusOK, resp)
}
