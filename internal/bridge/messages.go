package bridge

import (
	"time"

	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

// Command actions accepted on graylogic/command/gpio/{pin}.
const (
	ActionWrite  = "write"
	ActionRead   = "read"
	ActionNotify = "notify"
)

// Sources of a published state message.
const (
	SourceNotification = "notification"
	SourceWatchdog     = "watchdog"
	SourceCommand      = "command"
	SourceRead         = "read"
)

// CommandMessage is sent to the bridge to act on one pin.
// Topic: graylogic/command/gpio/{pin}
//
// Examples:
//
//	{"id":"c1","action":"write","level":1}
//	{"id":"c2","action":"notify","enabled":true}
//	{"id":"c3","action":"read"}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Action is one of write, read, notify.
	Action string `json:"action"`

	// Level is required for write: 0 or 1.
	Level *int `json:"level,omitempty"`

	// Enabled is required for notify.
	Enabled *bool `json:"enabled,omitempty"`

	// Source indicates where the command originated ("api", "automation").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was carried out by the daemon.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDaemonUnreachable = "DAEMON_UNREACHABLE"
	ErrCodeDaemonError       = "DAEMON_ERROR"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/gpio/{pin}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Pin       int       `json:"pin"`
	Action    string    `json:"action"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Level is the pin level after a successful read or write.
	Level *int `json:"level,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// DaemonCode is the negative status returned by the daemon, if any.
	DaemonCode int `json:"daemon_code,omitempty"`
}

// NewAckMessage builds a successful acknowledgement.
func NewAckMessage(cmd CommandMessage, pin int, level *int) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Pin:       pin,
		Action:    cmd.Action,
		Status:    AckAccepted,
		Protocol:  mqtt.ProtocolGPIO,
		Level:     level,
	}
}

// NewAckError builds a failed acknowledgement.
func NewAckError(cmd CommandMessage, pin int, code, message string, daemonCode int) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Pin:       pin,
		Action:    cmd.Action,
		Status:    AckFailed,
		Protocol:  mqtt.ProtocolGPIO,
		Error: &AckError{
			Code:       code,
			Message:    message,
			DaemonCode: daemonCode,
		},
	}
}

// StateMessage reports the level of one pin.
// Topic: graylogic/state/gpio/{pin}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Pin       int       `json:"pin"`
	Level     int       `json:"level"`
	Watchdog  bool      `json:"watchdog,omitempty"`
	Sequence  uint16    `json:"sequence,omitempty"`
	Tick      uint32    `json:"tick,omitempty"`
	Source    string    `json:"source"`
	Protocol  string    `json:"protocol"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPin lets WebSocket clients filter state events by GPIO.
func (m StateMessage) EventPin() int { return m.Pin }

// NewStateMessage converts a daemon report into a state message.
func NewStateMessage(ev pigpio.StateChangeEvent) StateMessage {
	source := SourceNotification
	if ev.Watchdog {
		source = SourceWatchdog
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return StateMessage{
		Pin:       ev.Pin,
		Level:     int(ev.Level),
		Watchdog:  ev.Watchdog,
		Sequence:  ev.Sequence,
		Tick:      ev.Tick,
		Source:    source,
		Protocol:  mqtt.ProtocolGPIO,
		Timestamp: ts.UTC(),
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
	HealthOffline  HealthStatus = "offline"
)

// HealthMessage is published periodically.
// Topic: graylogic/health/gpio
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string        `json:"bridge"`
	Status        HealthStatus  `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	Version       string        `json:"version,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Daemon        *DaemonHealth `json:"daemon,omitempty"`
}

// DaemonHealth summarises the session with the pigpio daemon.
type DaemonHealth struct {
	Connected     bool   `json:"connected"`
	Version       int    `json:"version,omitempty"`
	Connects      uint64 `json:"connects"`
	PacketsTx     uint64 `json:"packets_tx"`
	PacketsRx     uint64 `json:"packets_rx"`
	Errors        uint64 `json:"errors"`
	NotifyPins    []int  `json:"notify_pins"`
	ReportsRx     uint64 `json:"reports_rx"`
	EventsDropped uint64 `json:"events_dropped"`
	OpenHandles   int    `json:"open_handles"`
}

// NewDaemonHealth extracts the health view of session stats.
func NewDaemonHealth(s pigpio.SessionStats) *DaemonHealth {
	return &DaemonHealth{
		Connected:     s.Connected,
		Version:       s.Version,
		Connects:      s.Connects,
		PacketsTx:     s.Sender.PacketsTx,
		PacketsRx:     s.Sender.PacketsRx,
		Errors:        s.Sender.ErrorsTotal + s.Monitor.ErrorsTotal,
		NotifyPins:    MaskPins(s.Monitor.Mask),
		ReportsRx:     s.Monitor.ReportsRx,
		EventsDropped: s.Monitor.EventsDropped,
		OpenHandles:   s.OpenHandles,
	}
}

// MaskPins lists the pins set in a bank 1 bitmask, lowest first.
func MaskPins(mask uint32) []int {
	pins := []int{}
	for pin := 0; pin <= pigpio.MaxUserGPIO; pin++ {
		if mask&(1<<uint(pin)) != 0 {
			pins = append(pins, pin)
		}
	}
	return pins
}
