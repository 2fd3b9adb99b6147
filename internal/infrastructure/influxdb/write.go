package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the GPIO bridge.
const (
	MeasurementPinLevel = "gpio_level"
	MeasurementBridge   = "gpio_bridge"
)

// PinSample is one observed GPIO level.
type PinSample struct {
	Pin      int
	Level    int
	Watchdog bool
	Tick     uint32
	Time     time.Time
}

// BridgeSample is a snapshot of the bridge's exchange counters.
type BridgeSample struct {
	PacketsTx      uint64
	PacketsRx      uint64
	Errors         uint64
	ReportsRx      uint64
	EventsDropped  uint64
	NotifyPinCount int
	Connected      bool
}

// WritePinLevel records a pin level change. The write is non-blocking; data
// is batched and sent asynchronously.
//
// Example:
//
//	client.WritePinLevel(influxdb.PinSample{Pin: 17, Level: 1, Time: ev.Time})
func (c *Client) WritePinLevel(s PinSample) {
	if !c.IsConnected() {
		return
	}

	source := "notification"
	if s.Watchdog {
		source = "watchdog"
	}
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	point := write.NewPoint(
		MeasurementPinLevel,
		map[string]string{
			"pin":    strconv.Itoa(s.Pin),
			"source": source,
		},
		map[string]interface{}{
			"level": s.Level,
			"tick":  int64(s.Tick),
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// WriteBridgeStats records the bridge's exchange counters.
func (c *Client) WriteBridgeStats(s BridgeSample) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementBridge,
		nil,
		map[string]interface{}{
			"packets_tx":     int64(s.PacketsTx),     //nolint:gosec // G115: counters stay well below MaxInt64
			"packets_rx":     int64(s.PacketsRx),     //nolint:gosec // G115: counters stay well below MaxInt64
			"errors":         int64(s.Errors),        //nolint:gosec // G115: counters stay well below MaxInt64
			"reports_rx":     int64(s.ReportsRx),     //nolint:gosec // G115: counters stay well below MaxInt64
			"events_dropped": int64(s.EventsDropped), //nolint:gosec // G115: counters stay well below MaxInt64
			"notify_pins":    s.NotifyPinCount,
			"connected":      s.Connected,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
