// Package influxdb provides InfluxDB connectivity for the GPIO bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, metric writing, and health monitoring.
//
// # Purpose
//
// This package stores time-series data for:
//   - GPIO level changes (measurement gpio_level, tagged by pin)
//   - Bridge exchange counters (measurement gpio_bridge)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePinLevel(influxdb.PinSample{Pin: 17, Level: 1})
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
