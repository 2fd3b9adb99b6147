// Package bridge connects a pigpio session to the rest of Gray Logic.
//
// The bridge translates in both directions:
//
//   - GPIO level changes reported by the daemon are published as retained
//     state messages on graylogic/state/gpio/{pin}, written to InfluxDB,
//     stored in the local history and broadcast to WebSocket clients.
//   - Commands received on graylogic/command/gpio/{pin} drive outputs or
//     toggle notifications, and are acknowledged on graylogic/ack/gpio/{pin}.
//
// A HealthReporter publishes bridge status to graylogic/health/gpio at a
// fixed interval. Every sink other than MQTT is optional.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use.
package bridge
