// Package mqtt provides MQTT client connectivity for the GPIO bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the gpio health topic
//
// # Architecture
//
// The bridge publishes pin state changes and accepts pin commands over MQTT:
//
//	pigpio daemon ↔ GPIO bridge ↔ MQTT broker ↔ consumers
//
// # Topics
//
//	graylogic/state/gpio/{pin}    retained pin level
//	graylogic/command/gpio/{pin}  write / notify commands
//	graylogic/ack/gpio/{pin}      command acknowledgements
//	graylogic/health/gpio         periodic health, LWT
//
// # Security Considerations
//
//   - TLS should be enabled for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.PublishJSON(mqtt.Topics{}.PinState(17), state, true)
package mqtt
