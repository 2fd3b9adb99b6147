package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes. Bridge topics use the flat scheme
// graylogic/{category}/{protocol}/{address}.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"

	// ProtocolGPIO is the protocol segment used by the GPIO bridge.
	ProtocolGPIO = "gpio"
)

// Topics provides builders for MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.PinState(17)
//	// Returns: "graylogic/state/gpio/17"
type Topics struct{}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeState returns the topic for state updates from a bridge.
//
// Example: graylogic/state/gpio/17
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graylogic/command/gpio/17
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graylogic/ack/gpio/17
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/gpio
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// =============================================================================
// GPIO Topics
// =============================================================================

// PinState returns the retained state topic for a GPIO pin.
func (t Topics) PinState(pin int) string {
	return t.BridgeState(ProtocolGPIO, strconv.Itoa(pin))
}

// PinCommand returns the command topic for a GPIO pin.
func (t Topics) PinCommand(pin int) string {
	return t.BridgeCommand(ProtocolGPIO, strconv.Itoa(pin))
}

// PinAck returns the acknowledgement topic for a GPIO pin.
func (t Topics) PinAck(pin int) string {
	return t.BridgeAck(ProtocolGPIO, strconv.Itoa(pin))
}

// AllPinCommands returns a pattern matching commands for every pin.
//
// Pattern: graylogic/command/gpio/+
func (t Topics) AllPinCommands() string {
	return t.BridgeCommand(ProtocolGPIO, "+")
}

// ParsePinTopic extracts the pin number from a gpio topic such as
// graylogic/command/gpio/17.
func ParsePinTopic(topic string) (int, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefixBridge || parts[2] != ProtocolGPIO {
		return 0, fmt.Errorf("%w: %q is not a gpio topic", ErrInvalidTopic, topic)
	}
	pin, err := strconv.Atoi(parts[3])
	if err != nil {
		return 0, fmt.Errorf("%w: %q has no pin number", ErrInvalidTopic, topic)
	}
	return pin, nil
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
