package pigpio

import (
	"errors"
	"fmt"
)

// Domain errors for the pigpio client package.
var (
	// ErrMalformedFrame is returned when a decoded header and its extension
	// disagree (negative or unsatisfiable length, truncated payload).
	ErrMalformedFrame = errors.New("pigpio: malformed frame")

	// ErrTransport is returned when connecting to, writing to or reading
	// from the daemon fails. The transport has been terminated when this
	// is returned and the next command reconnects.
	ErrTransport = errors.New("pigpio: transport failure")

	// ErrNotInitialized is returned when a command is issued before
	// Session.Initialize.
	ErrNotInitialized = errors.New("pigpio: session not initialized")

	// ErrInvalidParams is returned when a command is given more
	// parameters than the header can carry.
	ErrInvalidParams = errors.New("pigpio: invalid command parameters")

	// ErrUnknownCommand is returned when sending a command code that is
	// not part of the supported command set.
	ErrUnknownCommand = errors.New("pigpio: unknown command")

	// ErrInvalidPin is returned for a GPIO number outside bank 1.
	ErrInvalidPin = errors.New("pigpio: invalid gpio")

	// ErrInvalidConnection is returned when a connection URL cannot be
	// turned into a dialer.
	ErrInvalidConnection = errors.New("pigpio: invalid connection URL")
)

// DaemonError is a negative status returned by the daemon in P3.
type DaemonError struct {
	Command Command
	Code    int32
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("pigpio: %s failed with daemon status %d", e.Command, e.Code)
}

// checkResult converts a response P3 into a result or a *DaemonError.
func checkResult(rx Packet) (int, error) {
	if rx.P3 < 0 {
		return 0, &DaemonError{Command: rx.Command, Code: rx.P3}
	}
	return int(rx.P3), nil
}
