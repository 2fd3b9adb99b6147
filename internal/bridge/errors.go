package bridge

import "errors"

var (
	// ErrInvalidCommand is returned when a command message cannot be parsed
	// or names an unknown action.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrInvalidParameters is returned when a command is missing a required
	// parameter or carries an out-of-range value.
	ErrInvalidParameters = errors.New("bridge: invalid parameters")
)
