package pigpio

import (
	"encoding/binary"
	"fmt"
)

// MaxUserGPIO is the highest GPIO in bank 1, the bank covered by
// notifications and BR1.
const MaxUserGPIO = 31

// Level is a GPIO logic level.
type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// LevelFromBit returns the level of pin within a bank bitmask.
func LevelFromBit(bank uint32, pin int) Level {
	return Level((bank >> uint(pin)) & 1) //nolint:gosec // G115: pin validated to 0..31
}

// Mode is a GPIO function mode as used by MODES/MODEG.
type Mode uint8

const (
	ModeInput  Mode = 0
	ModeOutput Mode = 1
	ModeAlt0   Mode = 4
	ModeAlt1   Mode = 5
	ModeAlt2   Mode = 6
	ModeAlt3   Mode = 7
	ModeAlt4   Mode = 3
	ModeAlt5   Mode = 2
)

// Pull is a pull-up/down resistor setting as used by PUD.
type Pull uint8

const (
	PullOff  Pull = 0
	PullDown Pull = 1
	PullUp   Pull = 2
)

func validatePin(pin int) error {
	if pin < 0 || pin > MaxUserGPIO {
		return fmt.Errorf("%w: %d (want 0..%d)", ErrInvalidPin, pin, MaxUserGPIO)
	}
	return nil
}

// uint32Ext encodes v as a 4-byte little-endian request extension.
func uint32Ext(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
