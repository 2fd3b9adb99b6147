package pigpio

import (
	"context"
	"fmt"
)

// Typed wrappers over the raw command channel. Each returns the daemon
// result, or a *DaemonError when the daemon reports a negative status.

// Version returns the daemon version. Like HardwareRevision it only
// needs a connection, not an initialised session.
func (s *Session) Version(ctx context.Context) (int, error) {
	return s.unchecked(ctx, CmdVersion)
}

// HardwareRevision returns the board revision code.
func (s *Session) HardwareRevision(ctx context.Context) (int, error) {
	return s.unchecked(ctx, CmdHardwareRev)
}

func (s *Session) unchecked(ctx context.Context, cmd Command) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rx, err := s.exchangeLocked(ctx, Packet{Command: cmd})
	if err != nil {
		return 0, err
	}
	return checkResult(rx)
}

// Tick returns the daemon's microsecond tick. It wraps every ~72 minutes.
func (s *Session) Tick(ctx context.Context) (uint32, error) {
	rx, err := s.SendCommand(ctx, CmdTick)
	if err != nil {
		return 0, err
	}
	return uint32(rx.P3), nil //nolint:gosec // G115: unsigned counter on the wire
}

// ReadBank1 returns the levels of GPIO 0-31 as a bitmask.
func (s *Session) ReadBank1(ctx context.Context) (uint32, error) {
	rx, err := s.SendCommand(ctx, CmdReadBank1)
	if err != nil {
		return 0, err
	}
	return uint32(rx.P3), nil //nolint:gosec // G115: bank bitfield
}

// Read returns the level of pin.
func (s *Session) Read(ctx context.Context, pin int) (Level, error) {
	if err := validatePin(pin); err != nil {
		return Low, err
	}
	v, err := s.result(ctx, Packet{Command: CmdRead, P1: int32(pin)}) //nolint:gosec // G115: pin validated
	if err != nil {
		return Low, err
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

// Write drives pin to level.
func (s *Session) Write(ctx context.Context, pin int, level Level) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	_, err := s.result(ctx, Packet{Command: CmdWrite, P1: int32(pin), P2: int32(level)}) //nolint:gosec // G115: pin validated
	return err
}

// SetMode sets the function mode of pin.
func (s *Session) SetMode(ctx context.Context, pin int, mode Mode) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	_, err := s.result(ctx, Packet{Command: CmdModeSet, P1: int32(pin), P2: int32(mode)}) //nolint:gosec // G115: pin validated
	return err
}

// GetMode returns the function mode of pin.
func (s *Session) GetMode(ctx context.Context, pin int) (Mode, error) {
	if err := validatePin(pin); err != nil {
		return ModeInput, err
	}
	v, err := s.result(ctx, Packet{Command: CmdModeGet, P1: int32(pin)}) //nolint:gosec // G115: pin validated
	if err != nil {
		return ModeInput, err
	}
	return Mode(v), nil //nolint:gosec // G115: mode fits a byte
}

// SetPull sets the pull-up/down resistor of pin.
func (s *Session) SetPull(ctx context.Context, pin int, pull Pull) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	_, err := s.result(ctx, Packet{Command: CmdPullUpDown, P1: int32(pin), P2: int32(pull)}) //nolint:gosec // G115: pin validated
	return err
}

// I2COpen opens device addr on bus and registers the handle.
func (s *Session) I2COpen(ctx context.Context, bus, addr int, flags uint32) (int, error) {
	tx := Packet{Command: CmdI2COpen, P1: int32(bus), P2: int32(addr)}.WithData(uint32Ext(flags)) //nolint:gosec // G115: small bus/address
	h, err := s.result(ctx, tx)
	if err != nil {
		return 0, err
	}
	s.handles.Add(HandleI2C, h)
	return h, nil
}

// I2CClose closes an I2C handle and forgets it.
func (s *Session) I2CClose(ctx context.Context, handle int) error {
	return s.closeHandle(ctx, HandleI2C, handle)
}

// I2CReadDevice reads count raw bytes from the device.
func (s *Session) I2CReadDevice(ctx context.Context, handle, count int) ([]byte, error) {
	rx, err := s.SendCommand(ctx, CmdI2CReadDevice, int32(handle), int32(count)) //nolint:gosec // G115: small handle/count
	if err != nil {
		return nil, err
	}
	return rx.Data, nil
}

// I2CWriteDevice writes data raw to the device.
func (s *Session) I2CWriteDevice(ctx context.Context, handle int, data []byte) error {
	tx := Packet{Command: CmdI2CWriteDevice, P1: int32(handle)}.WithData(data) //nolint:gosec // G115: small handle
	_, err := s.result(ctx, tx)
	return err
}

// I2CReadI2CBlock reads count bytes starting at register reg.
func (s *Session) I2CReadI2CBlock(ctx context.Context, handle, reg, count int) ([]byte, error) {
	tx := Packet{Command: CmdI2CReadI2CBlock, P1: int32(handle), P2: int32(reg)}.WithData(uint32Ext(uint32(count))) //nolint:gosec // G115: small values
	rx, err := s.SendPacket(ctx, tx)
	if err != nil {
		return nil, err
	}
	return rx.Data, nil
}

// SPIOpen opens an SPI channel and registers the handle.
func (s *Session) SPIOpen(ctx context.Context, channel, baud int, flags uint32) (int, error) {
	tx := Packet{Command: CmdSPIOpen, P1: int32(channel), P2: int32(baud)}.WithData(uint32Ext(flags)) //nolint:gosec // G115: small values
	h, err := s.result(ctx, tx)
	if err != nil {
		return 0, err
	}
	s.handles.Add(HandleSPI, h)
	return h, nil
}

// SPIClose closes an SPI handle and forgets it.
func (s *Session) SPIClose(ctx context.Context, handle int) error {
	return s.closeHandle(ctx, HandleSPI, handle)
}

// SerialOpen opens a serial device on the daemon host and registers the
// handle.
func (s *Session) SerialOpen(ctx context.Context, tty string, baud int, flags uint32) (int, error) {
	tx := Packet{Command: CmdSerialOpen, P1: int32(baud), P2: int32(flags)}.WithData([]byte(tty)) //nolint:gosec // G115: small values
	h, err := s.result(ctx, tx)
	if err != nil {
		return 0, err
	}
	s.handles.Add(HandleSerial, h)
	return h, nil
}

// SerialClose closes a serial handle and forgets it.
func (s *Session) SerialClose(ctx context.Context, handle int) error {
	return s.closeHandle(ctx, HandleSerial, handle)
}

func (s *Session) closeHandle(ctx context.Context, kind HandleKind, handle int) error {
	_, err := s.result(ctx, Packet{Command: kind.CloseCommand(), P1: int32(handle)}) //nolint:gosec // G115: small handle
	if err != nil {
		return fmt.Errorf("close %s handle %d: %w", kind, handle, err)
	}
	s.handles.Remove(kind, handle)
	return nil
}

func (s *Session) result(ctx context.Context, tx Packet) (int, error) {
	rx, err := s.SendPacket(ctx, tx)
	if err != nil {
		return 0, err
	}
	return checkResult(rx)
}
