package pigpio

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// serialConn adapts a serial.Port to Conn with deadline support.
type serialConn struct {
	serial.Port
	bounded atomic.Bool
}

// Read reports an expired read timeout as os.ErrDeadlineExceeded; the
// port itself returns (0, nil), which io.ReadFull would spin on.
func (c *serialConn) Read(b []byte) (int, error) {
	n, err := c.Port.Read(b)
	if n == 0 && err == nil && c.bounded.Load() {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

// SetDeadline maps an absolute deadline onto the port's read timeout.
// Writes on a serial line are not bounded.
func (c *serialConn) SetDeadline(t time.Time) error {
	if t.IsZero() {
		c.bounded.Store(false)
		return c.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d <= 0 {
		d = time.Millisecond
	}
	c.bounded.Store(true)
	return c.SetReadTimeout(d)
}

// DialSerial returns a Dialer for a daemon bridged over a serial line
// (8N1 at the given baud rate).
func DialSerial(device string, baud int) Dialer {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return func(ctx context.Context) (Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		port, err := serial.Open(device, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", device, err)
		}

		// Discard anything left over from a previous session.
		if err := port.ResetInputBuffer(); err != nil {
			port.Close()
			return nil, fmt.Errorf("reset serial %s: %w", device, err)
		}
		return &serialConn{Port: port}, nil
	}
}
