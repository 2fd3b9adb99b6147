package pigpio

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed length of every request and response header:
	// command, p1, p2, p3 as little-endian 32-bit fields.
	HeaderSize = 16

	// DefaultMaxExtension caps the trailing payload accepted on a response.
	DefaultMaxExtension = 64 * 1024
)

// Packet is one frame exchanged with the daemon.
//
// On a request P3 carries a third argument or the length of Data. On a
// response P3 is either the command result or, for commands where
// Command.HasResponseExtension is true, the length of Data. Which one is
// decided by the command alone.
type Packet struct {
	Command Command
	P1      int32
	P2      int32
	P3      int32
	Data    []byte
}

// WithData returns a copy of p carrying data as its extension, with P3
// set to the extension length.
func (p Packet) WithData(data []byte) Packet {
	p.Data = data
	p.P3 = int32(len(data))
	return p
}

// String formats the packet for trace logging.
func (p Packet) String() string {
	if len(p.Data) == 0 {
		return fmt.Sprintf("%s p1=%d p2=%d p3=%d", p.Command, p.P1, p.P2, p.P3)
	}
	return fmt.Sprintf("%s p1=%d p2=%d p3=%d data=% x", p.Command, p.P1, p.P2, p.P3, p.Data)
}

// Encode serialises p: the 16-byte header followed by Data, if any.
func Encode(p Packet) []byte {
	buf := make([]byte, HeaderSize+len(p.Data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Command))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.P1))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.P2))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(p.P3))
	copy(buf[HeaderSize:], p.Data)
	return buf
}

// Decode reads one packet from r: exactly HeaderSize bytes, then
// BytesToRead more. maxExtension bounds the trailing payload; zero or
// less means DefaultMaxExtension.
//
// A failure reading the header is reported as ErrTransport. A header
// whose extension is negative, too large, or cut short is ErrMalformedFrame.
func Decode(r io.Reader, maxExtension int) (Packet, error) {
	if maxExtension <= 0 {
		maxExtension = DefaultMaxExtension
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, fmt.Errorf("%w: read header: %w", ErrTransport, err)
	}

	p := Packet{
		Command: Command(binary.LittleEndian.Uint32(hdr[0:4])),
		P1:      int32(binary.LittleEndian.Uint32(hdr[4:8])),  //nolint:gosec // G115: signed field on the wire
		P2:      int32(binary.LittleEndian.Uint32(hdr[8:12])), //nolint:gosec // G115: signed field on the wire
		P3:      int32(binary.LittleEndian.Uint32(hdr[12:16])), //nolint:gosec // G115: signed field on the wire
	}

	n, err := BytesToRead(p, r)
	if err != nil {
		return Packet{}, err
	}
	if n == 0 {
		return p, nil
	}
	if n > maxExtension {
		return Packet{}, fmt.Errorf("%w: %s extension of %d bytes exceeds limit %d",
			ErrMalformedFrame, p.Command, n, maxExtension)
	}

	p.Data = make([]byte, n)
	if _, err := io.ReadFull(r, p.Data); err != nil {
		return Packet{}, fmt.Errorf("%w: %s extension: want %d bytes: %w",
			ErrMalformedFrame, p.Command, n, err)
	}
	return p, nil
}

// BytesToRead returns the length of the extension that follows the
// decoded header p on r.
//
// For the bulk I2C reads (I2CRD, I2CRI) the length is P3. For every other
// command it is the number of bytes r can deliver without blocking, which
// is zero for a well-formed exchange.
func BytesToRead(p Packet, r io.Reader) (int, error) {
	if p.Command.HasResponseExtension() {
		if p.P3 < 0 {
			return 0, fmt.Errorf("%w: %s negative extension length %d",
				ErrMalformedFrame, p.Command, p.P3)
		}
		return int(p.P3), nil
	}
	return available(r), nil
}

// available probes r for bytes that can be read without blocking.
// Readers that cannot report this yield zero.
func available(r io.Reader) int {
	switch v := r.(type) {
	case interface{ Buffered() int }:
		return v.Buffered()
	case interface{ Len() int }:
		return v.Len()
	default:
		return 0
	}
}
