package pigpio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// MockDaemon is an in-memory pigpio daemon. Every dial gets a fresh
// net.Pipe served by its own goroutine.
type MockDaemon struct {
	t *testing.T

	mu       sync.Mutex
	handler  func(Packet) Packet
	received []Packet
	conns    []net.Conn
	dials    int
	dialErr  error
	closed   bool

	// listeners receives the server side of each NOIB socket.
	listeners chan net.Conn

	wg sync.WaitGroup
}

// NewMockDaemon returns a daemon answering with defaultResponse.
func NewMockDaemon(t *testing.T) *MockDaemon {
	t.Helper()
	d := &MockDaemon{
		t:         t,
		handler:   defaultResponse,
		listeners: make(chan net.Conn, 4),
	}
	t.Cleanup(d.Close)
	return d
}

// defaultResponse echoes the command with a plausible result.
func defaultResponse(tx Packet) Packet {
	rx := Packet{Command: tx.Command, P1: tx.P1, P2: tx.P2}
	switch tx.Command {
	case CmdVersion:
		rx.P3 = 79
	case CmdHardwareRev:
		rx.P3 = 0xa02082
	case CmdRead:
		rx.P3 = 1
	case CmdReadBank1:
		rx.P3 = 0
	case CmdTick:
		rx.P3 = 123456
	case CmdI2COpen, CmdSPIOpen, CmdSerialOpen:
		rx.P3 = 3
	case CmdI2CReadDevice:
		rx = rx.WithData(make([]byte, tx.P2))
		for i := range rx.Data {
			rx.Data[i] = byte(i + 1)
		}
	case CmdI2CReadI2CBlock:
		count := binary.LittleEndian.Uint32(tx.Data)
		rx = rx.WithData(make([]byte, count))
	}
	return rx
}

// SetHandler replaces the response function.
func (d *MockDaemon) SetHandler(h func(Packet) Packet) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// FailDials makes subsequent dials fail with err (nil to stop).
func (d *MockDaemon) FailDials(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

// Dialer returns a Dialer connecting to the daemon.
func (d *MockDaemon) Dialer() Dialer {
	return func(ctx context.Context) (Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d.mu.Lock()
		defer d.mu.Unlock()

		d.dials++
		if d.dialErr != nil {
			return nil, d.dialErr
		}
		if d.closed {
			return nil, errors.New("mock daemon closed")
		}

		client, server := net.Pipe()
		d.conns = append(d.conns, server)
		d.wg.Add(1)
		go d.serve(server)
		return client, nil
	}
}

// Dials returns the number of dial attempts so far.
func (d *MockDaemon) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Received returns every request seen so far, in order.
func (d *MockDaemon) Received() []Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Packet(nil), d.received...)
}

// Count returns how many requests for cmd were seen.
func (d *MockDaemon) Count(cmd Command) int {
	n := 0
	for _, p := range d.Received() {
		if p.Command == cmd {
			n++
		}
	}
	return n
}

// DropAll closes every open connection from the daemon side.
func (d *MockDaemon) DropAll() {
	d.mu.Lock()
	conns := d.conns
	d.conns = nil
	d.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Listener waits for the next notification socket.
func (d *MockDaemon) Listener(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.listeners:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no notification listener opened")
		return nil
	}
}

// Close shuts the daemon down and waits for its goroutines.
func (d *MockDaemon) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.DropAll()
	d.wg.Wait()
}

// requestExtension reports whether a request for cmd carries P3 bytes.
func requestExtension(cmd Command) bool {
	switch cmd {
	case CmdI2COpen, CmdI2CWriteDevice, CmdI2CReadI2CBlock, CmdI2CWriteI2CBlock,
		CmdI2CWriteBlockData, CmdSPIOpen, CmdSPIWrite, CmdSPIXfer,
		CmdSerialOpen, CmdSerialWrite:
		return true
	default:
		return false
	}
}

func (d *MockDaemon) serve(conn net.Conn) {
	defer d.wg.Done()

	for {
		var hdr [HeaderSize]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		tx := Packet{
			Command: Command(binary.LittleEndian.Uint32(hdr[0:4])),
			P1:      int32(binary.LittleEndian.Uint32(hdr[4:8])),
			P2:      int32(binary.LittleEndian.Uint32(hdr[8:12])),
			P3:      int32(binary.LittleEndian.Uint32(hdr[12:16])),
		}
		if requestExtension(tx.Command) && tx.P3 > 0 {
			tx.Data = make([]byte, tx.P3)
			if _, err := io.ReadFull(conn, tx.Data); err != nil {
				return
			}
		}

		d.mu.Lock()
		d.received = append(d.received, tx)
		handler := d.handler
		d.mu.Unlock()

		if tx.Command == CmdNotifyOpenInBand {
			if _, err := conn.Write(Encode(Packet{Command: CmdNotifyOpenInBand, P3: 7})); err != nil {
				return
			}
			d.listeners <- conn
			return
		}

		if _, err := conn.Write(Encode(handler(tx))); err != nil {
			return
		}
	}
}
