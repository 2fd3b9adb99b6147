package pigpio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is a byte-stream connection to the daemon. net.Conn satisfies it,
// as does the serial adapter returned by DialSerial.
type Conn interface {
	io.ReadWriteCloser
}

// deadlineConn is implemented by connections that can bound blocked I/O.
type deadlineConn interface {
	SetDeadline(t time.Time) error
}

// Dialer opens a new connection to the daemon. It is the pluggable
// factory behind a SocketProvider; tests substitute in-memory pipes.
type Dialer func(ctx context.Context) (Conn, error)

// StreamsProvider owns the single connection to the daemon and hands out
// its buffered streams.
//
// Only the Session triggers connection creation (ValidateReady) and
// teardown (Close); the Sender uses the streams and calls Terminate when
// an exchange fails.
type StreamsProvider interface {
	// ValidateReady ensures a live connection exists, dialling one if
	// there is none or the previous one was closed.
	ValidateReady(ctx context.Context) error

	// Input returns the read side of the active connection.
	Input() *bufio.Reader

	// Output returns the write side of the active connection.
	Output() *bufio.Writer

	// SetDeadline bounds the next blocked read or write. A zero time
	// clears the deadline. Connections without deadline support ignore it.
	SetDeadline(t time.Time) error

	// Connected reports whether a live connection is held.
	Connected() bool

	// Close releases the connection if one is held.
	Close() error

	// Terminate closes the connection after a failed exchange, reporting
	// close failures as ErrTransport.
	Terminate() error
}

// Ensure SocketProvider implements StreamsProvider.
var _ StreamsProvider = (*SocketProvider)(nil)

// SocketProvider is the StreamsProvider used against a real daemon.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The streams themselves are not; the Sender serialises their use.
type SocketProvider struct {
	dial   Dialer
	logger Logger

	mu        sync.Mutex
	conn      Conn
	in        *bufio.Reader
	out       *bufio.Writer
	connected bool

	connects atomic.Uint64
}

// NewSocketProvider returns a provider that dials through dial on demand.
// No connection is made until ValidateReady.
func NewSocketProvider(dial Dialer, logger Logger) *SocketProvider {
	if logger == nil {
		logger = nopLogger{}
	}
	return &SocketProvider{dial: dial, logger: logger}
}

// ValidateReady dials the daemon if there is no live connection.
func (p *SocketProvider) ValidateReady(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: connect: %w", ErrTransport, err)
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: connect: %w", ErrTransport, err)
	}

	p.conn = conn
	p.in = bufio.NewReader(conn)
	p.out = bufio.NewWriter(conn)
	p.connected = true
	n := p.connects.Add(1)

	p.logger.Info("connected to pigpio daemon", "connects", n)
	return nil
}

// Input returns the buffered reader of the active connection, or nil
// before ValidateReady.
func (p *SocketProvider) Input() *bufio.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in
}

// Output returns the buffered writer of the active connection, or nil
// before ValidateReady.
func (p *SocketProvider) Output() *bufio.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out
}

// SetDeadline applies t to the active connection if it supports deadlines.
func (p *SocketProvider) SetDeadline(t time.Time) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if dc, ok := conn.(deadlineConn); ok {
		return dc.SetDeadline(t)
	}
	return nil
}

// Connected reports whether a live connection is held.
func (p *SocketProvider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Connects returns the number of successful dials so far.
func (p *SocketProvider) Connects() uint64 {
	return p.connects.Load()
}

// Close closes the connection if one is held and connected. Calling it
// again, or before any connection was made, is a no-op.
func (p *SocketProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil
	}

	err := p.conn.Close()
	p.reset()
	p.logger.Info("disconnected from pigpio daemon")
	return err
}

// Terminate closes the connection after a failed exchange.
func (p *SocketProvider) Terminate() error {
	if err := p.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrTransport, err)
	}
	return nil
}

// reset clears connection state. Caller holds p.mu.
func (p *SocketProvider) reset() {
	p.conn = nil
	p.in = nil
	p.out = nil
	p.connected = false
}
