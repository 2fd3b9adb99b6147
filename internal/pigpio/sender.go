package pigpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultIOTimeout bounds a single request/response exchange when the
// caller's context carries no earlier deadline.
const DefaultIOTimeout = 5 * time.Second

// Direction marks a traced packet as sent or received.
type Direction uint8

const (
	DirectionTx Direction = iota + 1
	DirectionRx
)

func (d Direction) String() string {
	switch d {
	case DirectionTx:
		return "tx"
	case DirectionRx:
		return "rx"
	default:
		return "unknown"
	}
}

// Tracer observes every packet crossing the wire. err is set when the
// exchange for p failed. Implementations must not block.
type Tracer interface {
	Trace(dir Direction, p Packet, err error)
}

// PacketSender performs one synchronous exchange with the daemon.
type PacketSender interface {
	SendPacket(ctx context.Context, tx Packet) (Packet, error)
	SendCommand(ctx context.Context, cmd Command, params ...int32) (Packet, error)
}

// SenderConfig tunes a Sender.
type SenderConfig struct {
	// IOTimeout bounds each exchange. Default: 5 seconds.
	IOTimeout time.Duration

	// MaxExtension caps response payloads. Default: DefaultMaxExtension.
	MaxExtension int
}

// SenderStats holds exchange counters.
type SenderStats struct {
	PacketsTx    uint64
	PacketsRx    uint64
	ErrorsTotal  uint64
	LastActivity time.Time
}

// Ensure Sender implements PacketSender.
var _ PacketSender = (*Sender)(nil)

// Sender encodes requests onto the provider's streams and decodes the
// matching responses.
//
// Thread Safety:
//   - One exchange runs at a time; concurrent callers queue on a mutex so
//     their bytes never interleave on the socket.
//
// Failure handling:
//   - Any I/O or framing error terminates the provider and is returned.
//   - The Sender never retries and never dials on its own account beyond
//     asking the provider to validate readiness.
type Sender struct {
	provider StreamsProvider
	cfg      SenderConfig
	logger   Logger

	mu sync.Mutex

	tracer   Tracer
	tracerMu sync.RWMutex

	packetsTx    atomic.Uint64
	packetsRx    atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64
}

// NewSender returns a Sender bound to provider. It holds a non-owning
// reference; closing the provider is the Session's job.
func NewSender(provider StreamsProvider, cfg SenderConfig, logger Logger) *Sender {
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	if cfg.MaxExtension <= 0 {
		cfg.MaxExtension = DefaultMaxExtension
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Sender{provider: provider, cfg: cfg, logger: logger}
}

// SetTracer installs t to observe every packet. nil removes it.
func (s *Sender) SetTracer(t Tracer) {
	s.tracerMu.Lock()
	s.tracer = t
	s.tracerMu.Unlock()
}

// SendCommand sends cmd with up to two parameters (p1, p2) and returns
// the response.
func (s *Sender) SendCommand(ctx context.Context, cmd Command, params ...int32) (Packet, error) {
	tx := Packet{Command: cmd}
	switch len(params) {
	case 0:
	case 1:
		tx.P1 = params[0]
	case 2:
		tx.P1, tx.P2 = params[0], params[1]
	default:
		return Packet{}, fmt.Errorf("%w: %s takes at most 2 parameters, got %d",
			ErrInvalidParams, cmd, len(params))
	}
	return s.SendPacket(ctx, tx)
}

// SendPacket writes tx and blocks until the full response is read, the
// exchange fails, or ctx is done.
func (s *Sender) SendPacket(ctx context.Context, tx Packet) (Packet, error) {
	if !tx.Command.Valid() {
		return Packet{}, fmt.Errorf("%w: %s", ErrUnknownCommand, tx.Command)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.provider.ValidateReady(ctx); err != nil {
		s.errorsTotal.Add(1)
		s.trace(DirectionTx, tx, err)
		return Packet{}, err
	}

	in, out := s.provider.Input(), s.provider.Output()
	if in == nil || out == nil {
		return Packet{}, s.fail(tx, errors.New("provider returned no streams"))
	}

	if err := s.provider.SetDeadline(s.deadline(ctx)); err != nil {
		return Packet{}, s.fail(tx, fmt.Errorf("set deadline: %w", err))
	}

	// Cancelling ctx unblocks a pending read or write.
	stop := context.AfterFunc(ctx, func() {
		_ = s.provider.SetDeadline(time.Now())
	})
	defer stop()

	if err := ctx.Err(); err != nil {
		return Packet{}, s.fail(tx, fmt.Errorf("context cancelled: %w", err))
	}

	s.logger.Debug("[TX] ->", "packet", tx.String())
	s.trace(DirectionTx, tx, nil)

	if _, err := out.Write(Encode(tx)); err != nil {
		return Packet{}, s.fail(tx, fmt.Errorf("write: %w", err))
	}
	if err := out.Flush(); err != nil {
		return Packet{}, s.fail(tx, fmt.Errorf("flush: %w", err))
	}
	s.packetsTx.Add(1)

	rx, err := Decode(in, s.cfg.MaxExtension)
	if err != nil {
		return Packet{}, s.fail(tx, err)
	}
	if rx.Command != tx.Command {
		return Packet{}, s.fail(tx, fmt.Errorf("%w: response to %s echoes %s",
			ErrMalformedFrame, tx.Command, rx.Command))
	}

	s.packetsRx.Add(1)
	s.lastActivity.Store(time.Now().Unix())
	s.logger.Debug("[RX] <-", "packet", rx.String())
	s.trace(DirectionRx, rx, nil)

	if err := s.provider.SetDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear deadline failed", "error", err)
	}
	return rx, nil
}

// Stats returns current exchange counters.
func (s *Sender) Stats() SenderStats {
	var last time.Time
	if ts := s.lastActivity.Load(); ts != 0 {
		last = time.Unix(ts, 0)
	}
	return SenderStats{
		PacketsTx:    s.packetsTx.Load(),
		PacketsRx:    s.packetsRx.Load(),
		ErrorsTotal:  s.errorsTotal.Load(),
		LastActivity: last,
	}
}

// deadline returns the earlier of the configured I/O timeout and the
// context deadline.
func (s *Sender) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(s.cfg.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// fail terminates the provider and returns err classified as a transport
// or framing failure. Caller holds s.mu.
func (s *Sender) fail(tx Packet, err error) error {
	s.errorsTotal.Add(1)

	if !errors.Is(err, ErrTransport) && !errors.Is(err, ErrMalformedFrame) {
		err = fmt.Errorf("%w: %s: %w", ErrTransport, tx.Command, err)
	}

	s.logger.Warn("pigpio exchange failed, terminating connection",
		"command", tx.Command.String(), "error", err)
	s.trace(DirectionTx, tx, err)

	if terr := s.provider.Terminate(); terr != nil {
		s.logger.Error("terminate after failed exchange", "error", terr)
	}
	return err
}

func (s *Sender) trace(dir Direction, p Packet, err error) {
	s.tracerMu.RLock()
	t := s.tracer
	s.tracerMu.RUnlock()

	if t != nil {
		t.Trace(dir, p, err)
	}
}
