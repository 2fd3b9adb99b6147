package pigpio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ReportSize is the length of one notification report on the listener
// socket: seqno u16, flags u16, tick u32, level u32, little-endian.
const ReportSize = 12

// Report flag bits.
const (
	FlagWatchdog uint16 = 1 << 5 // watchdog timeout on the GPIO in the low bits
	FlagAlive    uint16 = 1 << 6 // keep-alive, no level change
	FlagEvent    uint16 = 1 << 7 // custom event, not a level change

	flagGPIOMask uint16 = 0x1F
)

// Monitor defaults.
const (
	defaultEventQueueSize = 100
	defaultEventWorkers   = 2
)

// Report is one decoded notification report.
type Report struct {
	Seq   uint16
	Flags uint16
	Tick  uint32
	Level uint32
}

// DecodeReport decodes a 12-byte notification report.
func DecodeReport(b []byte) (Report, error) {
	if len(b) < ReportSize {
		return Report{}, fmt.Errorf("%w: report of %d bytes, want %d", ErrMalformedFrame, len(b), ReportSize)
	}
	return Report{
		Seq:   binary.LittleEndian.Uint16(b[0:2]),
		Flags: binary.LittleEndian.Uint16(b[2:4]),
		Tick:  binary.LittleEndian.Uint32(b[4:8]),
		Level: binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// EncodeReport is the inverse of DecodeReport.
func EncodeReport(r Report) []byte {
	b := make([]byte, ReportSize)
	binary.LittleEndian.PutUint16(b[0:2], r.Seq)
	binary.LittleEndian.PutUint16(b[2:4], r.Flags)
	binary.LittleEndian.PutUint32(b[4:8], r.Tick)
	binary.LittleEndian.PutUint32(b[8:12], r.Level)
	return b
}

// StateChangeEvent is delivered to subscribers when a monitored GPIO
// changes level or its watchdog fires.
type StateChangeEvent struct {
	Pin      int
	Level    Level
	Watchdog bool
	Sequence uint16
	Flags    uint16
	Tick     uint32
	Time     time.Time
}

// MonitorConfig tunes a NotificationMonitor.
type MonitorConfig struct {
	// QueueSize is the event buffer between listener and workers.
	// Events are dropped when it is full. Default: 100.
	QueueSize int

	// Workers is the number of subscriber callback goroutines. Default: 2.
	Workers int

	// IOTimeout bounds the NOIB handshake on the listener socket.
	// Default: DefaultIOTimeout.
	IOTimeout time.Duration
}

// MonitorStats holds notification counters.
type MonitorStats struct {
	Active           bool
	Mask             uint32
	Handle           int
	ReportsRx        uint64
	EventsDispatched uint64
	EventsDropped    uint64
	ErrorsTotal      uint64
	LastReport       time.Time
}

// NotificationMonitor tracks per-GPIO interest and turns daemon reports
// into StateChangeEvents.
//
// Delivery model:
//   - The first enabled GPIO opens a second connection, requests a
//     notification handle on it (NOIB) and starts a listener goroutine
//     that reads 12-byte reports from it.
//   - The combined interest mask is pushed with NB on the command channel.
//   - Events go through a bounded queue to a small worker pool that calls
//     subscribers. A full queue drops the event and counts it.
//   - Disabling the last GPIO closes the handle (NC) and the listener.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Subscriber callbacks run on worker goroutines; panics are recovered.
type NotificationMonitor struct {
	sender PacketSender
	dial   Dialer
	cfg    MonitorConfig
	logger Logger

	mu       sync.Mutex
	handle   int
	listener Conn
	done     *closeOnce
	wg       sync.WaitGroup
	active   atomic.Bool

	// Read by the listener goroutine without holding mu.
	mask   atomic.Uint32
	levels atomic.Uint32

	queue chan StateChangeEvent

	subsMu sync.RWMutex
	subs   map[uint64]func(StateChangeEvent)
	nextID uint64

	reportsRx        atomic.Uint64
	eventsDispatched atomic.Uint64
	eventsDropped    atomic.Uint64
	errorsTotal      atomic.Uint64
	lastReport       atomic.Int64
}

// NewNotificationMonitor returns an idle monitor. sender carries NB, NC
// and BR1; dial opens the listener socket.
func NewNotificationMonitor(sender PacketSender, dial Dialer, cfg MonitorConfig, logger Logger) *NotificationMonitor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultEventQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultEventWorkers
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &NotificationMonitor{
		sender: sender,
		dial:   dial,
		cfg:    cfg,
		logger: logger,
		subs:   make(map[uint64]func(StateChangeEvent)),
	}
}

// Subscribe registers fn for every StateChangeEvent. The returned func
// removes it.
func (m *NotificationMonitor) Subscribe(fn func(StateChangeEvent)) (unsubscribe func()) {
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

// Enable adds or removes pin from the interest mask and pushes the new
// mask to the daemon, starting or stopping the listener as needed.
func (m *NotificationMonitor) Enable(ctx context.Context, pin int, enabled bool) error {
	if err := validatePin(pin); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.mask.Load()
	next := current &^ (1 << uint(pin)) //nolint:gosec // G115: pin validated
	if enabled {
		next = current | (1 << uint(pin)) //nolint:gosec // G115: pin validated
	}
	return m.applyMask(ctx, next)
}

// SetMask replaces the whole interest mask.
func (m *NotificationMonitor) SetMask(ctx context.Context, mask uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyMask(ctx, mask)
}

// Disable clears every pin from the interest mask and stops the listener.
func (m *NotificationMonitor) Disable(ctx context.Context) error {
	return m.SetMask(ctx, 0)
}

// Shutdown stops the listener without talking to the daemon beyond a
// best-effort NC. The monitor can be enabled again afterwards.
func (m *NotificationMonitor) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mask.Store(0)
	m.stop(ctx)
}

// Active reports whether the listener is running.
func (m *NotificationMonitor) Active() bool {
	return m.active.Load()
}

// Mask returns the current interest mask.
func (m *NotificationMonitor) Mask() uint32 {
	return m.mask.Load()
}

// Levels returns the last known bank 1 levels.
func (m *NotificationMonitor) Levels() uint32 {
	return m.levels.Load()
}

// Stats returns current notification counters.
func (m *NotificationMonitor) Stats() MonitorStats {
	m.mu.Lock()
	handle := m.handle
	m.mu.Unlock()

	var last time.Time
	if ts := m.lastReport.Load(); ts != 0 {
		last = time.Unix(ts, 0)
	}
	return MonitorStats{
		Active:           m.active.Load(),
		Mask:             m.mask.Load(),
		Handle:           handle,
		ReportsRx:        m.reportsRx.Load(),
		EventsDispatched: m.eventsDispatched.Load(),
		EventsDropped:    m.eventsDropped.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		LastReport:       last,
	}
}

// applyMask moves the monitor to mask. Caller holds m.mu.
func (m *NotificationMonitor) applyMask(ctx context.Context, mask uint32) error {
	if mask == 0 {
		m.mask.Store(0)
		m.stop(ctx)
		return nil
	}

	if mask == m.mask.Load() && m.active.Load() {
		return nil
	}

	started := false
	if !m.active.Load() {
		if err := m.start(ctx); err != nil {
			return err
		}
		started = true
	}

	if err := m.notifyBegin(ctx, mask); err != nil {
		// A listener opened for this call must not outlive the failed push.
		if started {
			m.mask.Store(0)
			m.stop(ctx)
		}
		return err
	}

	m.mask.Store(mask)
	m.logger.Debug("notification mask updated", "handle", m.handle, "mask", fmt.Sprintf("%#08x", mask))
	return nil
}

// notifyBegin pushes mask for the current handle with NB.
func (m *NotificationMonitor) notifyBegin(ctx context.Context, mask uint32) error {
	rx, err := m.sender.SendCommand(ctx, CmdNotifyBegin, int32(m.handle), int32(mask)) //nolint:gosec // G115: mask is a raw bitfield
	if err != nil {
		return fmt.Errorf("notify begin: %w", err)
	}
	if _, err := checkResult(rx); err != nil {
		return fmt.Errorf("notify begin: %w", err)
	}
	return nil
}

// start opens the listener socket, obtains a handle and seeds the level
// snapshot. Caller holds m.mu.
func (m *NotificationMonitor) start(ctx context.Context) error {
	// A listener that died on its own still has workers to reap.
	if m.done != nil {
		m.teardown()
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: notification listener: %w", ErrTransport, err)
	}

	handle, err := m.openHandle(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	rx, err := m.sender.SendCommand(ctx, CmdReadBank1)
	if err != nil {
		conn.Close()
		return fmt.Errorf("initial levels: %w", err)
	}
	m.levels.Store(uint32(rx.P3)) //nolint:gosec // G115: bank bitfield

	m.handle = handle
	m.listener = conn
	m.done = newCloseOnce()
	m.queue = make(chan StateChangeEvent, m.cfg.QueueSize)
	m.active.Store(true)

	for range m.cfg.Workers {
		m.wg.Add(1)
		go m.eventWorker(m.done, m.queue)
	}
	m.wg.Add(1)
	go m.listen(conn, m.done, m.queue)

	m.logger.Info("notification listener started", "handle", handle)
	return nil
}

// openHandle performs the NOIB handshake on the listener socket.
func (m *NotificationMonitor) openHandle(ctx context.Context, conn Conn) (int, error) {
	deadline := time.Now().Add(m.cfg.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if dc, ok := conn.(deadlineConn); ok {
		if err := dc.SetDeadline(deadline); err != nil {
			return 0, fmt.Errorf("%w: set deadline: %w", ErrTransport, err)
		}
		defer func() { _ = dc.SetDeadline(time.Time{}) }()
	}

	if _, err := conn.Write(Encode(Packet{Command: CmdNotifyOpenInBand})); err != nil {
		return 0, fmt.Errorf("%w: NOIB write: %w", ErrTransport, err)
	}

	// Reports follow on this socket, so only the header is consumed here.
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return 0, fmt.Errorf("%w: NOIB read: %w", ErrTransport, err)
	}
	rx := Packet{
		Command: Command(binary.LittleEndian.Uint32(hdr[0:4])),
		P3:      int32(binary.LittleEndian.Uint32(hdr[12:16])), //nolint:gosec // G115: signed field on the wire
	}
	if rx.Command != CmdNotifyOpenInBand {
		return 0, fmt.Errorf("%w: response to NOIB echoes %s", ErrMalformedFrame, rx.Command)
	}
	return checkResult(rx)
}

// stop closes the handle and the listener. Caller holds m.mu.
func (m *NotificationMonitor) stop(ctx context.Context) {
	if m.done == nil {
		return
	}

	if m.active.Swap(false) {
		if _, err := m.sender.SendCommand(ctx, CmdNotifyClose, int32(m.handle)); err != nil { //nolint:gosec // G115: small handle
			m.logger.Warn("notify close failed", "handle", m.handle, "error", err)
		}
	}

	handle := m.handle
	m.teardown()
	m.logger.Info("notification listener stopped", "handle", handle)
}

// teardown stops the listener goroutines. Caller holds m.mu.
func (m *NotificationMonitor) teardown() {
	m.active.Store(false)
	m.done.Close()
	if m.listener != nil {
		m.listener.Close()
	}
	m.wg.Wait()

	m.listener = nil
	m.done = nil
	m.handle = 0
}

// listen reads reports until the socket closes.
func (m *NotificationMonitor) listen(conn Conn, done *closeOnce, queue chan<- StateChangeEvent) {
	defer m.wg.Done()

	buf := make([]byte, ReportSize)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			if isDone(done) {
				return
			}
			m.errorsTotal.Add(1)
			m.active.Store(false)
			if errors.Is(err, io.EOF) {
				m.logger.Warn("notification listener closed by daemon")
			} else {
				m.logger.Error("notification listener read failed", "error", err)
			}
			return
		}

		report, _ := DecodeReport(buf)
		m.handleReport(report, queue)
	}
}

// handleReport turns one report into zero or more events.
func (m *NotificationMonitor) handleReport(r Report, queue chan<- StateChangeEvent) {
	m.reportsRx.Add(1)
	m.lastReport.Store(time.Now().Unix())

	mask := m.mask.Load()
	now := time.Now()

	switch {
	case r.Flags&FlagWatchdog != 0:
		pin := int(r.Flags & flagGPIOMask)
		if mask&(1<<uint(pin)) == 0 { //nolint:gosec // G115: 5-bit field
			return
		}
		m.enqueue(queue, StateChangeEvent{
			Pin:      pin,
			Level:    LevelFromBit(m.levels.Load(), pin),
			Watchdog: true,
			Sequence: r.Seq,
			Flags:    r.Flags,
			Tick:     r.Tick,
			Time:     now,
		})
		return
	case r.Flags&FlagAlive != 0:
		return
	case r.Flags&FlagEvent != 0:
		m.logger.Debug("ignoring custom event report", "event", r.Flags&flagGPIOMask)
		return
	}

	previous := m.levels.Swap(r.Level)
	changed := (previous ^ r.Level) & mask
	for pin := 0; changed != 0 && pin <= MaxUserGPIO; pin++ {
		bit := uint32(1) << uint(pin) //nolint:gosec // G115: bounded loop
		if changed&bit == 0 {
			continue
		}
		changed &^= bit
		m.enqueue(queue, StateChangeEvent{
			Pin:      pin,
			Level:    LevelFromBit(r.Level, pin),
			Sequence: r.Seq,
			Flags:    r.Flags,
			Tick:     r.Tick,
			Time:     now,
		})
	}
}

func (m *NotificationMonitor) enqueue(queue chan<- StateChangeEvent, ev StateChangeEvent) {
	select {
	case queue <- ev:
	default:
		m.eventsDropped.Add(1)
		m.errorsTotal.Add(1)
		m.logger.Warn("event queue full, dropping state change", "pin", ev.Pin)
	}
}

// eventWorker delivers queued events to subscribers.
func (m *NotificationMonitor) eventWorker(done *closeOnce, queue <-chan StateChangeEvent) {
	defer m.wg.Done()

	for {
		select {
		case <-done.Done():
			drain(queue)
			return
		case ev := <-queue:
			m.dispatch(ev)
		}
	}
}

func (m *NotificationMonitor) dispatch(ev StateChangeEvent) {
	m.subsMu.RLock()
	subs := make([]func(StateChangeEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subsMu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.errorsTotal.Add(1)
					m.logger.Error("state change subscriber panic", "error", fmt.Errorf("%v", r))
				}
			}()
			fn(ev)
		}()
	}
	m.eventsDispatched.Add(1)
}

func drain(queue <-chan StateChangeEvent) {
	for {
		select {
		case <-queue:
		default:
			return
		}
	}
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func isDone(c *closeOnce) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}
