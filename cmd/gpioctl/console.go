package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/tracelog"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

var errUsage = errors.New("usage")

// Console executes gpioctl commands against a session.
type Console struct {
	session *pigpio.Session
	timeout time.Duration

	outMu sync.Mutex
	out   io.Writer

	showEvents  atomic.Bool
	unsubscribe func()

	tracer *tracelog.FileTracer
}

// NewConsole returns a console writing its output to out. State change
// events are printed once "events on" is given.
func NewConsole(session *pigpio.Session, out io.Writer, timeout time.Duration) *Console {
	c := &Console{
		session: session,
		timeout: timeout,
		out:     out,
	}
	c.unsubscribe = session.Subscribe(c.printEvent)
	return c
}

// Close stops event printing, closes the trace file and terminates the
// session.
func (c *Console) Close() {
	c.unsubscribe()
	c.stopTrace()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.session.Terminate(ctx); err != nil {
		c.printf("terminate: %v\n", err)
	}
}

// Execute runs one input line. It reports true when the user asked to
// quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "version", "v":
		err = c.cmdVersion(ctx)
	case "hwver":
		err = c.cmdHardwareRevision(ctx)
	case "tick":
		err = c.cmdTick(ctx)
	case "read", "r":
		err = c.cmdRead(ctx, args)
	case "write", "w":
		err = c.cmdWrite(ctx, args)
	case "mode":
		err = c.cmdMode(ctx, args)
	case "bank", "b":
		err = c.cmdBank(ctx)
	case "notify", "n":
		err = c.cmdNotify(ctx, args)
	case "events", "e":
		err = c.cmdEvents(args)
	case "raw":
		err = c.cmdRaw(ctx, args)
	case "stats", "s":
		c.cmdStats()
	case "trace":
		err = c.cmdTrace(args)
	case "quit", "exit", "q":
		c.printf("Exiting...\n")
		return true
	default:
		c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		c.printf("Error: %v\n", err)
	}
	return false
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) printHelp() {
	c.printf(`
pigpio Commands:
  Daemon:
    version            - Daemon version
    hwver              - Board hardware revision
    tick               - Daemon microsecond tick
    stats              - Session, transport and notification counters

  GPIO:
    read <pin>         - Read a pin level
    write <pin> <0|1>  - Drive a pin
    mode <pin> [in|out] - Show or set a pin mode
    bank               - Read all levels of bank 1

  Notifications:
    notify <pin> on|off - Watch a pin for level changes
    events on|off      - Print state change events as they arrive

  Diagnostics:
    raw <cmd> [p1] [p2] - Send any command by name (e.g. raw BR1)
    trace <path>|off   - Record packets to a CBOR trace file

  quit                 - Exit
`)
}

func (c *Console) cmdVersion(ctx context.Context) error {
	v, err := c.session.Version(ctx)
	if err != nil {
		return err
	}
	c.printf("pigpio version %d\n", v)
	return nil
}

func (c *Console) cmdHardwareRevision(ctx context.Context) error {
	rev, err := c.session.HardwareRevision(ctx)
	if err != nil {
		return err
	}
	c.printf("hardware revision 0x%x\n", rev)
	return nil
}

func (c *Console) cmdTick(ctx context.Context) error {
	tick, err := c.session.Tick(ctx)
	if err != nil {
		return err
	}
	c.printf("tick %d\n", tick)
	return nil
}

func (c *Console) cmdRead(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: read <pin>", errUsage)
	}
	pin, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pin %q", args[0])
	}

	level, err := c.session.Read(ctx, pin)
	if err != nil {
		return err
	}
	c.printf("GPIO %d = %d (%s)\n", pin, level, level)
	return nil
}

func (c *Console) cmdWrite(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: write <pin> <0|1>", errUsage)
	}
	pin, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pin %q", args[0])
	}
	level, err := parseLevel(args[1])
	if err != nil {
		return err
	}

	if err := c.session.Write(ctx, pin, level); err != nil {
		return err
	}
	c.printf("GPIO %d <- %d\n", pin, level)
	return nil
}

func (c *Console) cmdMode(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: mode <pin> [in|out]", errUsage)
	}
	pin, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pin %q", args[0])
	}

	if len(args) == 1 {
		mode, err := c.session.GetMode(ctx, pin)
		if err != nil {
			return err
		}
		c.printf("GPIO %d mode %s\n", pin, modeName(mode))
		return nil
	}

	var mode pigpio.Mode
	switch strings.ToLower(args[1]) {
	case "in", "input":
		mode = pigpio.ModeInput
	case "out", "output":
		mode = pigpio.ModeOutput
	default:
		return fmt.Errorf("unknown mode %q (want in or out)", args[1])
	}
	if err := c.session.SetMode(ctx, pin, mode); err != nil {
		return err
	}
	c.printf("GPIO %d mode %s\n", pin, modeName(mode))
	return nil
}

func (c *Console) cmdBank(ctx context.Context) error {
	bank, err := c.session.ReadBank1(ctx)
	if err != nil {
		return err
	}

	var high []string
	for pin := 0; pin <= pigpio.MaxUserGPIO; pin++ {
		if pigpio.LevelFromBit(bank, pin) == pigpio.High {
			high = append(high, strconv.Itoa(pin))
		}
	}
	c.printf("bank 1 = 0x%08x  high: [%s]\n", bank, strings.Join(high, " "))
	return nil
}

func (c *Console) cmdNotify(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: notify <pin> on|off", errUsage)
	}
	pin, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pin %q", args[0])
	}
	enabled, err := parseOnOff(args[1])
	if err != nil {
		return err
	}

	if err := c.session.Notifications(ctx, pin, enabled); err != nil {
		return err
	}
	c.printf("notifications on GPIO %d %s (mask 0x%08x)\n", pin, onOff(enabled), c.session.NotificationMask())
	return nil
}

func (c *Console) cmdEvents(args []string) error {
	if len(args) != 1 {
		c.printf("event printing %s\n", onOff(c.showEvents.Load()))
		return nil
	}
	enabled, err := parseOnOff(args[0])
	if err != nil {
		return err
	}
	c.showEvents.Store(enabled)
	c.printf("event printing %s\n", onOff(enabled))
	return nil
}

func (c *Console) printEvent(ev pigpio.StateChangeEvent) {
	if !c.showEvents.Load() {
		return
	}
	if ev.Watchdog {
		c.printf("[event] GPIO %d watchdog (level %d, tick %d, seq %d)\n", ev.Pin, ev.Level, ev.Tick, ev.Sequence)
		return
	}
	c.printf("[event] GPIO %d -> %d (tick %d, seq %d)\n", ev.Pin, ev.Level, ev.Tick, ev.Sequence)
}

func (c *Console) cmdRaw(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return fmt.Errorf("%w: raw <cmd> [p1] [p2]", errUsage)
	}
	cmd, err := pigpio.ParseCommand(args[0])
	if err != nil {
		return err
	}

	params := make([]int32, 0, 2)
	for _, a := range args[1:] {
		v, err := strconv.ParseInt(a, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid parameter %q", a)
		}
		params = append(params, int32(v))
	}

	rx, err := c.session.SendCommand(ctx, cmd, params...)
	if err != nil {
		return err
	}
	c.printf("%s p1=%d p2=%d p3=%d\n", rx.Command, rx.P1, rx.P2, rx.P3)
	if len(rx.Data) > 0 {
		c.printf("%s", hex.Dump(rx.Data))
	}
	return nil
}

func (c *Console) cmdStats() {
	s := c.session.Stats()
	c.printf("session:       initialized=%t connected=%t version=%d connects=%d handles=%d\n",
		s.Initialized, s.Connected, s.Version, s.Connects, s.OpenHandles)
	c.printf("transport:     tx=%d rx=%d errors=%d\n",
		s.Sender.PacketsTx, s.Sender.PacketsRx, s.Sender.ErrorsTotal)
	c.printf("notifications: active=%t handle=%d mask=0x%08x reports=%d dispatched=%d dropped=%d errors=%d\n",
		s.Monitor.Active, s.Monitor.Handle, s.Monitor.Mask, s.Monitor.ReportsRx,
		s.Monitor.EventsDispatched, s.Monitor.EventsDropped, s.Monitor.ErrorsTotal)
	if c.tracer != nil {
		written, failed := c.tracer.Counts()
		c.printf("trace:         session=%s records=%d failed=%d\n", c.tracer.SessionID(), written, failed)
	}
}

func (c *Console) cmdTrace(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: trace <path>|off", errUsage)
	}
	if strings.EqualFold(args[0], "off") {
		if c.tracer == nil {
			c.printf("tracing is off\n")
			return nil
		}
		c.stopTrace()
		c.printf("tracing stopped\n")
		return nil
	}
	return c.startTrace(args[0])
}

func (c *Console) startTrace(path string) error {
	c.stopTrace()

	tracer, err := tracelog.NewFileTracer(path)
	if err != nil {
		return err
	}
	c.tracer = tracer
	c.session.SetTracer(tracer)
	c.printf("tracing to %s (session %s)\n", path, tracer.SessionID())
	return nil
}

func (c *Console) stopTrace() {
	if c.tracer == nil {
		return
	}
	c.session.SetTracer(nil)
	if err := c.tracer.Close(); err != nil {
		c.printf("closing trace: %v\n", err)
	}
	c.tracer = nil
}

func parseLevel(s string) (pigpio.Level, error) {
	switch strings.ToLower(s) {
	case "0", "low", "off":
		return pigpio.Low, nil
	case "1", "high", "on":
		return pigpio.High, nil
	}
	return pigpio.Low, fmt.Errorf("invalid level %q (want 0 or 1)", s)
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func modeName(m pigpio.Mode) string {
	switch m {
	case pigpio.ModeInput:
		return "input"
	case pigpio.ModeOutput:
		return "output"
	case pigpio.ModeAlt0:
		return "alt0"
	case pigpio.ModeAlt1:
		return "alt1"
	case pigpio.ModeAlt2:
		return "alt2"
	case pigpio.ModeAlt3:
		return "alt3"
	case pigpio.ModeAlt4:
		return "alt4"
	case pigpio.ModeAlt5:
		return "alt5"
	}
	return fmt.Sprintf("mode(%d)", m)
}
