package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-gpio/internal/audit"
	"github.com/nerrad567/gray-logic-gpio/internal/history"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one command against the daemon.
	commandTimeout = 5 * time.Second

	// sinkTimeout bounds a history write for one event.
	sinkTimeout = 2 * time.Second

	// defaultStatsInterval is how often exchange counters go to InfluxDB.
	defaultStatsInterval = 30 * time.Second

	// pruneInterval is how often old history rows are removed.
	pruneInterval = time.Hour

	// wsChannelState is the WebSocket channel for pin state messages.
	wsChannelState = "gpio.state"

	qosAtLeastOnce byte = 1
)

// GPIO is the subset of *pigpio.Session the bridge drives.
type GPIO interface {
	Read(ctx context.Context, pin int) (pigpio.Level, error)
	Write(ctx context.Context, pin int, level pigpio.Level) error
	Notifications(ctx context.Context, pin int, enabled bool) error
	Subscribe(fn func(pigpio.StateChangeEvent)) (unsubscribe func())
	Stats() pigpio.SessionStats
}

// MQTTClient is the interface for MQTT operations.
// The infrastructure client is adapted to it in cmd/gpiobridge.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// MetricsWriter receives time-series samples. Satisfied by *influxdb.Client.
type MetricsWriter interface {
	WritePinLevel(s influxdb.PinSample)
	WriteBridgeStats(s influxdb.BridgeSample)
}

// Broadcaster fans state messages out to live clients.
// Satisfied by the API's WebSocket hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging interface used by the bridge.
// Satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds the collaborators and settings for a Bridge.
type Options struct {
	// GPIO is the daemon session. Required.
	GPIO GPIO

	// MQTTClient publishes state and receives commands. Required.
	MQTTClient MQTTClient

	// History stores every observed level change. Optional.
	History history.Repository

	// Metrics receives pin levels and exchange counters. Optional.
	Metrics MetricsWriter

	// Audit records write and notify commands. Optional.
	Audit audit.Repository

	// Broadcaster pushes state messages to WebSocket clients. Optional.
	Broadcaster Broadcaster

	Logger Logger

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// StatsInterval is how often counters go to Metrics. Default: 30s.
	StatsInterval time.Duration

	// Retention is how long history and audit entries are kept. Zero
	// disables pruning.
	Retention time.Duration
}

// Stats holds bridge counters.
type Stats struct {
	EventsForwarded uint64
	CommandsHandled uint64
	CommandsFailed  uint64
	SinkErrors      uint64
}

// Bridge routes GPIO events to MQTT, history, metrics and WebSocket
// clients, and executes commands received over MQTT.
type Bridge struct {
	gpio        GPIO
	mqtt        MQTTClient
	history     history.Repository
	audit       audit.Repository
	metrics     MetricsWriter
	broadcaster Broadcaster
	health      *HealthReporter
	logger      Logger
	topics      mqtt.Topics

	statsInterval time.Duration
	retention     time.Duration

	unsubscribe func()

	// Shutdown coordination
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	eventsForwarded atomic.Uint64
	commandsHandled atomic.Uint64
	commandsFailed  atomic.Uint64
	sinkErrors      atomic.Uint64
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.GPIO == nil {
		return nil, errors.New("bridge: GPIO session is required")
	}
	if opts.MQTTClient == nil {
		return nil, errors.New("bridge: MQTT client is required")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = defaultStatsInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		gpio:          opts.GPIO,
		mqtt:          opts.MQTTClient,
		history:       opts.History,
		audit:         opts.Audit,
		metrics:       opts.Metrics,
		broadcaster:   opts.Broadcaster,
		logger:        opts.Logger,
		statsInterval: opts.StatsInterval,
		retention:     opts.Retention,
		ctx:           ctx,
		ctxCancel:     cancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    opts.GPIO,
		Logger:    opts.Logger,
	})

	return b, nil
}

// Start subscribes to GPIO events and MQTT commands and starts the health
// and maintenance loops.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		err = b.start(ctx)
	})
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	b.unsubscribe = b.gpio.Subscribe(b.handleStateChange)

	commandTopic := b.topics.AllPinCommands()
	if err := b.mqtt.Subscribe(commandTopic, qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		b.unsubscribe()
		b.unsubscribe = nil
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	b.wg.Add(1)
	go b.maintenanceLoop(ctx)

	b.logger.Info("gpio bridge started")
	return nil
}

// Stop shuts the bridge down. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		if b.unsubscribe != nil {
			b.unsubscribe()
		}

		// Publishes "stopping".
		b.health.Stop()

		b.wg.Wait()
		b.logger.Info("gpio bridge stopped")
	})
}

// Stats returns a snapshot of bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		EventsForwarded: b.eventsForwarded.Load(),
		CommandsHandled: b.commandsHandled.Load(),
		CommandsFailed:  b.commandsFailed.Load(),
		SinkErrors:      b.sinkErrors.Load(),
	}
}

// Health returns the reporter's current view.
func (b *Bridge) Health() HealthMessage {
	return b.health.Current()
}

// Write drives pin to level and records the change as a command. A
// monitored pin is left to its level change report so history gets one
// row per transition.
func (b *Bridge) Write(ctx context.Context, pin int, level pigpio.Level) error {
	if err := b.gpio.Write(ctx, pin, level); err != nil {
		return err
	}
	if monitored(b.gpio.Stats().Monitor.Mask, pin) {
		b.logger.Debug("gpio write left to notification", "pin", pin, "level", int(level))
		return nil
	}
	b.forward(StateMessage{
		Pin:       pin,
		Level:     int(level),
		Source:    SourceCommand,
		Protocol:  mqtt.ProtocolGPIO,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Read returns the level of pin and republishes it as state.
func (b *Bridge) Read(ctx context.Context, pin int) (pigpio.Level, error) {
	level, err := b.gpio.Read(ctx, pin)
	if err != nil {
		return pigpio.Low, err
	}
	b.publishState(StateMessage{
		Pin:       pin,
		Level:     int(level),
		Source:    SourceRead,
		Protocol:  mqtt.ProtocolGPIO,
		Timestamp: time.Now().UTC(),
	})
	return level, nil
}

// SetNotifications enables or disables level change reports for pin.
func (b *Bridge) SetNotifications(ctx context.Context, pin int, enabled bool) error {
	if err := b.gpio.Notifications(ctx, pin, enabled); err != nil {
		return err
	}
	b.logger.Info("gpio notifications changed", "pin", pin, "enabled", enabled)
	if err := b.health.PublishNow(); err != nil {
		b.logger.Warn("failed to publish health", "error", err)
	}
	return nil
}

// handleStateChange receives daemon reports on a monitor worker goroutine.
func (b *Bridge) handleStateChange(ev pigpio.StateChangeEvent) {
	msg := NewStateMessage(ev)
	b.forward(msg)

	if b.metrics != nil {
		b.metrics.WritePinLevel(influxdb.PinSample{
			Pin:      ev.Pin,
			Level:    int(ev.Level),
			Watchdog: ev.Watchdog,
			Tick:     ev.Tick,
			Time:     msg.Timestamp,
		})
	}
}

// forward publishes msg and stores it in history.
func (b *Bridge) forward(msg StateMessage) {
	b.publishState(msg)
	b.eventsForwarded.Add(1)

	if b.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, sinkTimeout)
	defer cancel()

	err := b.history.RecordEvent(ctx, history.PinEvent{
		Pin:       msg.Pin,
		Level:     msg.Level,
		Watchdog:  msg.Watchdog,
		Sequence:  msg.Sequence,
		Tick:      msg.Tick,
		Source:    msg.Source,
		CreatedAt: msg.Timestamp,
	})
	if err != nil {
		b.sinkErrors.Add(1)
		b.logger.Error("failed to record pin event", "pin", msg.Pin, "error", err)
	}
}

// publishState sends msg to MQTT (retained) and WebSocket clients.
func (b *Bridge) publishState(msg StateMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal state", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.PinState(msg.Pin), payload, qosAtLeastOnce, true); err != nil {
		b.sinkErrors.Add(1)
		b.logger.Warn("failed to publish state", "pin", msg.Pin, "error", err)
	}
	if b.broadcaster != nil {
		b.broadcaster.Broadcast(wsChannelState, msg)
	}
	b.logger.Debug("gpio state published", "pin", msg.Pin, "level", msg.Level, "source", msg.Source)
}

// handleMQTTMessage executes a command received on a pin command topic.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	pin, err := mqtt.ParsePinTopic(topic)
	if err != nil {
		b.logger.Warn("ignoring command on invalid topic", "topic", topic, "error", err)
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(pin, NewAckError(cmd, pin, ErrCodeInvalidCommand,
			fmt.Sprintf("invalid JSON: %v", err), 0))
		return
	}

	b.logger.Info("received command", "command_id", cmd.ID, "pin", pin, "action", cmd.Action)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	level, err := b.executeCommand(ctx, pin, cmd)
	b.recordCommand(pin, cmd, err)
	if err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(pin, ackForError(cmd, pin, err))
		b.logger.Error("command failed", "command_id", cmd.ID, "pin", pin, "error", err)
		return
	}

	b.commandsHandled.Add(1)
	b.publishAck(pin, NewAckMessage(cmd, pin, level))
}

// executeCommand runs cmd against the daemon. It returns the resulting
// level for read and write.
func (b *Bridge) executeCommand(ctx context.Context, pin int, cmd CommandMessage) (*int, error) {
	switch cmd.Action {
	case ActionWrite:
		if cmd.Level == nil {
			return nil, fmt.Errorf("%w: write requires level", ErrInvalidParameters)
		}
		if *cmd.Level != 0 && *cmd.Level != 1 {
			return nil, fmt.Errorf("%w: level must be 0 or 1, got %d", ErrInvalidParameters, *cmd.Level)
		}
		if err := b.Write(ctx, pin, pigpio.Level(*cmd.Level)); err != nil { //nolint:gosec // G115: validated 0 or 1
			return nil, err
		}
		return cmd.Level, nil

	case ActionRead:
		level, err := b.Read(ctx, pin)
		if err != nil {
			return nil, err
		}
		v := int(level)
		return &v, nil

	case ActionNotify:
		if cmd.Enabled == nil {
			return nil, fmt.Errorf("%w: notify requires enabled", ErrInvalidParameters)
		}
		return nil, b.SetNotifications(ctx, pin, *cmd.Enabled)

	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, cmd.Action)
	}
}

// recordCommand writes an audit entry for state-changing commands.
// Reads and unknown actions are not audited.
func (b *Bridge) recordCommand(pin int, cmd CommandMessage, cmdErr error) {
	if b.audit == nil || (cmd.Action != ActionWrite && cmd.Action != ActionNotify) {
		return
	}

	entry := &audit.Entry{
		Action:    cmd.Action,
		Pin:       pin,
		Source:    audit.SourceMQTT,
		Subject:   cmd.Source,
		CommandID: cmd.ID,
		Status:    audit.StatusOK,
		Details:   map[string]any{},
	}
	if cmd.Level != nil {
		entry.Details["level"] = *cmd.Level
	}
	if cmd.Enabled != nil {
		entry.Details["enabled"] = *cmd.Enabled
	}
	if cmdErr != nil {
		entry.Status = audit.StatusError
		entry.Details["error"] = cmdErr.Error()
	}

	ctx, cancel := context.WithTimeout(b.ctx, sinkTimeout)
	defer cancel()
	if err := b.audit.Record(ctx, entry); err != nil {
		b.sinkErrors.Add(1)
		b.logger.Error("failed to record command audit", "pin", pin, "command_id", cmd.ID, "error", err)
	}
}

// ackForError maps a command failure to an acknowledgement.
func ackForError(cmd CommandMessage, pin int, err error) AckMessage {
	var daemonErr *pigpio.DaemonError
	switch {
	case errors.Is(err, ErrInvalidCommand):
		return NewAckError(cmd, pin, ErrCodeInvalidCommand, err.Error(), 0)
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, pigpio.ErrInvalidPin):
		return NewAckError(cmd, pin, ErrCodeInvalidParameters, err.Error(), 0)
	case errors.As(err, &daemonErr):
		return NewAckError(cmd, pin, ErrCodeDaemonError, err.Error(), int(daemonErr.Code))
	default:
		return NewAckError(cmd, pin, ErrCodeDaemonUnreachable, err.Error(), 0)
	}
}

func (b *Bridge) publishAck(pin int, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.PinAck(pin), payload, qosAtLeastOnce, false); err != nil {
		b.logger.Error("failed to publish ack", "pin", pin, "error", err)
	}
}

// maintenanceLoop writes exchange counters to metrics and prunes history.
func (b *Bridge) maintenanceLoop(ctx context.Context) {
	defer b.wg.Done()

	statsTicker := time.NewTicker(b.statsInterval)
	defer statsTicker.Stop()

	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	b.pruneHistory()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.ctx.Done():
			return
		case <-statsTicker.C:
			b.writeStats()
		case <-pruneTicker.C:
			b.pruneHistory()
		}
	}
}

func (b *Bridge) writeStats() {
	if b.metrics == nil {
		return
	}
	s := b.gpio.Stats()
	b.metrics.WriteBridgeStats(influxdb.BridgeSample{
		PacketsTx:      s.Sender.PacketsTx,
		PacketsRx:      s.Sender.PacketsRx,
		Errors:         s.Sender.ErrorsTotal + s.Monitor.ErrorsTotal,
		ReportsRx:      s.Monitor.ReportsRx,
		EventsDropped:  s.Monitor.EventsDropped,
		NotifyPinCount: len(MaskPins(s.Monitor.Mask)),
		Connected:      s.Connected,
	})
}

func (b *Bridge) pruneHistory() {
	if b.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()

	if b.history != nil {
		n, err := b.history.PruneHistory(ctx, b.retention)
		if err != nil {
			b.logger.Error("failed to prune history", "error", err)
		} else if n > 0 {
			b.logger.Info("pruned pin history", "deleted", n)
		}
	}

	if b.audit != nil {
		n, err := b.audit.Prune(ctx, b.retention)
		if err != nil {
			b.logger.Error("failed to prune audit log", "error", err)
		} else if n > 0 {
			b.logger.Info("pruned audit log", "deleted", n)
		}
	}
}

func monitored(mask uint32, pin int) bool {
	return pin >= 0 && pin <= pigpio.MaxUserGPIO && mask&(1<<uint(pin)) != 0 //nolint:gosec // G115: bounds checked
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
