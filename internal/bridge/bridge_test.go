package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-gpio/internal/audit"
	"github.com/nerrad567/gray-logic-gpio/internal/history"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

const commandFilter = "graylogic/command/gpio/+"

type testRig struct {
	bridge  *Bridge
	gpio    *mockGPIO
	mqtt    *mockMQTTClient
	history *fakeHistory
	metrics *fakeMetrics
	audit   *fakeAudit
	ws      *fakeBroadcaster
}

func newTestRig(t *testing.T, mutate func(*Options)) *testRig {
	t.Helper()

	rig := &testRig{
		gpio:    &mockGPIO{},
		mqtt:    newMockMQTTClient(),
		history: &fakeHistory{},
		metrics: &fakeMetrics{},
		audit:   &fakeAudit{},
		ws:      &fakeBroadcaster{},
	}
	opts := Options{
		GPIO:           rig.gpio,
		MQTTClient:     rig.mqtt,
		History:        rig.history,
		Metrics:        rig.metrics,
		Audit:          rig.audit,
		Broadcaster:    rig.ws,
		Version:        "test",
		HealthInterval: time.Hour,
		StatsInterval:  time.Hour,
	}
	if mutate != nil {
		mutate(&opts)
	}

	b, err := New(opts)
	require.NoError(t, err)
	rig.bridge = b

	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)
	return rig
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"missing GPIO", Options{MQTTClient: newMockMQTTClient()}},
		{"missing MQTT", Options{GPIO: &mockGPIO{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestStartSubscribeFailure(t *testing.T) {
	mqttClient := newMockMQTTClient()
	mqttClient.subErr = errors.New("not connected")
	gpio := &mockGPIO{}

	b, err := New(Options{GPIO: gpio, MQTTClient: mqttClient})
	require.NoError(t, err)

	err = b.Start(context.Background())
	require.Error(t, err)
	assert.False(t, gpio.emit(pigpio.StateChangeEvent{}), "GPIO subscription released on failure")
	b.Stop()
}

func TestStartPublishesHealthAndStopSaysStopping(t *testing.T) {
	rig := newTestRig(t, nil)

	assert.Eventually(t, func() bool {
		return len(rig.mqtt.publishedTo("graylogic/health/gpio")) >= 2
	}, time.Second, 5*time.Millisecond)

	first := rig.mqtt.publishedTo("graylogic/health/gpio")[0]
	assert.True(t, first.Retained)
	var starting HealthMessage
	require.NoError(t, json.Unmarshal(first.Payload, &starting))
	assert.Equal(t, HealthStarting, starting.Status)
	assert.Equal(t, "gpio", starting.Bridge)

	rig.bridge.Stop()
	rig.bridge.Stop()

	msgs := rig.mqtt.publishedTo("graylogic/health/gpio")
	var last HealthMessage
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Payload, &last))
	assert.Equal(t, HealthStopping, last.Status)
}

func TestStateChangeFansOut(t *testing.T) {
	rig := newTestRig(t, nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, rig.gpio.emit(pigpio.StateChangeEvent{
		Pin: 17, Level: pigpio.High, Sequence: 9, Tick: 4242, Time: at,
	}))

	states := rig.mqtt.publishedTo("graylogic/state/gpio/17")
	require.Len(t, states, 1)
	assert.True(t, states[0].Retained)
	assert.Equal(t, byte(1), states[0].QoS)

	var msg StateMessage
	require.NoError(t, json.Unmarshal(states[0].Payload, &msg))
	assert.Equal(t, StateMessage{
		Pin: 17, Level: 1, Sequence: 9, Tick: 4242,
		Source: SourceNotification, Protocol: "gpio", Timestamp: at,
	}, msg)

	events := rig.history.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, history.PinEvent{
		Pin: 17, Level: 1, Sequence: 9, Tick: 4242,
		Source: history.SourceNotification, CreatedAt: at,
	}, events[0])

	samples := rig.metrics.pinSamples()
	require.Len(t, samples, 1)
	assert.Equal(t, 17, samples[0].Pin)
	assert.Equal(t, uint32(4242), samples[0].Tick)

	assert.Equal(t, 1, rig.ws.count())
	assert.Equal(t, uint64(1), rig.bridge.Stats().EventsForwarded)
}

func TestWatchdogEventSource(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.gpio.emit(pigpio.StateChangeEvent{Pin: 4, Level: pigpio.Low, Watchdog: true})

	events := rig.history.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, SourceWatchdog, events[0].Source)
	assert.True(t, events[0].Watchdog)
	assert.True(t, rig.metrics.pinSamples()[0].Watchdog)
}

func TestHistoryFailureCounted(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.history.err = errors.New("disk full")

	rig.gpio.emit(pigpio.StateChangeEvent{Pin: 4, Level: pigpio.High})

	assert.Equal(t, uint64(1), rig.bridge.Stats().SinkErrors)
	assert.Len(t, rig.mqtt.publishedTo("graylogic/state/gpio/4"), 1, "MQTT still published")
}

func TestOptionalSinks(t *testing.T) {
	rig := newTestRig(t, func(o *Options) {
		o.History = nil
		o.Metrics = nil
		o.Broadcaster = nil
	})

	rig.gpio.emit(pigpio.StateChangeEvent{Pin: 5, Level: pigpio.High})
	assert.Len(t, rig.mqtt.publishedTo("graylogic/state/gpio/5"), 1)
}

func TestWriteCommand(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.gpio.On("Write", 17, pigpio.High).Return(nil).Once()

	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/17",
		[]byte(`{"id":"c1","action":"write","level":1}`))

	rig.gpio.AssertExpectations(t)

	ack := rig.mqtt.lastAck(t, "graylogic/ack/gpio/17")
	assert.Equal(t, "c1", ack.CommandID)
	assert.Equal(t, AckAccepted, ack.Status)
	assert.Equal(t, 17, ack.Pin)
	require.NotNil(t, ack.Level)
	assert.Equal(t, 1, *ack.Level)

	events := rig.history.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, history.SourceCommand, events[0].Source)
	assert.Len(t, rig.mqtt.publishedTo("graylogic/state/gpio/17"), 1)
	assert.Equal(t, uint64(1), rig.bridge.Stats().CommandsHandled)
}

func TestReadCommand(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.gpio.On("Read", 22).Return(pigpio.High, nil).Once()

	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/22",
		[]byte(`{"id":"r1","action":"read"}`))

	ack := rig.mqtt.lastAck(t, "graylogic/ack/gpio/22")
	assert.Equal(t, AckAccepted, ack.Status)
	require.NotNil(t, ack.Level)
	assert.Equal(t, 1, *ack.Level)

	var state StateMessage
	states := rig.mqtt.publishedTo("graylogic/state/gpio/22")
	require.Len(t, states, 1)
	require.NoError(t, json.Unmarshal(states[0].Payload, &state))
	assert.Equal(t, SourceRead, state.Source)
	assert.Empty(t, rig.history.snapshot(), "reads are not history")
}

func TestNotifyCommand(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.gpio.On("Notifications", 4, true).Return(nil).Once()

	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/4",
		[]byte(`{"id":"n1","action":"notify","enabled":true}`))

	rig.gpio.AssertExpectations(t)
	ack := rig.mqtt.lastAck(t, "graylogic/ack/gpio/4")
	assert.Equal(t, AckAccepted, ack.Status)
	assert.Nil(t, ack.Level)
}

func TestCommandFailures(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		setup      func(*mockGPIO)
		wantCode   string
		wantDaemon int
	}{
		{
			name:     "invalid JSON",
			payload:  `{"action":`,
			wantCode: ErrCodeInvalidCommand,
		},
		{
			name:     "unknown action",
			payload:  `{"id":"x","action":"blink"}`,
			wantCode: ErrCodeInvalidCommand,
		},
		{
			name:     "write without level",
			payload:  `{"id":"x","action":"write"}`,
			wantCode: ErrCodeInvalidParameters,
		},
		{
			name:     "write level out of range",
			payload:  `{"id":"x","action":"write","level":2}`,
			wantCode: ErrCodeInvalidParameters,
		},
		{
			name:     "notify without enabled",
			payload:  `{"id":"x","action":"notify"}`,
			wantCode: ErrCodeInvalidParameters,
		},
		{
			name:    "daemon rejects write",
			payload: `{"id":"x","action":"write","level":0}`,
			setup: func(g *mockGPIO) {
				g.On("Write", 9, pigpio.Low).Return(&pigpio.DaemonError{Command: pigpio.CmdWrite, Code: -41})
			},
			wantCode:   ErrCodeDaemonError,
			wantDaemon: -41,
		},
		{
			name:    "transport down",
			payload: `{"id":"x","action":"read"}`,
			setup: func(g *mockGPIO) {
				g.On("Read", 9).Return(pigpio.Low, fmt.Errorf("%w: broken pipe", pigpio.ErrTransport))
			},
			wantCode: ErrCodeDaemonUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, nil)
			if tt.setup != nil {
				tt.setup(rig.gpio)
			}

			rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/9", []byte(tt.payload))

			ack := rig.mqtt.lastAck(t, "graylogic/ack/gpio/9")
			assert.Equal(t, AckFailed, ack.Status)
			require.NotNil(t, ack.Error)
			assert.Equal(t, tt.wantCode, ack.Error.Code)
			assert.Equal(t, tt.wantDaemon, ack.Error.DaemonCode)
			assert.Equal(t, uint64(1), rig.bridge.Stats().CommandsFailed)
			assert.Empty(t, rig.history.snapshot())
		})
	}
}

func TestCommandOnInvalidTopicIgnored(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/led", []byte(`{"action":"read"}`))

	rig.gpio.AssertNotCalled(t, "Read", mock.Anything)
	assert.Equal(t, Stats{}, rig.bridge.Stats())
}

func TestMaintenanceWritesStatsAndPrunes(t *testing.T) {
	rig := newTestRig(t, func(o *Options) {
		o.StatsInterval = 10 * time.Millisecond
		o.Retention = 48 * time.Hour
	})
	rig.gpio.setStats(pigpio.SessionStats{
		Connected: true,
		Sender:    pigpio.SenderStats{PacketsTx: 10, PacketsRx: 9, ErrorsTotal: 1},
		Monitor:   pigpio.MonitorStats{Mask: 1<<4 | 1<<17, ReportsRx: 3, ErrorsTotal: 1},
	})

	assert.Eventually(t, func() bool {
		return len(rig.metrics.bridgeSamples()) > 0
	}, time.Second, 5*time.Millisecond)

	s := rig.metrics.bridgeSamples()[0]
	assert.Equal(t, uint64(10), s.PacketsTx)
	assert.Equal(t, uint64(2), s.Errors)
	assert.Equal(t, 2, s.NotifyPinCount)
	assert.True(t, s.Connected)

	calls, age := rig.history.prunes()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 48*time.Hour, age)
	assert.Equal(t, 48*time.Hour, rig.audit.pruned())
}

func TestCommandsAudited(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.gpio.On("Write", 17, pigpio.High).Return(nil).Once()
	rig.gpio.On("Write", 9, pigpio.Low).Return(&pigpio.DaemonError{Command: pigpio.CmdWrite, Code: -41}).Once()
	rig.gpio.On("Notifications", 4, false).Return(nil).Once()
	rig.gpio.On("Read", 22).Return(pigpio.High, nil).Once()

	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/17",
		[]byte(`{"id":"c1","action":"write","level":1,"source":"automation"}`))
	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/9",
		[]byte(`{"id":"c2","action":"write","level":0}`))
	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/4",
		[]byte(`{"id":"c3","action":"notify","enabled":false}`))
	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/22",
		[]byte(`{"id":"c4","action":"read"}`))
	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/22",
		[]byte(`{"id":"c5","action":"blink"}`))

	entries := rig.audit.snapshot()
	require.Len(t, entries, 3, "reads and unknown actions are not audited")

	assert.Equal(t, audit.ActionWrite, entries[0].Action)
	assert.Equal(t, 17, entries[0].Pin)
	assert.Equal(t, audit.SourceMQTT, entries[0].Source)
	assert.Equal(t, "automation", entries[0].Subject)
	assert.Equal(t, "c1", entries[0].CommandID)
	assert.Equal(t, audit.StatusOK, entries[0].Status)
	assert.Equal(t, 1, entries[0].Details["level"])

	assert.Equal(t, audit.StatusError, entries[1].Status)
	assert.Contains(t, entries[1].Details["error"], "-41")

	assert.Equal(t, audit.ActionNotify, entries[2].Action)
	assert.Equal(t, false, entries[2].Details["enabled"])
}

func TestAuditFailureCounted(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.audit.err = errors.New("disk full")
	rig.gpio.On("Write", 17, pigpio.High).Return(nil).Once()

	rig.mqtt.deliver(t, commandFilter, "graylogic/command/gpio/17",
		[]byte(`{"id":"c1","action":"write","level":1}`))

	// The command still succeeds.
	ack := rig.mqtt.lastAck(t, "graylogic/ack/gpio/17")
	assert.Equal(t, AckAccepted, ack.Status)
	assert.Equal(t, uint64(1), rig.bridge.Stats().SinkErrors)
}

func TestStopReleasesSubscription(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.bridge.Stop()

	assert.False(t, rig.gpio.emit(pigpio.StateChangeEvent{Pin: 1}))
}

func TestWriteRecordsOneEventPerTransition(t *testing.T) {
	tests := []struct {
		name        string
		mask        uint32
		wantHistory int
		wantSource  string
	}{
		{name: "unmonitored pin recorded as command", mask: 0, wantHistory: 1, wantSource: history.SourceCommand},
		{name: "monitored pin left to its report", mask: 1 << 17, wantHistory: 1, wantSource: history.SourceNotification},
		{name: "other pin monitored", mask: 1 << 4, wantHistory: 1, wantSource: history.SourceCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, nil)
			rig.gpio.setStats(pigpio.SessionStats{Monitor: pigpio.MonitorStats{Active: tt.mask != 0, Mask: tt.mask}})
			rig.gpio.On("Write", 17, pigpio.High).Return(nil).Once()

			require.NoError(t, rig.bridge.Write(context.Background(), 17, pigpio.High))

			// The daemon reports the transition when the pin is monitored.
			if tt.mask&(1<<17) != 0 {
				require.True(t, rig.gpio.emit(pigpio.StateChangeEvent{Pin: 17, Level: pigpio.High, Sequence: 1}))
			}

			events := rig.history.snapshot()
			require.Len(t, events, tt.wantHistory)
			assert.Equal(t, tt.wantSource, events[0].Source)
			for _, ev := range events {
				assert.Equal(t, 17, ev.Pin)
				assert.Equal(t, 1, ev.Level)
			}
		})
	}
}
