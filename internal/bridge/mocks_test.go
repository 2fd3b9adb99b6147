package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-gpio/internal/audit"
	"github.com/nerrad567/gray-logic-gpio/internal/history"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

// mockMQTTClient records publishes and keeps subscription handlers.
type mockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]func(topic string, payload []byte)
	connected bool
	subErr    error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func newMockMQTTClient() *mockMQTTClient {
	return &mockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *mockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// deliver simulates a broker message arriving through the subscription
// registered for filter.
func (m *mockMQTTClient) deliver(t *testing.T, filter, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers[filter]
	m.mu.Unlock()
	require.True(t, ok, "no subscription for %s", filter)
	handler(topic, payload)
}

// publishedTo returns every message published on topic.
func (m *mockMQTTClient) publishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockMQTTClient) lastAck(t *testing.T, topic string) AckMessage {
	t.Helper()
	msgs := m.publishedTo(topic)
	require.NotEmpty(t, msgs, "no ack on %s", topic)
	var ack AckMessage
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Payload, &ack))
	return ack
}

// mockGPIO stubs the daemon session.
type mockGPIO struct {
	mock.Mock

	mu         sync.Mutex
	subscriber func(pigpio.StateChangeEvent)
	stats      pigpio.SessionStats
}

func (m *mockGPIO) Read(_ context.Context, pin int) (pigpio.Level, error) {
	args := m.Called(pin)
	return args.Get(0).(pigpio.Level), args.Error(1)
}

func (m *mockGPIO) Write(_ context.Context, pin int, level pigpio.Level) error {
	return m.Called(pin, level).Error(0)
}

func (m *mockGPIO) Notifications(_ context.Context, pin int, enabled bool) error {
	return m.Called(pin, enabled).Error(0)
}

func (m *mockGPIO) Subscribe(fn func(pigpio.StateChangeEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriber = fn
	return func() {
		m.mu.Lock()
		m.subscriber = nil
		m.mu.Unlock()
	}
}

func (m *mockGPIO) Stats() pigpio.SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mockGPIO) setStats(s pigpio.SessionStats) {
	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}

func (m *mockGPIO) emit(ev pigpio.StateChangeEvent) bool {
	m.mu.Lock()
	fn := m.subscriber
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ev)
	return true
}

// fakeHistory is an in-memory history.Repository.
type fakeHistory struct {
	mu         sync.Mutex
	events     []history.PinEvent
	pruneCalls int
	pruneAge   time.Duration
	err        error
}

func (f *fakeHistory) RecordEvent(_ context.Context, ev history.PinEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeHistory) GetHistory(_ context.Context, pin int, limit int) ([]history.PinEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []history.PinEvent
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].Pin == pin {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeHistory) PruneHistory(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	f.pruneAge = olderThan
	return 0, nil
}

func (f *fakeHistory) snapshot() []history.PinEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]history.PinEvent(nil), f.events...)
}

func (f *fakeHistory) prunes() (int, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pruneCalls, f.pruneAge
}

// fakeMetrics records samples.
type fakeMetrics struct {
	mu     sync.Mutex
	pins   []influxdb.PinSample
	bridge []influxdb.BridgeSample
}

func (f *fakeMetrics) WritePinLevel(s influxdb.PinSample) {
	f.mu.Lock()
	f.pins = append(f.pins, s)
	f.mu.Unlock()
}

func (f *fakeMetrics) WriteBridgeStats(s influxdb.BridgeSample) {
	f.mu.Lock()
	f.bridge = append(f.bridge, s)
	f.mu.Unlock()
}

func (f *fakeMetrics) pinSamples() []influxdb.PinSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]influxdb.PinSample(nil), f.pins...)
}

func (f *fakeMetrics) bridgeSamples() []influxdb.BridgeSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]influxdb.BridgeSample(nil), f.bridge...)
}

// fakeBroadcaster records broadcasts.
type fakeBroadcaster struct {
	mu       sync.Mutex
	channels []string
	payloads []any
}

func (f *fakeBroadcaster) Broadcast(channel string, payload any) {
	f.mu.Lock()
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

// fakeAudit is an in-memory audit.Repository.
type fakeAudit struct {
	mu       sync.Mutex
	entries  []audit.Entry
	pruneAge time.Duration
	err      error
}

func (f *fakeAudit) Record(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) List(_ context.Context, _ audit.Filter) (*audit.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &audit.ListResult{Entries: append([]audit.Entry(nil), f.entries...), Total: len(f.entries)}, nil
}

func (f *fakeAudit) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneAge = olderThan
	return 0, nil
}

func (f *fakeAudit) snapshot() []audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.Entry(nil), f.entries...)
}

func (f *fakeAudit) pruned() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pruneAge
}
