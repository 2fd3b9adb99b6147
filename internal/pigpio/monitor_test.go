package pigpio

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReport(t *testing.T) {
	raw := []byte{
		0x05, 0x00, // seq
		0x40, 0x00, // flags: keep-alive
		0x10, 0x27, 0x00, 0x00, // tick 10000
		0x11, 0x00, 0x00, 0x80, // level: gpio 0, 4, 31
	}

	r, err := DecodeReport(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), r.Seq)
	assert.Equal(t, FlagAlive, r.Flags)
	assert.Equal(t, uint32(10000), r.Tick)
	assert.Equal(t, uint32(0x80000011), r.Level)
	assert.Equal(t, raw, EncodeReport(r))

	_, err = DecodeReport(raw[:8])
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func collectEvents(session *Session) <-chan StateChangeEvent {
	events := make(chan StateChangeEvent, 16)
	session.Subscribe(func(ev StateChangeEvent) { events <- ev })
	return events
}

func nextEvent(t *testing.T, events <-chan StateChangeEvent) StateChangeEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state change event")
		return StateChangeEvent{}
	}
}

func sendReport(t *testing.T, conn net.Conn, r Report) {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write(EncodeReport(r))
	require.NoError(t, err)
}

func TestNotificationsLifecycle(t *testing.T) {
	session, daemon := newTestSession(t)
	ctx := context.Background()
	events := collectEvents(session)

	_, err := session.Initialize(ctx)
	require.NoError(t, err)

	require.NoError(t, session.Notifications(ctx, 4, true))
	listener := daemon.Listener(t)

	assert.Equal(t, 2, daemon.Dials(), "command socket plus listener socket")
	assert.Equal(t, 1, daemon.Count(CmdNotifyOpenInBand))
	assert.Equal(t, 1, daemon.Count(CmdReadBank1), "initial levels")
	assert.Equal(t, uint32(1<<4), session.NotificationMask())

	var begin Packet
	for _, p := range daemon.Received() {
		if p.Command == CmdNotifyBegin {
			begin = p
		}
	}
	assert.Equal(t, int32(7), begin.P1, "handle from NOIB")
	assert.Equal(t, int32(1<<4), begin.P2)

	// Level change on a monitored pin.
	sendReport(t, listener, Report{Seq: 1, Tick: 100, Level: 1 << 4})
	ev := nextEvent(t, events)
	assert.Equal(t, 4, ev.Pin)
	assert.Equal(t, High, ev.Level)
	assert.Equal(t, uint16(1), ev.Sequence)
	assert.Equal(t, uint32(100), ev.Tick)

	// Unmonitored pin and keep-alive produce nothing; the next change does.
	sendReport(t, listener, Report{Seq: 2, Tick: 200, Level: 1<<4 | 1<<5})
	sendReport(t, listener, Report{Seq: 3, Flags: FlagAlive, Tick: 300, Level: 1<<4 | 1<<5})
	sendReport(t, listener, Report{Seq: 4, Tick: 400, Level: 1 << 5})

	ev = nextEvent(t, events)
	assert.Equal(t, 4, ev.Pin)
	assert.Equal(t, Low, ev.Level)
	assert.Equal(t, uint16(4), ev.Sequence)

	// Watchdog on the monitored pin.
	sendReport(t, listener, Report{Seq: 5, Flags: FlagWatchdog | 4, Tick: 500, Level: 1 << 5})
	ev = nextEvent(t, events)
	assert.True(t, ev.Watchdog)
	assert.Equal(t, 4, ev.Pin)

	// Adding a second pin only pushes a new mask.
	require.NoError(t, session.Notifications(ctx, 17, true))
	assert.Equal(t, 1, daemon.Count(CmdNotifyOpenInBand))
	assert.Equal(t, uint32(1<<4|1<<17), session.NotificationMask())

	require.NoError(t, session.DisableNotifications(ctx))
	assert.Equal(t, 1, daemon.Count(CmdNotifyClose))
	assert.Equal(t, uint32(0), session.NotificationMask())
	assert.False(t, session.Stats().Monitor.Active)

	stats := session.Stats().Monitor
	assert.Equal(t, uint64(5), stats.ReportsRx)
	assert.Equal(t, uint64(3), stats.EventsDispatched)
}

func TestNotificationsDisableLastPinStopsListener(t *testing.T) {
	session, daemon := newTestSession(t)
	ctx := context.Background()

	_, err := session.Initialize(ctx)
	require.NoError(t, err)

	require.NoError(t, session.Notifications(ctx, 22, true))
	_ = daemon.Listener(t)
	require.NoError(t, session.Notifications(ctx, 22, false))

	assert.Equal(t, 1, daemon.Count(CmdNotifyClose))
	assert.False(t, session.Stats().Monitor.Active)

	// Re-enabling opens a fresh listener.
	require.NoError(t, session.Notifications(ctx, 22, true))
	_ = daemon.Listener(t)
	assert.Equal(t, 2, daemon.Count(CmdNotifyOpenInBand))
}

func TestNotificationsRequireInitialize(t *testing.T) {
	session, _ := newTestSession(t)

	err := session.Notifications(context.Background(), 4, true)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestNotificationsInvalidPin(t *testing.T) {
	session, _ := newTestSession(t)
	ctx := context.Background()

	_, err := session.Initialize(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, session.Notifications(ctx, 32, true), ErrInvalidPin)
	assert.ErrorIs(t, session.Notifications(ctx, -1, true), ErrInvalidPin)
}

func TestTerminateShutsDownMonitor(t *testing.T) {
	session, daemon := newTestSession(t)
	ctx := context.Background()

	_, err := session.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Notifications(ctx, 4, true))
	_ = daemon.Listener(t)

	require.NoError(t, session.Terminate(ctx))

	assert.Equal(t, 1, daemon.Count(CmdNotifyClose))
	assert.Equal(t, uint32(0), session.NotificationMask())
	assert.False(t, session.Stats().Monitor.Active)
}

func TestMonitorSubscriberPanicRecovered(t *testing.T) {
	session, daemon := newTestSession(t)
	ctx := context.Background()

	session.Subscribe(func(StateChangeEvent) { panic("boom") })
	events := collectEvents(session)

	_, err := session.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Notifications(ctx, 4, true))
	listener := daemon.Listener(t)

	sendReport(t, listener, Report{Seq: 1, Level: 1 << 4})
	ev := nextEvent(t, events)
	assert.Equal(t, 4, ev.Pin)
}

// killListener closes the daemon side of the notification socket and
// waits for the monitor to notice.
func killListener(t *testing.T, session *Session, listener net.Conn) {
	t.Helper()
	require.NoError(t, listener.Close())
	require.Eventually(t, func() bool { return !session.Stats().Monitor.Active },
		2*time.Second, 5*time.Millisecond, "listener still active after daemon closed it")
}

func TestMonitorListenerClosedByDaemon(t *testing.T) {
	tests := []struct {
		name  string
		after func(t *testing.T, session *Session, daemon *MockDaemon)
	}{
		{
			name: "terminate reaps workers and clears mask",
			after: func(t *testing.T, session *Session, daemon *MockDaemon) {
				require.NoError(t, session.Terminate(context.Background()))

				assert.Equal(t, uint32(0), session.NotificationMask())
				assert.False(t, session.Stats().Monitor.Active)
				assert.Nil(t, session.monitor.done, "worker goroutines still running")
				assert.Equal(t, 0, daemon.Count(CmdNotifyClose), "handle died with its socket")
			},
		},
		{
			name: "re-enable opens a fresh listener",
			after: func(t *testing.T, session *Session, daemon *MockDaemon) {
				events := collectEvents(session)
				ctx := context.Background()

				require.NoError(t, session.Notifications(ctx, 4, true))
				listener := daemon.Listener(t)

				assert.Equal(t, 2, daemon.Count(CmdNotifyOpenInBand))
				assert.True(t, session.Stats().Monitor.Active)
				assert.Equal(t, uint32(1<<4), session.NotificationMask())

				sendReport(t, listener, Report{Seq: 1, Level: 1 << 4})
				ev := nextEvent(t, events)
				assert.Equal(t, 4, ev.Pin)
				assert.Equal(t, High, ev.Level)
			},
		},
		{
			name: "disable still clears the mask",
			after: func(t *testing.T, session *Session, daemon *MockDaemon) {
				require.NoError(t, session.DisableNotifications(context.Background()))

				assert.Equal(t, uint32(0), session.NotificationMask())
				assert.Nil(t, session.monitor.done)
				assert.Equal(t, 0, daemon.Count(CmdNotifyClose))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, daemon := newTestSession(t)
			ctx := context.Background()

			_, err := session.Initialize(ctx)
			require.NoError(t, err)
			require.NoError(t, session.Notifications(ctx, 4, true))

			killListener(t, session, daemon.Listener(t))

			stats := session.Stats().Monitor
			assert.Equal(t, uint64(1), stats.ErrorsTotal)
			assert.Equal(t, uint32(1<<4), stats.Mask, "interest survives until disabled")

			tt.after(t, session, daemon)
		})
	}
}

func TestMonitorNotifyBeginRejected(t *testing.T) {
	session, daemon := newTestSession(t)
	ctx := context.Background()

	daemon.SetHandler(func(tx Packet) Packet {
		if tx.Command == CmdNotifyBegin {
			return Packet{Command: tx.Command, P3: -25}
		}
		return defaultResponse(tx)
	})

	_, err := session.Initialize(ctx)
	require.NoError(t, err)

	err = session.Notifications(ctx, 4, true)
	var daemonErr *DaemonError
	require.ErrorAs(t, err, &daemonErr)
	assert.Equal(t, int32(-25), daemonErr.Code)

	listener := daemon.Listener(t)

	stats := session.Stats().Monitor
	assert.False(t, stats.Active)
	assert.Equal(t, uint32(0), stats.Mask)
	assert.Equal(t, 0, stats.Handle)
	assert.Nil(t, session.monitor.done)
	assert.Equal(t, 1, daemon.Count(CmdNotifyClose), "handle from NOIB released")
	assert.True(t, session.Connected(), "a daemon error keeps the command socket")

	// The listener socket was closed from our side.
	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = listener.Read(make([]byte, 1))
	require.Error(t, err)
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "listener socket left open")
}

func TestMonitorNotifyBeginRejectedKeepsRunningListener(t *testing.T) {
	session, daemon := newTestSession(t)
	ctx := context.Background()

	_, err := session.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Notifications(ctx, 4, true))
	_ = daemon.Listener(t)

	daemon.SetHandler(func(tx Packet) Packet {
		if tx.Command == CmdNotifyBegin {
			return Packet{Command: tx.Command, P3: -25}
		}
		return defaultResponse(tx)
	})

	require.Error(t, session.Notifications(ctx, 17, true))

	stats := session.Stats().Monitor
	assert.True(t, stats.Active, "an existing listener is not torn down")
	assert.Equal(t, uint32(1<<4), stats.Mask, "mask unchanged after rejected push")
	assert.Equal(t, 0, daemon.Count(CmdNotifyClose))
}

func TestMonitorQueueFullDropsEvents(t *testing.T) {
	daemon := NewMockDaemon(t)
	session := NewSession(Config{
		Dialer:         daemon.Dialer(),
		IOTimeout:      time.Second,
		EventQueueSize: 1,
		EventWorkers:   1,
	}, nil)
	ctx := context.Background()

	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	session.Subscribe(func(StateChangeEvent) {
		entered <- struct{}{}
		<-release
	})
	t.Cleanup(func() { _ = session.Terminate(context.Background()) })

	_, err := session.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Notifications(ctx, 4, true))
	listener := daemon.Listener(t)

	// The only worker blocks on the first event.
	sendReport(t, listener, Report{Seq: 1, Level: 1 << 4})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("subscriber never called")
	}

	// The second fills the queue; the third has nowhere to go.
	sendReport(t, listener, Report{Seq: 2, Level: 0})
	sendReport(t, listener, Report{Seq: 3, Level: 1 << 4})

	assert.Eventually(t, func() bool { return session.Stats().Monitor.EventsDropped == 1 },
		2*time.Second, 5*time.Millisecond)
	close(release)

	assert.Eventually(t, func() bool { return session.Stats().Monitor.EventsDispatched == 2 },
		2*time.Second, 5*time.Millisecond)

	stats := session.Stats().Monitor
	assert.Equal(t, uint64(3), stats.ReportsRx)
	assert.Equal(t, uint64(1), stats.ErrorsTotal)
	assert.Equal(t, uint32(1<<4), session.monitor.Levels(), "levels track reports even when events drop")
}
