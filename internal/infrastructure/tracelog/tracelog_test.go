package tracelog

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		SessionID: "abc",
		Direction: "tx",
		Command:   "I2CWD",
		Code:      57,
		P1:        3,
		P3:        2,
		Data:      []byte{0xAB, 0xCD},
	}

	data, err := EncodeRecord(rec)
	require.NoError(t, err)

	got, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp), "nanosecond timestamp preserved")
	got.Timestamp = rec.Timestamp
	assert.Equal(t, rec, got)
}

func TestRecordString(t *testing.T) {
	rec := Record{Direction: "rx", Command: "READ", P1: 4, P3: 1, Error: "boom", Data: []byte{1}}
	s := rec.String()
	assert.Contains(t, s, "READ p1=4 p2=0 p3=1")
	assert.Contains(t, s, "data=01")
	assert.True(t, strings.HasSuffix(s, "error=boom"))
}

func TestFileTracerWritesAndReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")

	tracer, err := NewFileTracer(path)
	require.NoError(t, err)
	require.NotEmpty(t, tracer.SessionID())

	tx := pigpio.Packet{Command: pigpio.CmdRead, P1: 4}
	tracer.Trace(pigpio.DirectionTx, tx, nil)
	tracer.Trace(pigpio.DirectionRx, pigpio.Packet{Command: pigpio.CmdRead, P3: 1}, nil)
	tracer.Trace(pigpio.DirectionTx, pigpio.Packet{Command: pigpio.CmdWrite, P1: 17, P2: 1}, errors.New("broken pipe"))

	written, failed := tracer.Counts()
	assert.Equal(t, uint64(3), written)
	assert.Equal(t, uint64(0), failed)
	require.NoError(t, tracer.Close())
	require.NoError(t, tracer.Close(), "double close")

	// Ignored after close.
	tracer.Trace(pigpio.DirectionTx, tx, nil)

	all, err := ReadAll(path, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "tx", all[0].Direction)
	assert.Equal(t, "READ", all[0].Command)
	assert.Equal(t, uint32(pigpio.CmdRead), all[0].Code)
	assert.Equal(t, int32(1), all[1].P3)
	assert.Equal(t, "broken pipe", all[2].Error)

	errs, err := ReadAll(path, Filter{OnlyErrors: true})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "WRITE", errs[0].Command)

	rx, err := ReadAll(path, Filter{Direction: "rx", SessionID: tracer.SessionID()})
	require.NoError(t, err)
	assert.Len(t, rx, 1)
}

func TestFileTracerAppendsAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")

	first, err := NewFileTracer(path)
	require.NoError(t, err)
	first.Trace(pigpio.DirectionTx, pigpio.Packet{Command: pigpio.CmdVersion}, nil)
	require.NoError(t, first.Close())

	second, err := NewFileTracer(path)
	require.NoError(t, err)
	second.Trace(pigpio.DirectionTx, pigpio.Packet{Command: pigpio.CmdVersion}, nil)
	require.NoError(t, second.Close())

	assert.NotEqual(t, first.SessionID(), second.SessionID())

	records, err := ReadAll(path, Filter{SessionID: second.SessionID()})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = ReadAll(path, Filter{Command: "PIGPV"})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFileTracerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")
	tracer, err := NewFileTracer(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				tracer.Trace(pigpio.DirectionTx, pigpio.Packet{Command: pigpio.CmdRead, P1: int32(i)}, nil)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, tracer.Close())

	records, err := ReadAll(path, Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 200)
}

func TestReadAllMissingFile(t *testing.T) {
	_, err := ReadAll(filepath.Join(t.TempDir(), "missing.cbor"), Filter{})
	assert.Error(t, err)
}

func TestSessionTracing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")
	tracer, err := NewFileTracer(path)
	require.NoError(t, err)

	dial := func(ctx context.Context) (pigpio.Conn, error) {
		client, server := net.Pipe()
		go serveVersion(server)
		return client, nil
	}
	session := pigpio.NewSession(pigpio.Config{Dialer: dial, IOTimeout: time.Second}, nil)
	session.SetTracer(tracer)

	version, err := session.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 79, version)
	require.NoError(t, session.Terminate(context.Background()))
	require.NoError(t, tracer.Close())

	records, err := ReadAll(path, Filter{Command: "PIGPV"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "tx", records[0].Direction)
	assert.Equal(t, int32(79), records[1].P3)
}

// serveVersion answers every request on conn with a PIGPV reply.
func serveVersion(conn net.Conn) {
	defer conn.Close()
	for {
		if _, err := pigpio.Decode(conn, 0); err != nil {
			return
		}
		if _, err := conn.Write(pigpio.Encode(pigpio.Packet{Command: pigpio.CmdVersion, P3: 79})); err != nil {
			return
		}
	}
}
