package tracelog

import (
	"os"
	"slices"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

const filePermissions = 0600

// FileTracer appends every traced packet to a file.
// It is safe for concurrent use from multiple goroutines.
type FileTracer struct {
	sessionID string

	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
	written uint64
	failed  uint64
}

// NewFileTracer opens path for appending, creating it if needed.
func NewFileTracer(path string) (*FileTracer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, err
	}
	return &FileTracer{
		sessionID: uuid.NewString(),
		file:      f,
		encoder:   newEncoder(f),
	}, nil
}

// SessionID identifies the records written by this tracer.
func (t *FileTracer) SessionID() string {
	return t.sessionID
}

// Trace implements pigpio.Tracer. Encoding failures are counted, never
// surfaced, so tracing cannot disturb the exchange being traced.
func (t *FileTracer) Trace(dir pigpio.Direction, p pigpio.Packet, err error) {
	rec := Record{
		Timestamp: time.Now(),
		SessionID: t.sessionID,
		Direction: dir.String(),
		Command:   p.Command.String(),
		Code:      uint32(p.Command),
		P1:        p.P1,
		P2:        p.P2,
		P3:        p.P3,
		Data:      slices.Clone(p.Data),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if encErr := t.encoder.Encode(rec); encErr != nil {
		t.failed++
		return
	}
	t.written++
}

// Counts returns how many records were written and how many failed.
func (t *FileTracer) Counts() (written, failed uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written, t.failed
}

// Close closes the file. Later Trace calls are ignored.
// It is safe to call Close multiple times.
func (t *FileTracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.file.Close()
}

var _ pigpio.Tracer = (*FileTracer)(nil)
