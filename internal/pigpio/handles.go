package pigpio

import (
	"cmp"
	"slices"
	"sync"
)

// HandleKind is the peripheral a daemon handle belongs to.
type HandleKind uint8

const (
	HandleI2C HandleKind = iota + 1
	HandleSPI
	HandleSerial
)

func (k HandleKind) String() string {
	switch k {
	case HandleI2C:
		return "i2c"
	case HandleSPI:
		return "spi"
	case HandleSerial:
		return "serial"
	default:
		return "unknown"
	}
}

// CloseCommand returns the daemon command that releases a handle of kind k.
func (k HandleKind) CloseCommand() Command {
	switch k {
	case HandleI2C:
		return CmdI2CClose
	case HandleSPI:
		return CmdSPIClose
	default:
		return CmdSerialClose
	}
}

// Handle is an open peripheral handle on the daemon.
type Handle struct {
	Kind HandleKind
	ID   int
}

// HandleRegistry tracks the peripheral handles opened through a Session
// so they can be released on Terminate.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type HandleRegistry struct {
	mu      sync.Mutex
	handles map[Handle]struct{}
}

// NewHandleRegistry returns an empty registry.
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{handles: make(map[Handle]struct{})}
}

// Add records an open handle.
func (r *HandleRegistry) Add(kind HandleKind, id int) {
	r.mu.Lock()
	r.handles[Handle{Kind: kind, ID: id}] = struct{}{}
	r.mu.Unlock()
}

// Remove forgets a handle. Removing an unknown handle is a no-op.
func (r *HandleRegistry) Remove(kind HandleKind, id int) {
	r.mu.Lock()
	delete(r.handles, Handle{Kind: kind, ID: id})
	r.mu.Unlock()
}

// Handles returns the open handles ordered by kind, then ID.
func (r *HandleRegistry) Handles() []Handle {
	r.mu.Lock()
	out := make([]Handle, 0, len(r.handles))
	for h := range r.handles {
		out = append(out, h)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Handle) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of open handles.
func (r *HandleRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
