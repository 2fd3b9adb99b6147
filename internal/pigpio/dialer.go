package pigpio

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Daemon connection defaults.
const (
	// DefaultHost is the daemon host used when none is configured.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the daemon's well-known command port.
	DefaultPort = 8888

	// DefaultConnectTimeout bounds a single dial.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultBaudRate is used for serial:// connections without ?baud=.
	DefaultBaudRate = 115200
)

// DefaultAddress is DefaultHost:DefaultPort.
var DefaultAddress = net.JoinHostPort(DefaultHost, strconv.Itoa(DefaultPort))

// DialTCP returns a Dialer for a daemon listening on host:port.
// Empty host and zero port fall back to the defaults.
func DialTCP(host string, port int, timeout time.Duration) Dialer {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	return dialNetwork("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
}

// DialUnix returns a Dialer for a daemon listening on a Unix socket.
func DialUnix(path string, timeout time.Duration) Dialer {
	return dialNetwork("unix", path, timeout)
}

func dialNetwork(network, address string, timeout time.Duration) Dialer {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return func(ctx context.Context) (Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var dialer net.Dialer
		conn, err := dialer.DialContext(dialCtx, network, address)
		if err != nil {
			return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
		}
		return conn, nil
	}
}

// Endpoint is a parsed daemon connection URL.
type Endpoint struct {
	Network  string // "tcp", "unix" or "serial"
	Address  string // host:port, socket path or device path
	BaudRate int    // serial only
}

// String renders the endpoint back as a URL.
func (e Endpoint) String() string {
	switch e.Network {
	case "serial":
		return fmt.Sprintf("serial://%s?baud=%d", e.Address, e.BaudRate)
	case "unix":
		return "unix://" + e.Address
	default:
		return "tcp://" + e.Address
	}
}

// ParseConnectionURL parses a daemon connection URL.
//
// Supported formats:
//   - "tcp://192.168.1.20:8888" (TCP, the default transport)
//   - "tcp://" (TCP to DefaultAddress)
//   - "unix:///var/run/pigpio.sock" (Unix socket)
//   - "serial:///dev/ttyUSB0?baud=115200" (UART bridge)
func ParseConnectionURL(connURL string) (Endpoint, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidConnection, err)
	}

	switch u.Scheme {
	case "tcp":
		host := u.Host
		if host == "" {
			host = DefaultAddress
		} else if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), strconv.Itoa(DefaultPort))
		}
		return Endpoint{Network: "tcp", Address: host}, nil
	case "unix":
		if u.Path == "" {
			return Endpoint{}, fmt.Errorf("%w: unix socket path is empty", ErrInvalidConnection)
		}
		return Endpoint{Network: "unix", Address: u.Path}, nil
	case "serial":
		if u.Path == "" {
			return Endpoint{}, fmt.Errorf("%w: serial device path is empty", ErrInvalidConnection)
		}
		baud := DefaultBaudRate
		if v := u.Query().Get("baud"); v != "" {
			baud, err = strconv.Atoi(v)
			if err != nil || baud <= 0 {
				return Endpoint{}, fmt.Errorf("%w: invalid baud rate %q", ErrInvalidConnection, v)
			}
		}
		return Endpoint{Network: "serial", Address: u.Path, BaudRate: baud}, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q (use tcp, unix or serial)",
			ErrInvalidConnection, u.Scheme)
	}
}

// Dialer returns a Dialer for the endpoint.
func (e Endpoint) Dialer(timeout time.Duration) Dialer {
	switch e.Network {
	case "unix":
		return DialUnix(e.Address, timeout)
	case "serial":
		return DialSerial(e.Address, e.BaudRate)
	default:
		return dialNetwork("tcp", e.Address, timeout)
	}
}

// DialerFromURL parses connURL and returns its Dialer.
func DialerFromURL(connURL string, timeout time.Duration) (Dialer, error) {
	ep, err := ParseConnectionURL(connURL)
	if err != nil {
		return nil, err
	}
	return ep.Dialer(timeout), nil
}
