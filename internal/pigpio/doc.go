// Package pigpio implements a client for the pigpio GPIO daemon.
//
// The daemon exposes GPIO, I2C, SPI, serial and notification services over
// a stream socket using a fixed 16-byte request/response header. This
// package owns the connection to it and turns commands into exchanges.
//
// # Architecture
//
//	┌──────────────┐   ┌──────────┐   ┌─────────────────┐    TCP / Unix / serial
//	│   Session    │──►│  Sender  │──►│ StreamsProvider │◄─────────────────────► pigpiod
//	│  (lifecycle) │   │ (1 exch) │   │   (one conn)    │
//	└──────┬───────┘   └──────────┘   └─────────────────┘
//	       │
//	       ▼
//	┌─────────────────────┐   listener conn (NOIB)
//	│ NotificationMonitor │◄──────────────────────── 12-byte reports
//	└─────────────────────┘
//
// # Wire Format
//
// Every exchange is a header of four little-endian 32-bit fields
// (command, p1, p2, p3), identical for request and response. Only the two
// bulk I2C reads (I2CRD, I2CRI) return a payload whose length is p3; for
// every other command p3 is the result.
//
// # Connection Handling
//
// Nothing is dialled until the first command. When an exchange fails the
// Sender terminates the connection and returns ErrTransport; the next
// command reconnects. There are no internal retries.
//
// Example:
//
//	session := pigpio.NewSession(pigpio.Config{
//	    Dialer: pigpio.DialTCP("raspberrypi.local", pigpio.DefaultPort, 0),
//	}, logger)
//	defer session.Terminate(context.Background())
//
//	version, err := session.Initialize(ctx)
//	if err != nil {
//	    return err
//	}
//	level, err := session.Read(ctx, 17)
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Exchanges on one
// connection are serialised.
package pigpio
