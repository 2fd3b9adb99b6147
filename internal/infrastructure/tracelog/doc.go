// Package tracelog records every packet exchanged with the pigpio daemon to
// a file in CBOR, one record per packet, for offline protocol debugging.
//
// A FileTracer implements pigpio.Tracer and is installed with
// Session.SetTracer. Each tracer stamps its records with a random session
// ID so several bridge runs can append to the same file and still be told
// apart. Reader streams records back, optionally filtered.
//
// The gpioctl console prints a trace file with "trace <path>".
package tracelog
