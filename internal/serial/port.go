// Package serial implements the alternate CAN ingestion backend for rigs
// without native SocketCAN: a USB/UART-attached CAN adapter speaking an
// SLCAN-style ASCII protocol, read with github.com/tarm/serial.
package serial

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the serial device at the given baud rate with a bounded
// read timeout so the ingestion loop can observe context cancellation.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
