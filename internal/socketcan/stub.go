//go:build !linux

// Package socketcan stub for non-Linux builds: SocketCAN is Linux-only,
// so Open always fails here with a clear error, without build tags
// leaking into callers.
package socketcan

import (
	"errors"

	"github.com/stellamotors/telemetry-agent/internal/can"
)

var errUnsupported = errors.New("socketcan: not supported on this platform")

type Device struct{}

func Open(iface string) (*Device, error) { return nil, errUnsupported }

func (d *Device) Close() error { return nil }

func (d *Device) Ready(timeoutMs int) (bool, error) { return false, errUnsupported }

func (d *Device) ReadFrame(fr *can.Frame) error { return errUnsupported }
