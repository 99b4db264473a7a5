//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stellamotors/telemetry-agent/internal/can"
	"github.com/stellamotors/telemetry-agent/internal/metrics"
	"github.com/stellamotors/telemetry-agent/internal/queue"
	"github.com/stellamotors/telemetry-agent/internal/socketcan"
)

// socketCANDevice is the subset of *socketcan.Device the RX loop needs,
// narrowed to an interface so tests can substitute a fake.
type socketCANDevice interface {
	Ready(timeoutMs int) (bool, error)
	ReadFrame(fr *can.Frame) error
	Close() error
}

// openSocketCANDevice is a hook for tests.
var openSocketCANDevice = func(iface string) (socketCANDevice, error) { return socketcan.Open(iface) }

const socketcanReadyPollMs = 1000

// initSocketCANBackend opens the SocketCAN interface and launches its
// RX loop, per spec.md §4.1: poll for readability with a short timeout
// so ctx cancellation is observable even with no traffic on the bus.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, frameQueue *queue.Queue[can.Frame], l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	dev, err := openSocketCANDevice(cfg.canIf)
	if err != nil {
		return func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			ready, err := dev.Ready(socketcanReadyPollMs)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrCANRead)
				l.Warn("socketcan_ready_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			if !ready {
				continue
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			metrics.IncFramesRead()
			backoff = rxBackoffMin
			if err := frameQueue.Push(ctx, fr); err != nil {
				return
			}
		}
	}()
	return func() { _ = dev.Close() }, nil
}
