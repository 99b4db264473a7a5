//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stellamotors/telemetry-agent/internal/can"
	"github.com/stellamotors/telemetry-agent/internal/queue"
)

// Placeholder so non-linux builds compile; SocketCAN is Linux-only.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, frameQueue *queue.Queue[can.Frame], l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	return func() {}, fmt.Errorf("socketcan backend unsupported on this platform")
}
