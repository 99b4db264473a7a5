package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stellamotors/telemetry-agent/internal/can"
	"github.com/stellamotors/telemetry-agent/internal/queue"
)

// initBackend selects the CAN ingestion backend (SPEC_FULL.md §4.7),
// starts its RX loop feeding frameQueue, and returns a cleanup func. It
// returns an error instead of exiting the process so the caller can log
// and fail gracefully.
func initBackend(ctx context.Context, cfg *appConfig, frameQueue *queue.Queue[can.Frame], l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	switch cfg.canBackend {
	case "serial":
		return initSerialBackend(ctx, cfg, frameQueue, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, frameQueue, l, wg)
	default:
		return func() {}, fmt.Errorf("unknown can-backend %q (use serial|socketcan)", cfg.canBackend)
	}
}
