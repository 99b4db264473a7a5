package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stellamotors/telemetry-agent/internal/metrics"
)

// startMetricsLogger periodically logs a snapshot of the local counter
// mirrors, for deployments without a Prometheus scraper.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_read", snap.FramesRead,
					"lines_sent_live", snap.LinesLive,
					"lines_spilled", snap.LinesSpilled,
					"lines_uploaded", snap.LinesUploaded,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
