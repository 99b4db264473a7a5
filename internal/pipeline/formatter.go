// Package pipeline wires the Frame Queue, Spill Queue and TCP Clients
// together into the Formatter and Supervisor workers of spec.md
// §4.2/§4.5. CAN ingestion backends live in cmd/telemetry-agent since
// they are the one piece of device-specific wiring; everything
// downstream of the Frame Queue is backend-agnostic and lives here.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/stellamotors/telemetry-agent/internal/can"
	"github.com/stellamotors/telemetry-agent/internal/format"
	"github.com/stellamotors/telemetry-agent/internal/logging"
	"github.com/stellamotors/telemetry-agent/internal/metrics"
	"github.com/stellamotors/telemetry-agent/internal/queue"
	"github.com/stellamotors/telemetry-agent/internal/tcpclient"
)

// Formatter is the worker of spec.md §4.2: it dequeues CAN frames,
// renders each to a Formatted Line, and routes it to the live TCP
// client or, failing that, the spill queue.
type Formatter struct {
	Car         int
	FrameQueue  *queue.Queue[can.Frame]
	SpillQueue  *queue.Queue[string]
	Live        *tcpclient.Client
	PollTimeout time.Duration
	PrintMsg    bool
	DebugCond   bool // log a line every time routing falls back to the spill queue
	DebugTap    func(string) // nil disables the local debug tap fan-out

	Logger *slog.Logger
	Clock  func() time.Time // overridable for tests
}

// NewFormatter constructs a Formatter with sane defaults for the
// optional fields.
func NewFormatter(car int, frameQueue *queue.Queue[can.Frame], spillQueue *queue.Queue[string], live *tcpclient.Client, pollTimeout time.Duration) *Formatter {
	return &Formatter{
		Car:         car,
		FrameQueue:  frameQueue,
		SpillQueue:  spillQueue,
		Live:        live,
		PollTimeout: pollTimeout,
		Logger:      logging.L().With("component", "formatter"),
		Clock:       time.Now,
	}
}

// Run loops until ctx is cancelled, then drains whatever is left in the
// Frame Queue (the "terminate AND queue empty" condition of spec.md §8)
// before returning.
func (f *Formatter) Run(ctx context.Context) error {
	for {
		fr, ok := f.FrameQueue.Pop(ctx)
		if !ok {
			f.drainRemaining(ctx)
			break
		}
		f.process(ctx, fr)
	}
	f.Logger.Info("terminated")
	return nil
}

// drainRemaining flushes any frames already queued before shutdown to
// the live client or the spill queue. Each drained line gets its own
// short-lived context: the parent ctx is already done, but the Spill
// Queue may still have room and a few milliseconds is enough to hand it
// off without blocking shutdown. A line whose spill hand-off does not
// complete within that 100ms window is dropped.
func (f *Formatter) drainRemaining(ctx context.Context) {
	for {
		fr, ok := f.FrameQueue.TryPop()
		if !ok {
			return
		}
		drainCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		f.process(drainCtx, fr)
		cancel()
	}
}

func (f *Formatter) process(ctx context.Context, fr can.Frame) {
	metrics.SetFrameQueueDepth(f.FrameQueue.Len())

	line := format.Line(f.Car, uint64(f.Clock().UnixMilli()), fr)
	metrics.IncLinesFormatted()

	if f.PrintMsg {
		f.Logger.Debug("line", "text", line)
	}
	if f.DebugTap != nil {
		f.DebugTap(line)
	}

	if f.Live.TryLiveSend(line, f.PollTimeout) {
		metrics.IncLinesSentLive()
		return
	}
	if f.DebugCond {
		f.Logger.Info("live_send_unavailable", "spill_queue_depth", f.SpillQueue.Len())
	}

	if err := f.SpillQueue.Push(ctx, line); err != nil {
		// Terminate observed while blocked on a full spill queue; the
		// Spill Writer is still draining so this line is simply not
		// enqueued, matching spec.md §8's terminate-with-full-queue case.
		return
	}
	metrics.IncLinesSpilled()
	metrics.SetSpillQueueDepth(f.SpillQueue.Len())
}
