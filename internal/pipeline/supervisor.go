package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/stellamotors/telemetry-agent/internal/logging"
	"github.com/stellamotors/telemetry-agent/internal/tcpclient"
)

// Supervisor owns the pair of TCP Client instances and drives the
// connect/monitor/reconnect loop of spec.md §5: connect both under a
// single fixed-order lock at startup, then wait for a disconnect signal
// from either client (or a RECON_DELAY tick) and retry whichever one
// dropped. It also hosts the optional USE_TIMER/PROG_DUR
// self-termination timer.
type Supervisor struct {
	Live, Upload *tcpclient.Client

	ConnectTimeout time.Duration
	ReconDelay     time.Duration
	UseTimer       bool
	ProgDuration   time.Duration

	Logger *slog.Logger
}

// NewSupervisor constructs a Supervisor with a default logger.
func NewSupervisor(live, upload *tcpclient.Client, connectTimeout, reconDelay time.Duration) *Supervisor {
	return &Supervisor{
		Live:           live,
		Upload:         upload,
		ConnectTimeout: connectTimeout,
		ReconDelay:     reconDelay,
		Logger:         logging.L().With("component", "supervisor"),
	}
}

// ConnectPhase performs the initial connect of both clients under a
// single held pair of locks, matching spec.md §5's startup sequence.
// Failed dials are logged and left for the monitor loop to retry; the
// Supervisor never aborts the program over a failed initial connect.
func (s *Supervisor) ConnectPhase(ctx context.Context) {
	unlock := tcpclient.LockBoth(s.Live, s.Upload)
	defer unlock()
	dialCtx, cancel := context.WithTimeout(ctx, s.ConnectTimeout)
	defer cancel()
	if err := s.Live.Connect(dialCtx); err != nil {
		s.Logger.Warn("live_connect_failed", "error", err)
	}
	if err := s.Upload.Connect(dialCtx); err != nil {
		s.Logger.Warn("upload_connect_failed", "error", err)
	}
}

// Run drives the monitor loop until ctx is cancelled or, when UseTimer
// is set, ProgDuration elapses (in which case cancel is invoked so
// every other worker observes the same shutdown signal).
func (s *Supervisor) Run(ctx context.Context, cancel context.CancelFunc) {
	s.ConnectPhase(ctx)

	var timerCh <-chan time.Time
	if s.UseTimer && s.ProgDuration > 0 {
		t := time.NewTimer(s.ProgDuration)
		defer t.Stop()
		timerCh = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timerCh:
			s.Logger.Info("program_duration_elapsed")
			cancel()
			return
		case <-s.Live.Disconnected():
		case <-s.Upload.Disconnected():
		case <-time.After(s.ReconDelay):
		}
		if ctx.Err() != nil {
			return
		}
		s.reconnectDropped(ctx)
	}
}

// reconnectDropped retries whichever client is not currently connected,
// under the same fixed-order double lock used at startup.
func (s *Supervisor) reconnectDropped(ctx context.Context) {
	unlock := tcpclient.LockBoth(s.Live, s.Upload)
	defer unlock()
	dialCtx, cancel := context.WithTimeout(ctx, s.ConnectTimeout)
	defer cancel()
	if !s.Live.Connected() {
		if err := s.Live.Reconnect(dialCtx); err != nil {
			s.Logger.Debug("live_reconnect_failed", "error", err)
		}
	}
	if !s.Upload.Connected() {
		if err := s.Upload.Reconnect(dialCtx); err != nil {
			s.Logger.Debug("upload_reconnect_failed", "error", err)
		}
	}
}

// Close tears down both TCP clients.
func (s *Supervisor) Close() {
	_ = s.Live.Close()
	_ = s.Upload.Close()
}
