// Package metrics exposes the Prometheus counters/gauges for the
// telemetry pipeline, following the same promauto + local-atomic-mirror
// pattern as the teacher repo's internal/metrics (mirrors kept so
// cmd/telemetry-agent can log periodic snapshots without scraping
// Prometheus in-process).
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stellamotors/telemetry-agent/internal/logging"
)

var (
	FramesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_frames_read_total",
		Help: "Total CAN frames read from the ingestion backend.",
	})
	LinesFormatted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lines_formatted_total",
		Help: "Total formatted lines produced from CAN frames.",
	})
	LinesSentLive = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lines_sent_live_total",
		Help: "Total lines delivered over the live TCP connection.",
	})
	LinesSpilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lines_spilled_total",
		Help: "Total lines routed to the spill queue.",
	})
	LinesSpillDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lines_spill_write_dropped_total",
		Help: "Total lines lost to a spill file write/flush failure.",
	})
	LinesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lines_uploaded_total",
		Help: "Total lines delivered over the upload TCP connection.",
	})
	SpillFilesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spill_files_created_total",
		Help: "Total spill files created by the spill writer.",
	})
	SpillFilesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spill_files_uploaded_total",
		Help: "Total spill files fully drained and deleted by the uploader.",
	})
	FrameQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frame_queue_depth",
		Help: "Current number of frames queued between CAN reader and formatter.",
	})
	SpillQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spill_queue_depth",
		Help: "Current number of lines queued between formatter and spill writer.",
	})
	LiveConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tcp_live_connected",
		Help: "1 if the live TCP client is connected, 0 otherwise.",
	})
	UploadConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tcp_upload_connected",
		Help: "1 if the upload TCP client is connected, 0 otherwise.",
	})
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_reconnect_attempts_total",
		Help: "Total reconnect attempts by TCP client.",
	}, []string{"client"})
	DebugTapClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "debug_tap_clients",
		Help: "Current number of connected debug-tap clients.",
	})
	DebugTapDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "debug_tap_dropped_total",
		Help: "Total lines dropped by the debug tap due to a slow reader.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_serial_frames_total",
		Help: "Total rejected malformed records from the serial ingestion backend.",
	})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrCANRead     = "can_read"
	ErrTCPLiveSend = "tcp_live_send"
	ErrTCPUpload   = "tcp_upload_send"
	ErrSpillWrite  = "spill_write"
	ErrSpillRead   = "spill_read"
)

// Local mirrored counters for cheap periodic logging.
var (
	localFramesRead   uint64
	localLinesLive    uint64
	localLinesSpilled uint64
	localLinesUploaded uint64
	localErrors       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FramesRead    uint64
	LinesLive     uint64
	LinesSpilled  uint64
	LinesUploaded uint64
	Errors        uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesRead:    atomic.LoadUint64(&localFramesRead),
		LinesLive:     atomic.LoadUint64(&localLinesLive),
		LinesSpilled:  atomic.LoadUint64(&localLinesSpilled),
		LinesUploaded: atomic.LoadUint64(&localLinesUploaded),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

func IncFramesRead() {
	FramesRead.Inc()
	atomic.AddUint64(&localFramesRead, 1)
}

func IncLinesFormatted() { LinesFormatted.Inc() }

func IncLinesSentLive() {
	LinesSentLive.Inc()
	atomic.AddUint64(&localLinesLive, 1)
}

func IncLinesSpilled() {
	LinesSpilled.Inc()
	atomic.AddUint64(&localLinesSpilled, 1)
}

func IncLinesSpillDropped() { LinesSpillDropped.Inc() }

func IncLinesUploaded() {
	LinesUploaded.Inc()
	atomic.AddUint64(&localLinesUploaded, 1)
}

func IncSpillFilesCreated()  { SpillFilesCreated.Inc() }
func IncSpillFilesUploaded() { SpillFilesUploaded.Inc() }

func SetFrameQueueDepth(n int) { FrameQueueDepth.Set(float64(n)) }
func SetSpillQueueDepth(n int) { SpillQueueDepth.Set(float64(n)) }

func SetLiveConnected(v bool)   { LiveConnected.Set(boolToFloat(v)) }
func SetUploadConnected(v bool) { UploadConnected.Set(boolToFloat(v)) }

func IncReconnectAttempts(client string) { ReconnectAttempts.WithLabelValues(client).Inc() }

func SetDebugTapClients(n int) { DebugTapClients.Set(float64(n)) }
func IncDebugTapDropped()      { DebugTapDropped.Inc() }

func IncMalformed() { MalformedFrames.Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series so the first error for a subsystem doesn't pay registration
// latency on the hot path.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrCANRead, ErrTCPLiveSend, ErrTCPUpload, ErrSpillWrite, ErrSpillRead} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// StartHTTP serves Prometheus metrics and a readiness probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// SetReadinessFunc registers the function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function, defaulting to ready
// if none has been set yet (so /metrics doesn't flap before startup).
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
