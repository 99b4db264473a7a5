package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/stellamotors/telemetry-agent/internal/can"
	"github.com/stellamotors/telemetry-agent/internal/debugtap"
	"github.com/stellamotors/telemetry-agent/internal/metrics"
	"github.com/stellamotors/telemetry-agent/internal/pipeline"
	"github.com/stellamotors/telemetry-agent/internal/queue"
	"github.com/stellamotors/telemetry-agent/internal/spill"
	"github.com/stellamotors/telemetry-agent/internal/tcpclient"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, metrics_logger.go, backend.go/backend_*.go, mdns.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("telemetry-agent %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("starting", "car", cfg.car, "can_backend", cfg.canBackend, "collector", net.JoinHostPort(cfg.collectorHost, cfg.collectorPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	frameQueue := queue.New[can.Frame](cfg.frameQueueSize)
	spillQueue := queue.New[string](cfg.spillQueueSize)

	backendCleanup, err := initBackend(ctx, cfg, frameQueue, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	defer backendCleanup()

	live := tcpclient.New(1, "live", cfg.collectorHost, cfg.collectorPort, cfg.tcpNoDelay)
	upload := tcpclient.New(2, "upload", cfg.collectorHost, cfg.collectorPort, cfg.tcpNoDelay)

	var tap *debugtap.Server
	if cfg.debugTapAddr != "" {
		tap = debugtap.New(
			debugtap.WithListenAddr(cfg.debugTapAddr),
			debugtap.WithLogger(l),
			debugtap.WithClientBuffer(cfg.debugTapBuffer),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tap.Serve(ctx); err != nil {
				l.Error("debug_tap_error", "error", err)
			}
		}()
	}

	formatter := pipeline.NewFormatter(cfg.car, frameQueue, spillQueue, live, cfg.pollTimeout)
	formatter.Logger = l.With("component", "formatter")
	formatter.PrintMsg = cfg.printMsg
	formatter.DebugCond = cfg.debugCond
	if tap != nil {
		formatter.DebugTap = tap.Broadcast
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = formatter.Run(ctx)
	}()

	curFile := spill.NewCurrentFilePointer()
	writer, err := spill.NewWriter(cfg.spillDir, cfg.msgsPerFile, spillQueue, curFile)
	if err != nil {
		l.Error("spill_writer_init_error", "error", err)
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := writer.Run(ctx); err != nil {
			l.Error("spill_writer_error", "error", err)
		}
	}()

	// Give the Spill Writer a short head start so it has created the
	// spill directory and published a Current-File Pointer before the
	// Uploader starts scanning it.
	time.Sleep(10 * time.Millisecond)

	uploader := spill.NewUploader(cfg.spillDir, upload, curFile, cfg.condTimeout, cfg.pollTimeout)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := uploader.Run(ctx); err != nil {
			l.Error("uploader_error", "error", err)
		}
	}()

	supervisor := pipeline.NewSupervisor(live, upload, cfg.connectTimeout, cfg.reconDelay)
	supervisor.UseTimer = cfg.useTimer
	supervisor.ProgDuration = cfg.progDur
	supervisor.Logger = l.With("component", "supervisor")
	wg.Add(1)
	go func() {
		defer wg.Done()
		supervisor.Run(ctx, cancel)
	}()
	defer supervisor.Close()

	// mDNS advertisement: with metrics enabled it starts at once with the
	// configured metrics port; otherwise, if the debug tap is enabled, it
	// waits for the tap listener to be bound and advertises its port.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		port := 0
		if cfg.metricsAddr != "" {
			port = portOf(cfg.metricsAddr)
		} else if tap != nil {
			select {
			case <-tap.Ready():
				port = portOf(tap.Addr())
			case <-ctx.Done():
				return
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		return ctx.Err() == nil && (live.Connected() || upload.Connected())
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	wg.Wait()
}

// portOf extracts the numeric port from a "host:port" or ":port" address.
func portOf(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if n, err := strconv.Atoi(addr[i+1:]); err == nil {
			return n
		}
	}
	return 0
}
