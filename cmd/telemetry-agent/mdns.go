package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType advertises both the metrics endpoint and, when
// enabled, the local debug tap, per SPEC_FULL.md §4.8.
const mdnsServiceType = "_telemetry-agent._tcp"

// startMDNS registers the service via mDNS and returns a cleanup
// function. Safe to call even if disabled (no-op).
func startMDNS(ctx context.Context, cfg *appConfig, metricsPort int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("telemetry-agent-%s", host)
	}
	meta := []string{
		"car=" + fmt.Sprint(cfg.car),
		"backend=" + cfg.canBackend,
		"version=" + version,
		"commit=" + commit,
	}
	if cfg.debugTapAddr != "" {
		meta = append(meta, "debug_tap="+cfg.debugTapAddr)
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", metricsPort, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
