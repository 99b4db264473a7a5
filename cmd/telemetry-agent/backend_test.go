package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stellamotors/telemetry-agent/internal/can"
	"github.com/stellamotors/telemetry-agent/internal/metrics"
	"github.com/stellamotors/telemetry-agent/internal/queue"
	"github.com/stellamotors/telemetry-agent/internal/serial"
	"github.com/stellamotors/telemetry-agent/internal/socketcan"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeSerialPort implements serial.Port for tests.
type fakeSerialPort struct {
	reads [][]byte
	idx   int
	mu    sync.Mutex
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.reads) {
		time.Sleep(10 * time.Millisecond)
		return 0, io.EOF
	}
	chunk := f.reads[f.idx]
	f.idx++
	n := copy(p, chunk)
	return n, nil
}
func (f *fakeSerialPort) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeSerialPort) Close() error                { return nil }

func TestInitSerialBackend_DecodesAndQueuesFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SLCAN-ASCII standard frame: id 0x123, 2 data bytes.
	record := []byte("t1232AABB\r")

	openSerialPort = func(name string, baud int, to time.Duration) (serial.Port, error) {
		return &fakeSerialPort{reads: [][]byte{record}}, nil
	}
	defer func() { openSerialPort = serial.Open }()

	fq := queue.New[can.Frame](4)
	cfg := &appConfig{canBackend: "serial", serialDev: "fake", serialBaud: 115200, serialReadTO: 50 * time.Millisecond}
	var wg sync.WaitGroup
	cleanup, err := initSerialBackend(ctx, cfg, fq, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSerialBackend: %v", err)
	}
	defer cleanup()

	fr, ok := fq.Pop(context.Background())
	if !ok {
		t.Fatal("expected a decoded frame")
	}
	if fr.ID() != 0x123 || fr.Len != 2 || fr.Data[0] != 0xAA || fr.Data[1] != 0xBB {
		t.Fatalf("unexpected frame: %+v", fr)
	}

	snap := metrics.Snap()
	if snap.FramesRead == 0 {
		t.Fatalf("expected FramesRead > 0, got %d", snap.FramesRead)
	}
}

// fakeSocketDev implements the socketcan device surface for tests.
type fakeSocketDev struct {
	frames   []can.Frame
	idx      int
	errAfter bool
}

func (d *fakeSocketDev) Ready(timeoutMs int) (bool, error) { return true, nil }

func (d *fakeSocketDev) ReadFrame(fr *can.Frame) error {
	if d.idx < len(d.frames) {
		*fr = d.frames[d.idx]
		d.idx++
		return nil
	}
	if d.errAfter {
		return io.ErrUnexpectedEOF
	}
	time.Sleep(10 * time.Millisecond)
	return io.EOF
}
func (d *fakeSocketDev) Close() error { return nil }

func TestInitSocketCANBackend_QueuesFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frame := can.Frame{CANID: 0x555, Len: 3}
	frame.Data[0], frame.Data[1], frame.Data[2] = 0x01, 0x02, 0x03

	openSocketCANDevice = func(iface string) (socketCANDevice, error) {
		return &fakeSocketDev{frames: []can.Frame{frame}, errAfter: true}, nil
	}
	defer func() { openSocketCANDevice = func(iface string) (socketCANDevice, error) { return socketcan.Open(iface) } }()

	fq := queue.New[can.Frame](4)
	cfg := &appConfig{canBackend: "socketcan", canIf: "vcan0"}
	var wg sync.WaitGroup
	cleanup, err := initSocketCANBackend(ctx, cfg, fq, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSocketCANBackend: %v", err)
	}
	defer cleanup()

	fr, ok := fq.Pop(context.Background())
	if !ok {
		t.Fatal("expected a queued frame")
	}
	if fr.CANID != frame.CANID || fr.Len != frame.Len {
		t.Fatalf("unexpected frame: %+v", fr)
	}

	time.Sleep(30 * time.Millisecond)
	snap := metrics.Snap()
	if snap.FramesRead == 0 {
		t.Fatalf("expected FramesRead > 0")
	}
	if snap.Errors == 0 {
		t.Fatalf("expected at least one error increment (read error after frame)")
	}
}
