package spill

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellamotors/telemetry-agent/internal/queue"
)

func TestWriter_RejectsNonPositiveMsgsPerFile(t *testing.T) {
	q := queue.New[string](4)
	cur := NewCurrentFilePointer()
	if _, err := NewWriter(t.TempDir(), 0, q, cur); err == nil {
		t.Fatal("expected error for MSGS_PER_FILE=0")
	}
	if _, err := NewWriter(t.TempDir(), -1, q, cur); err == nil {
		t.Fatal("expected error for negative MSGS_PER_FILE")
	}
}

func TestWriter_WritesAllLinesAndPublishesCurrentFile(t *testing.T) {
	dir := t.TempDir()
	q := queue.New[string](16)
	cur := NewCurrentFilePointer()
	w, err := NewWriter(dir, 100, q, cur)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Wait for the initial file to be published before pushing lines.
	deadline := time.Now().Add(time.Second)
	for cur.Get() == "" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if cur.Get() == "" {
		t.Fatal("Spill Writer never published an initial current file")
	}

	for i := 0; i < 5; i++ {
		if err := q.Push(ctx, "line\n"); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Writer.Run did not exit after cancel")
	}

	if cur.Get() != "" {
		t.Fatalf("expected Current-File Pointer cleared on exit, got %q", cur.Get())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got, want := string(data), "line\nline\nline\nline\nline\n"; got != want {
		t.Fatalf("file contents = %q, want %q", got, want)
	}
}

func TestWriter_RotatesAtThreshold(t *testing.T) {
	dir := t.TempDir()
	q := queue.New[string](16)
	cur := NewCurrentFilePointer()
	w, err := NewWriter(dir, 2, q, cur)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	tick := 1000
	w.now = func() time.Time {
		tick++
		return time.Unix(int64(tick), 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 0; i < 5; i++ {
		if err := q.Push(ctx, "line\n"); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("got %d files, want at least 2 after rotation", len(entries))
	}
}
