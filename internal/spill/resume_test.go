package spill

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadResumePointer_Missing(t *testing.T) {
	dir := t.TempDir()
	_, _, ok, err := ReadResumePointer(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing last.txt")
	}
}

func TestWriteThenReadResumePointer(t *testing.T) {
	dir := t.TempDir()
	if err := WriteResumePointer(dir, "/spill/msgs_100.txt", 42); err != nil {
		t.Fatalf("WriteResumePointer: %v", err)
	}
	path, offset, ok, err := ReadResumePointer(dir)
	if err != nil {
		t.Fatalf("ReadResumePointer: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if path != "/spill/msgs_100.txt" || offset != 42 {
		t.Fatalf("got (%q, %d), want (/spill/msgs_100.txt, 42)", path, offset)
	}
}

func TestReadResumePointer_MalformedOffsetDefaultsToZero(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "last.txt"), []byte("/spill/msgs_1.txt\nNOT_A_NUMBER\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	path, offset, ok, err := ReadResumePointer(dir)
	if err != nil {
		t.Fatalf("ReadResumePointer: %v", err)
	}
	if !ok || path != "/spill/msgs_1.txt" || offset != 0 {
		t.Fatalf("got (%q, %d, %v), want (/spill/msgs_1.txt, 0, true)", path, offset, ok)
	}
}

func TestClearResumePointer(t *testing.T) {
	dir := t.TempDir()
	if err := WriteResumePointer(dir, "/spill/x.txt", 7); err != nil {
		t.Fatalf("WriteResumePointer: %v", err)
	}
	if err := ClearResumePointer(dir); err != nil {
		t.Fatalf("ClearResumePointer: %v", err)
	}
	_, _, ok, err := ReadResumePointer(dir)
	if err != nil {
		t.Fatalf("ReadResumePointer: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false after clearing")
	}
}
