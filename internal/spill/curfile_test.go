package spill

import (
	"testing"
	"time"
)

func TestCurrentFilePointer_SetGet(t *testing.T) {
	p := NewCurrentFilePointer()
	if got := p.Get(); got != "" {
		t.Fatalf("initial Get() = %q, want empty", got)
	}
	p.Set("msgs_100.txt")
	if got := p.Get(); got != "msgs_100.txt" {
		t.Fatalf("Get() = %q, want msgs_100.txt", got)
	}
}

func TestCurrentFilePointer_WaitWakesOnSet(t *testing.T) {
	p := NewCurrentFilePointer()
	ch := p.Wait()
	done := make(chan struct{})
	go func() {
		p.Set("msgs_200.txt")
		close(done)
	}()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Wait() channel never closed after Set")
	}
	<-done
}
