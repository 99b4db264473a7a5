// Package spill implements store-and-forward to local disk: the Spill
// Writer and Uploader of spec.md §4.3/§4.4, plus the Current-File
// Pointer and Resume Pointer File shared state of spec.md §3, grounded
// on the original firmware's sd_controller.cxx and ft_client.cxx.
package spill

import (
	"sync"

	"github.com/stellamotors/telemetry-agent/internal/broadcast"
)

// CurrentFilePointer is the shared name of the spill file the Spill
// Writer is currently appending to. An empty name means no file is
// currently open for writing (the sentinel the Spill Writer publishes
// on exit, per spec.md §4.3, letting the Uploader consider every
// remaining file eligible).
type CurrentFilePointer struct {
	mu    sync.Mutex
	name  string
	avail *broadcast.Cond
}

// NewCurrentFilePointer creates an initially-empty pointer.
func NewCurrentFilePointer() *CurrentFilePointer {
	return &CurrentFilePointer{avail: broadcast.New()}
}

// Set publishes a new current file name (or "" for none) and wakes any
// Uploader blocked waiting for a file to become eligible.
func (p *CurrentFilePointer) Set(name string) {
	p.mu.Lock()
	p.name = name
	p.mu.Unlock()
	p.avail.Broadcast()
}

// Get reads the current file name under the pointer's mutex.
func (p *CurrentFilePointer) Get() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Wait returns a channel that closes the next time Set is called, for
// the Uploader's bounded file-available wait.
func (p *CurrentFilePointer) Wait() <-chan struct{} { return p.avail.Wait() }
