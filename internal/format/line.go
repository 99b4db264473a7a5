// Package format renders CAN frames into the wire-format text line sent
// to the collector, per spec.md §3:
//
//	car<C>:<ms-since-epoch>#<8-hex-id>#<16-hex-data>\n
package format

import (
	"fmt"

	"github.com/stellamotors/telemetry-agent/internal/can"
)

// Line renders fr as a Formatted Line for the given car number and
// timestamp (milliseconds since the Unix epoch). car is not validated
// here; callers must enforce the 1-3 range at configuration time.
func Line(car int, timestampMs uint64, fr can.Frame) string {
	var data [8]byte
	copy(data[:], fr.Data[:])
	return fmt.Sprintf("car%d:%d#%08x#%x\n", car, timestampMs, fr.ID(), data)
}
