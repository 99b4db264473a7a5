package serial

import (
	"bytes"
	"encoding/hex"

	"github.com/stellamotors/telemetry-agent/internal/can"
	"github.com/stellamotors/telemetry-agent/internal/metrics"
)

// Codec decodes the SLCAN-style ASCII protocol spoken by common
// USB-CAN adapters. A record is one of:
//
//	t<3-hex-id><1-hex-len><hex-data>\r   standard frame
//	T<8-hex-id><1-hex-len><hex-data>\r   extended frame
//
// Any other leading byte (status reports, command echoes) is skipped up
// to the next \r. The codec is read-only: it never encodes a frame for
// transmission, matching the pipeline's CAN-receive-only contract.
type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when the underlying
// buffer has grown large relative to the unread tail, so a long run of
// unrecognized bytes cannot pin an oversized backing array forever.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// DecodeStream scans in for complete \r-terminated SLCAN records and
// emits each decoded frame via out. Unterminated tail bytes are left in
// the buffer for the next call. Malformed records are counted and
// skipped; DecodeStream never returns an error for malformed input,
// only for an unrecoverable state (currently: never).
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		data := in.Bytes()
		_ = CompactBuffer(in)
		data = in.Bytes()

		end := bytes.IndexByte(data, '\r')
		if end < 0 {
			// Guard against an adapter that never sends \r: cap how much
			// unterminated garbage we'll hold before giving up on it.
			if len(data) > 64 {
				in.Next(len(data) - 1)
			}
			return nil
		}
		rec := data[:end]
		in.Next(end + 1)

		if len(rec) == 0 {
			continue
		}
		if f, ok := decodeRecord(rec); ok {
			out(f)
			metrics.IncFramesRead()
		} else if rec[0] == 't' || rec[0] == 'T' {
			metrics.IncMalformed()
		}
		// Any other leading byte (status/command echo) is silently skipped.
	}
}

func decodeRecord(rec []byte) (can.Frame, bool) {
	var f can.Frame
	var idLen int
	switch rec[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
	default:
		return f, false
	}
	if len(rec) < 1+idLen+1 {
		return f, false
	}
	idBytes := rec[1 : 1+idLen]
	id, err := parseHexUint32(idBytes)
	if err != nil {
		return f, false
	}
	lenDigit := rec[1+idLen]
	dlc := hexDigit(lenDigit)
	if dlc < 0 || dlc > 8 {
		return f, false
	}
	payloadHex := rec[1+idLen+1:]
	if len(payloadHex) != dlc*2 {
		return f, false
	}
	var payload [8]byte
	if dlc > 0 {
		n, err := hex.Decode(payload[:dlc], payloadHex)
		if err != nil || n != dlc {
			return f, false
		}
	}
	if rec[0] == 'T' {
		id |= can.EFFFlag
	}
	f.CANID = id
	f.Len = uint8(dlc)
	f.Data = payload
	return f, true
}

func parseHexUint32(b []byte) (uint32, error) {
	var v uint32
	for _, c := range b {
		d := hexDigit(c)
		if d < 0 {
			return 0, errBadHex
		}
		v = v<<4 | uint32(d)
	}
	return v, nil
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

var errBadHex = &hexError{}

type hexError struct{}

func (*hexError) Error() string { return "serial: invalid hex digit" }
