package serial

import (
	"bytes"
	"testing"

	"github.com/stellamotors/telemetry-agent/internal/can"
)

func decodeAll(t *testing.T, in string) []can.Frame {
	t.Helper()
	var got []can.Frame
	buf := bytes.NewBufferString(in)
	if err := (Codec{}).DecodeStream(buf, func(f can.Frame) { got = append(got, f) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	return got
}

func TestDecodeStream_StandardFrame(t *testing.T) {
	got := decodeAll(t, "t1238deadbeefcafe0000\r")
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	f := got[0]
	if f.ID() != 0x123 || f.Extended() {
		t.Errorf("id = %#x extended=%v, want 0x123 standard", f.ID(), f.Extended())
	}
	if f.Len != 8 {
		t.Errorf("len = %d, want 8", f.Len)
	}
	want := []byte{0xde, 0xad, 0xbe, 0xef, 0xca, 0xfe, 0x00, 0x00}
	if !bytes.Equal(f.Data[:6], want[:6]) {
		t.Errorf("data = %x, want %x...", f.Data[:6], want[:6])
	}
}

func TestDecodeStream_ExtendedFrame(t *testing.T) {
	got := decodeAll(t, "T000001234aabbccdd\r")
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	f := got[0]
	if !f.Extended() {
		t.Errorf("expected extended frame")
	}
	if f.ID() != 0x00000123 {
		t.Errorf("id = %#x, want 0x123", f.ID())
	}
}

func TestDecodeStream_ZeroLength(t *testing.T) {
	got := decodeAll(t, "t1230\r")
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if got[0].Len != 0 {
		t.Errorf("len = %d, want 0", got[0].Len)
	}
}

func TestDecodeStream_MultipleRecordsOneWrite(t *testing.T) {
	got := decodeAll(t, "t1231aa\rt4562bbcc\r")
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if got[0].ID() != 0x123 || got[1].ID() != 0x456 {
		t.Errorf("ids = %#x, %#x", got[0].ID(), got[1].ID())
	}
}

func TestDecodeStream_PartialRecordHeldForNextCall(t *testing.T) {
	buf := bytes.NewBufferString("t1231a")
	var got []can.Frame
	c := Codec{}
	if err := c.DecodeStream(buf, func(f can.Frame) { got = append(got, f) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d frames before terminator, want 0", len(got))
	}
	buf.WriteString("a\r")
	if err := c.DecodeStream(buf, func(f can.Frame) { got = append(got, f) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d frames after terminator, want 1", len(got))
	}
}

func TestDecodeStream_MalformedLengthSkipped(t *testing.T) {
	got := decodeAll(t, "t123faabbcc\rt4562ddee\r")
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1 (malformed record dropped)", len(got))
	}
	if got[0].ID() != 0x456 {
		t.Errorf("id = %#x, want 0x456", got[0].ID())
	}
}

func TestDecodeStream_ShortPayloadSkipped(t *testing.T) {
	got := decodeAll(t, "t1238aabb\rt4562ccdd\r")
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1 (short payload dropped)", len(got))
	}
	if got[0].ID() != 0x456 {
		t.Errorf("id = %#x, want 0x456", got[0].ID())
	}
}

func TestDecodeStream_UnknownLeadByteIgnored(t *testing.T) {
	got := decodeAll(t, "Z\rt1231aa\r")
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
}

func TestDecodeStream_EmptyRecordIgnored(t *testing.T) {
	got := decodeAll(t, "\r\rt1231aa\r")
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
}
