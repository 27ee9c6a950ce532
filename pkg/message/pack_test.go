package message

import (
	"bytes"
	"errors"
	"testing"
)

func TestPackRoundtrip(t *testing.T) {
	segs := []*Segment{
		{Header: Header{RequestID: 3, Command: CommandOpaque, SegmentCount: 1}, Payload: []byte("pong")},
		{Header: Header{RequestID: 4, Request: true, ResponseNeeded: true, Command: CommandData, SegmentCount: 1}, Payload: []byte{1, 2, 3}},
		{Header: Header{RequestID: 4, Request: true, Multipart: true, Segment: 1}, Payload: []byte{4}},
	}

	for _, pending := range []bool{false, true} {
		data, err := EncodePack(pending, segs)
		if err != nil {
			t.Fatalf("EncodePack() error = %v", err)
		}
		outer, err := DecodeSegment(data)
		if err != nil {
			t.Fatalf("DecodeSegment() error = %v", err)
		}
		if !IsPack(outer) {
			t.Fatal("IsPack() = false")
		}

		gotPending, got, err := DecodePack(outer)
		if err != nil {
			t.Fatalf("DecodePack() error = %v", err)
		}
		if gotPending != pending {
			t.Errorf("pending = %v, want %v", gotPending, pending)
		}
		if len(got) != len(segs) {
			t.Fatalf("DecodePack() = %d segments, want %d", len(got), len(segs))
		}
		for i := range segs {
			if got[i].Header != segs[i].Header {
				t.Errorf("segment %d header = %+v, want %+v", i, got[i].Header, segs[i].Header)
			}
			if !bytes.Equal(got[i].Payload, segs[i].Payload) {
				t.Errorf("segment %d payload = %x, want %x", i, got[i].Payload, segs[i].Payload)
			}
		}
	}
}

func TestPackInnerSegmentsHaveNoCRC(t *testing.T) {
	s := &Segment{Header: Header{RequestID: 1, Request: true, Command: CommandPing}, Payload: []byte{0xEE}}
	data, err := EncodePack(false, []*Segment{s})
	if err != nil {
		t.Fatalf("EncodePack() error = %v", err)
	}
	outer, _ := DecodeSegment(data)
	// flag(1) len(2) info(1) request(1) cs(1) payload(1)
	if len(outer.Payload) != 7 {
		t.Errorf("pack body = %d bytes, want 7", len(outer.Payload))
	}
}

func TestPackedSize(t *testing.T) {
	segs := []*Segment{
		{Header: Header{RequestID: 1, Request: true, Command: CommandPing}, Payload: []byte{0xEE}},
		{Header: Header{RequestID: 2, Multipart: true, SegmentCount: 2}, Payload: make([]byte, 10)},
	}
	want := PackOverhead
	for _, s := range segs {
		want += PackedSize(s)
	}
	data, err := EncodePack(true, segs)
	if err != nil {
		t.Fatalf("EncodePack() error = %v", err)
	}
	if len(data) != want {
		t.Errorf("len(EncodePack()) = %d, want %d", len(data), want)
	}
}

func TestPackErrors(t *testing.T) {
	nested := &Segment{Header: Header{Request: true, Command: CommandPack}, Payload: []byte{0}}
	if _, err := EncodePack(false, []*Segment{nested}); !errors.Is(err, ErrNestedPack) {
		t.Errorf("EncodePack(nested) error = %v, want ErrNestedPack", err)
	}

	pack := func(body []byte) *Segment {
		return &Segment{Header: Header{Request: true, Command: CommandPack}, Payload: body}
	}
	innerPack := (&Segment{Header: Header{Request: true, Command: CommandPack}}).encode(false)

	tests := []struct {
		name string
		seg  *Segment
		want error
	}{
		{"not a pack", &Segment{Header: Header{Request: true, Command: CommandPing}}, ErrBadPack},
		{"empty body", pack(nil), ErrBadPack},
		{"short length", pack([]byte{0, 0}), ErrBadPack},
		{"zero length", pack([]byte{0, 0, 0}), ErrBadPack},
		{"length overruns", pack([]byte{0, 0, 9, 0x80, 0x01}), ErrBadPack},
		{"nested", pack(append([]byte{0, 0, byte(len(innerPack))}, innerPack...)), ErrNestedPack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodePack(tt.seg)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodePack() error = %v, want %v", err, tt.want)
			}
		})
	}
}
