package message

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSplit(t *testing.T) {
	h := Header{RequestID: 0x155, Request: true, ResponseNeeded: true, Command: CommandData, Encrypted: true}

	tests := []struct {
		name        string
		payloadLen  int
		maxSize     int
		maxSegments int
		wantCount   int
		wantErr     error
	}{
		{"fits single", 10, 15, 4, 1, nil},
		{"exact single", 10, 15, 1, 1, nil},
		{"two segments", 11, 15, 4, 2, nil},
		{"many segments", 100, 20, 10, 7, nil},
		{"too long", 100, 20, 3, 0, ErrMessageTooLong},
		{"segment too small", 1, 5, 4, 0, ErrInvalidSegmentLimits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := testPayload(tt.payloadLen)
			segs, err := Split(h, payload, tt.maxSize, tt.maxSegments)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Split() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(segs) != tt.wantCount {
				t.Fatalf("Split() = %d segments, want %d", len(segs), tt.wantCount)
			}

			var joined []byte
			for i, s := range segs {
				if n := len(s.Encode()); n > tt.maxSize {
					t.Errorf("segment %d encodes to %d bytes, max %d", i, n, tt.maxSize)
				}
				if s.RequestID != h.RequestID {
					t.Errorf("segment %d RequestID = %#x, want %#x", i, s.RequestID, h.RequestID)
				}
				joined = append(joined, s.Payload...)
			}
			if !bytes.Equal(joined, payload) {
				t.Error("joined payload differs from input")
			}
			if len(segs) > 1 {
				if !segs[0].Multipart || int(segs[0].SegmentCount) != len(segs) {
					t.Errorf("first segment = %+v, want multipart count %d", segs[0].Header, len(segs))
				}
				if !segs[0].Encrypted || segs[0].Command != CommandData {
					t.Error("first segment lost status fields")
				}
			}
		})
	}
}

func encodeDecode(t *testing.T, segs []*Segment) []*Segment {
	t.Helper()
	out := make([]*Segment, len(segs))
	for i, s := range segs {
		d, err := DecodeSegment(s.Encode())
		if err != nil {
			t.Fatalf("DecodeSegment() error = %v", err)
		}
		out[i] = d
	}
	return out
}

func TestReassembler(t *testing.T) {
	h := Header{RequestID: 42, Request: true, ResponseNeeded: true, Command: CommandCLI}
	payload := testPayload(64)
	segs, err := Split(h, payload, 16, 10)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	segs = encodeDecode(t, segs)

	orders := map[string][]int{
		"in order": nil,
		"reversed": nil,
		"shuffled": nil,
	}
	n := len(segs)
	for i := 0; i < n; i++ {
		orders["in order"] = append(orders["in order"], i)
		orders["reversed"] = append(orders["reversed"], n-1-i)
	}
	for i := 1; i < n; i += 2 {
		orders["shuffled"] = append(orders["shuffled"], i)
	}
	for i := 0; i < n; i += 2 {
		orders["shuffled"] = append(orders["shuffled"], i)
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			r := NewReassembler(10)
			now := time.Unix(100, 0)
			for i, idx := range order {
				whole, done, err := r.Add(segs[idx], now)
				if err != nil {
					t.Fatalf("Add() error = %v", err)
				}
				if done != (i == n-1) {
					t.Fatalf("Add() #%d done = %v", i, done)
				}
				if !done {
					continue
				}
				if !bytes.Equal(whole.Payload, payload) {
					t.Error("reassembled payload differs")
				}
				if whole.Multipart || whole.Command != CommandCLI || !whole.ResponseNeeded {
					t.Errorf("reassembled header = %+v", whole.Header)
				}
			}
			if r.Len() != 0 {
				t.Errorf("Len() = %d, want 0", r.Len())
			}
		})
	}
}

func TestReassemblerSingle(t *testing.T) {
	r := NewReassembler(0)
	s := &Segment{Header: Header{RequestID: 1, Request: true, Command: CommandPing}}
	got, done, err := r.Add(s, time.Now())
	if err != nil || !done || got != s {
		t.Errorf("Add() = %v, %v, %v; want segment, true, nil", got, done, err)
	}
}

func TestReassemblerLimits(t *testing.T) {
	r := NewReassembler(4)
	now := time.Now()

	_, _, err := r.Add(&Segment{Header: Header{Multipart: true, SegmentCount: 5}}, now)
	if !errors.Is(err, ErrTooManySegments) {
		t.Errorf("Add(count 5) error = %v, want ErrTooManySegments", err)
	}
	_, _, err = r.Add(&Segment{Header: Header{Multipart: true, Segment: 4}}, now)
	if !errors.Is(err, ErrTooManySegments) {
		t.Errorf("Add(segment 4) error = %v, want ErrTooManySegments", err)
	}

	// Segment 3 arrives for a two segment message.
	_, _, _ = r.Add(&Segment{Header: Header{RequestID: 5, Multipart: true, Segment: 3}}, now)
	_, _, err = r.Add(&Segment{Header: Header{RequestID: 5, Multipart: true, SegmentCount: 2}}, now)
	if !errors.Is(err, ErrBadHeader) {
		t.Errorf("Add() error = %v, want ErrBadHeader", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestReassemblerPruneAndDrop(t *testing.T) {
	r := NewReassembler(0)
	t0 := time.Unix(1000, 0)

	r.Add(&Segment{Header: Header{RequestID: 1, Request: true, Multipart: true, SegmentCount: 2}}, t0)
	r.Add(&Segment{Header: Header{RequestID: 2, Request: true, Multipart: true, SegmentCount: 2}}, t0.Add(10*time.Second))
	r.Add(&Segment{Header: Header{RequestID: 2, Multipart: true, SegmentCount: 2}}, t0)

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	if n := r.Prune(t0.Add(time.Second)); n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
	r.Drop(true, 2)
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
