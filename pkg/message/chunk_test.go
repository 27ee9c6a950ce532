package message

import (
	"bytes"
	"errors"
	"testing"
)

func TestSequence(t *testing.T) {
	tests := []struct {
		name    string
		flags   []ChunkFlags
		wantErr int // index of the failing chunk, -1 for none
	}{
		{"single", []ChunkFlags{FlagStart | FlagLast}, -1},
		{"three", []ChunkFlags{FlagStart, 0, FlagLast}, -1},
		{"missing start", []ChunkFlags{0, FlagLast}, 0},
		{"second start", []ChunkFlags{FlagStart, FlagStart}, 1},
		{"after last", []ChunkFlags{FlagStart | FlagLast, FlagStart}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Sequence
			for i, f := range tt.flags {
				err := q.Next(f)
				if i == tt.wantErr {
					if !errors.Is(err, ErrBadChunkFlags) {
						t.Errorf("Next() #%d error = %v, want ErrBadChunkFlags", i, err)
					}
					return
				}
				if err != nil {
					t.Fatalf("Next() #%d error = %v", i, err)
				}
			}
			if !q.Done() {
				t.Error("Done() = false")
			}
			q.Reset()
			if q.Done() {
				t.Error("Done() after Reset() = true")
			}
		})
	}
}

func TestAssembler(t *testing.T) {
	a := NewAssembler(8)

	if _, done, err := a.Add(Chunk{Flags: FlagStart, Payload: []byte("abc")}); done || err != nil {
		t.Fatalf("Add() = %v, %v", done, err)
	}
	got, done, err := a.Add(Chunk{Flags: FlagLast, Payload: []byte("de")})
	if err != nil || !done {
		t.Fatalf("Add() = %v, %v", done, err)
	}
	if !bytes.Equal(got, []byte("abcde")) {
		t.Errorf("Add() = %q, want abcde", got)
	}

	// The assembler is ready for the next message.
	if _, _, err := a.Add(Chunk{Flags: FlagStart, Payload: []byte("12345")}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, _, err := a.Add(Chunk{Payload: []byte("6789")}); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("Add() error = %v, want ErrMessageTooLong", err)
	}
}

func TestChunkOpcode(t *testing.T) {
	if _, ok := (&Chunk{}).Opcode(); ok {
		t.Error("Opcode() of empty chunk ok = true")
	}
	if op, ok := (&Chunk{Payload: []byte{0x27, 1}}).Opcode(); !ok || op != 0x27 {
		t.Errorf("Opcode() = %#x, %v; want 0x27, true", op, ok)
	}
}

func TestResponseError(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    ResponseError
	}{
		{"code only", ErrorPayload(ErrorUnavailable, ""), ResponseError{Code: ErrorUnavailable}},
		{"with hint", ErrorPayload(ErrorInRequest, "bad"), ResponseError{Code: ErrorInRequest, Hint: "bad"}},
		{"short", []byte{0x01}, ResponseError{Code: ErrorUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResponseError(tt.payload)
			if *got != tt.want {
				t.Errorf("ParseResponseError() = %+v, want %+v", *got, tt.want)
			}
		})
	}

	if got := (&ResponseError{Code: ErrorInRequest, Hint: "bad"}).Error(); got != "message: cloud error: error in request: bad" {
		t.Errorf("Error() = %q", got)
	}
}
