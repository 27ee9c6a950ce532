package message

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestStreamRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)

	segments := [][]byte{
		{0x01},
		bytes.Repeat([]byte{0xAA}, 300),
		[]byte("hello"),
	}
	for _, s := range segments {
		if _, err := w.Write(s); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	r := NewStreamReader(&buf)
	for i, want := range segments {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read() #%d error = %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Read() #%d = %x, want %x", i, got, want)
		}
	}
	if _, err := r.Read(); err != io.EOF {
		t.Errorf("Read() at end error = %v, want io.EOF", err)
	}
}

func TestStreamErrors(t *testing.T) {
	w := NewStreamWriter(io.Discard)
	if _, err := w.Write(nil); !errors.Is(err, ErrInvalidLengthPrefix) {
		t.Errorf("Write(nil) error = %v, want ErrInvalidLengthPrefix", err)
	}
	if _, err := w.Write(make([]byte, MaxStreamSegmentSize+1)); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("Write(too long) error = %v, want ErrMessageTooLong", err)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"zero length", []byte{0, 0}, ErrInvalidLengthPrefix},
		{"partial prefix", []byte{0}, ErrStreamReadFailed},
		{"truncated body", []byte{0, 4, 1, 2}, ErrStreamReadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStreamReader(bytes.NewReader(tt.data)).Read()
			if !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDatagram(t *testing.T) {
	deviceID := bytes.Repeat([]byte{0xD1}, DeviceIDSize)
	other := bytes.Repeat([]byte{0xD2}, DeviceIDSize)
	seg := []byte{0x80, 0x01, 0x01, 0x00, 0x00}

	data := EncodeDatagram(deviceID, seg)
	if data[0] != 0x10 {
		t.Errorf("envelope byte = %#x, want 0x10", data[0])
	}
	got, err := DecodeDatagram(deviceID, data)
	if err != nil {
		t.Fatalf("DecodeDatagram() error = %v", err)
	}
	if !bytes.Equal(got, seg) {
		t.Errorf("DecodeDatagram() = %x, want %x", got, seg)
	}

	badVersion := append([]byte(nil), data...)
	badVersion[0] = 0x20
	badType := append([]byte(nil), data...)
	badType[0] = 0x11

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", data[:DatagramHeaderSize-1], ErrTooShort},
		{"version", badVersion, ErrBadVersion},
		{"id type", badType, ErrNotForDevice},
		{"other device", EncodeDatagram(other, seg), ErrNotForDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeDatagram(deviceID, tt.data); !errors.Is(err, tt.want) {
				t.Errorf("DecodeDatagram() error = %v, want %v", err, tt.want)
			}
		})
	}
}
