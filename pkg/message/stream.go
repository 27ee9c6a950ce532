package message

import (
	"encoding/binary"
	"errors"
	"io"
)

// StreamWriter wraps an io.Writer to add length-prefix framing for the
// primary session.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a new stream writer.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// Write writes a segment with a 2-byte big-endian length prefix.
func (sw *StreamWriter) Write(segment []byte) (int, error) {
	if len(segment) == 0 {
		return 0, ErrInvalidLengthPrefix
	}
	if len(segment) > MaxStreamSegmentSize {
		return 0, ErrMessageTooLong
	}

	buf := make([]byte, StreamLengthPrefixSize+len(segment))
	binary.BigEndian.PutUint16(buf, uint16(len(segment)))
	copy(buf[StreamLengthPrefixSize:], segment)
	return sw.w.Write(buf)
}

// StreamReader reads length-prefixed segments.
type StreamReader struct {
	r io.Reader
}

// NewStreamReader creates a new stream reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

// Read reads one segment. io.EOF is returned unchanged when the stream
// ends between segments.
func (sr *StreamReader) Read() ([]byte, error) {
	var lenBuf [StreamLengthPrefixSize]byte
	if _, err := io.ReadFull(sr.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrStreamReadFailed
	}

	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 {
		return nil, ErrInvalidLengthPrefix
	}

	segment := make([]byte, n)
	if _, err := io.ReadFull(sr.r, segment); err != nil {
		return nil, ErrStreamReadFailed
	}
	return segment, nil
}
