package message

// Chunk is one piece of a message exchanged between the engine and a
// facility.
type Chunk struct {
	Flags   ChunkFlags
	Payload []byte
}

// Opcode returns the first payload byte.
func (c *Chunk) Opcode() (byte, bool) {
	if len(c.Payload) == 0 {
		return 0, false
	}
	return c.Payload[0], true
}

// Sequence checks the start/last flags of the chunks of one message:
// exactly one chunk is the start, it comes first, and nothing follows the
// last chunk.
type Sequence struct {
	started bool
	done    bool
}

// Next validates the flags of the next chunk.
func (q *Sequence) Next(f ChunkFlags) error {
	start := f.Has(FlagStart)
	if q.done || start == q.started {
		return ErrBadChunkFlags
	}
	q.started = true
	if f.Has(FlagLast) {
		q.done = true
	}
	return nil
}

// Done reports whether the last chunk was seen.
func (q *Sequence) Done() bool {
	return q.done
}

// Reset prepares the sequence for a new message.
func (q *Sequence) Reset() {
	*q = Sequence{}
}

// Assembler concatenates the chunks of one message in arrival order.
type Assembler struct {
	seq   Sequence
	buf   []byte
	limit int
}

// NewAssembler creates an assembler that rejects messages longer than
// limit bytes (0 means unlimited).
func NewAssembler(limit int) *Assembler {
	return &Assembler{limit: limit}
}

// Add appends c. It returns the whole message once the last chunk arrives.
func (a *Assembler) Add(c Chunk) ([]byte, bool, error) {
	if err := a.seq.Next(c.Flags); err != nil {
		return nil, false, err
	}
	if a.limit > 0 && len(a.buf)+len(c.Payload) > a.limit {
		return nil, false, ErrMessageTooLong
	}
	a.buf = append(a.buf, c.Payload...)
	if !a.seq.Done() {
		return nil, false, nil
	}
	out := a.buf
	a.buf = nil
	a.seq.Reset()
	return out, true, nil
}
