package facility

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
)

// testFacility records every callback.
type testFacility struct {
	Base

	caps     []byte
	received [][]byte
	dataErr  error
	out      []message.Chunk
	errs     []error
	freed    []*session.Session
}

func (f *testFacility) Capabilities(transport.Kind) ([]byte, error) {
	if f.caps == nil {
		return nil, ErrNoCapabilities
	}
	return f.caps, nil
}

func (f *testFacility) OnData(_ *session.Session, c *message.Chunk) error {
	f.received = append(f.received, c.Payload)
	return f.dataErr
}

func (f *testFacility) OnNeedData(_ *session.Session, c *message.Chunk) error {
	if len(f.out) == 0 {
		return ErrPending
	}
	*c = f.out[0]
	f.out = f.out[1:]
	return nil
}

func (f *testFacility) OnError(_ *session.Session, err error) {
	f.errs = append(f.errs, err)
}

func (f *testFacility) OnFree(s *session.Session) {
	f.freed = append(f.freed, s)
}

func newTestSetup(t *testing.T, facilities ...Facility) (*Dispatcher, *session.Manager) {
	t.Helper()
	d := NewDispatcher(Config{})
	for _, f := range facilities {
		if err := d.Register(f); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	m := session.NewManager(session.ManagerConfig{Notifier: d})
	return d, m
}

func TestDispatcher_Register(t *testing.T) {
	d := NewDispatcher(Config{})

	if err := d.Register(&testFacility{Base: Base{ID: 2}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := d.Register(&testFacility{Base: Base{ID: 1}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := d.Register(&testFacility{Base: Base{ID: 2}}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Register(duplicate) error = %v, want ErrAlreadyRegistered", err)
	}

	if got := d.ServiceIDs(); !bytes.Equal(got, []uint8{1, 2}) {
		t.Errorf("ServiceIDs() = %v, want [1 2]", got)
	}

	d.Unregister(2)
	if d.Lookup(2) != nil {
		t.Error("Lookup() after Unregister() != nil")
	}
	if err := d.Register(&testFacility{Base: Base{ID: 2}}); err != nil {
		t.Errorf("Register() after Unregister() error = %v", err)
	}
}

func TestDispatcher_Capabilities(t *testing.T) {
	d, _ := newTestSetup(t,
		&testFacility{Base: Base{ID: 3}, caps: []byte{0x27}},
		&testFacility{Base: Base{ID: 4}},
	)

	caps, err := d.Capabilities(3, transport.KindUDP)
	if err != nil {
		t.Fatalf("Capabilities() error = %v", err)
	}
	if !bytes.Equal(caps, []byte{0x27}) {
		t.Errorf("Capabilities() = %x, want 27", caps)
	}
	if _, err := d.Capabilities(4, transport.KindUDP); !errors.Is(err, ErrNoCapabilities) {
		t.Errorf("Capabilities(4) error = %v, want ErrNoCapabilities", err)
	}
	if _, err := d.Capabilities(9, transport.KindUDP); !errors.Is(err, ErrBadCommand) {
		t.Errorf("Capabilities(9) error = %v, want ErrBadCommand", err)
	}
}

func TestDispatcher_UnknownService(t *testing.T) {
	d, m := newTestSetup(t, &testFacility{Base: Base{ID: 1}})

	s, err := m.Accept(transport.KindUDP, 10, 7, true)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	err = d.Dispatch(ShapeHaveData, s, &Data{Chunk: message.Chunk{Flags: message.FlagStart | message.FlagLast}})
	if !errors.Is(err, ErrBadCommand) {
		t.Errorf("Dispatch() error = %v, want ErrBadCommand", err)
	}
}

func TestDispatcher_InvalidShape(t *testing.T) {
	d, _ := newTestSetup(t, &testFacility{Base: Base{ID: 1}})

	if err := d.Dispatch(Shape(99), nil, nil); !errors.Is(err, ErrInvalidShape) {
		t.Errorf("Dispatch(99) error = %v, want ErrInvalidShape", err)
	}
	if err := d.Dispatch(ShapeHaveData, nil, &Data{ServiceID: 1}); !errors.Is(err, ErrInvalidShape) {
		t.Errorf("Dispatch(no session) error = %v, want ErrInvalidShape", err)
	}
}

func TestDispatcher_HaveData(t *testing.T) {
	tests := []struct {
		name    string
		flags   []message.ChunkFlags
		dataErr error
		wantErr error
		wantRx  int
	}{
		{
			name:   "single chunk",
			flags:  []message.ChunkFlags{message.FlagStart | message.FlagLast},
			wantRx: 1,
		},
		{
			name:   "three chunks",
			flags:  []message.ChunkFlags{message.FlagStart, 0, message.FlagLast},
			wantRx: 3,
		},
		{
			name:    "missing start",
			flags:   []message.ChunkFlags{message.FlagLast},
			wantErr: message.ErrBadChunkFlags,
		},
		{
			name:    "aborted",
			flags:   []message.ChunkFlags{message.FlagStart | message.FlagLast},
			dataErr: fmt.Errorf("cli: %w", ErrAborted),
			wantErr: ErrAborted,
			wantRx:  1,
		},
		{
			name:    "unrecognized",
			flags:   []message.ChunkFlags{message.FlagStart | message.FlagLast},
			dataErr: ErrUnrecognized,
			wantErr: ErrUnrecognized,
			wantRx:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &testFacility{Base: Base{ID: 1}, dataErr: tt.dataErr}
			d, m := newTestSetup(t, f)
			s, err := m.Accept(transport.KindSMS, 5, 1, false)
			if err != nil {
				t.Fatalf("Accept() error = %v", err)
			}

			var last error
			for _, fl := range tt.flags {
				last = d.Dispatch(ShapeHaveData, s, &Data{Chunk: message.Chunk{Flags: fl, Payload: []byte{1}}})
				if last != nil {
					break
				}
			}
			if tt.wantErr == nil {
				if last != nil {
					t.Fatalf("Dispatch() error = %v", last)
				}
			} else {
				if !errors.Is(last, ErrDataError) || !errors.Is(last, tt.wantErr) {
					t.Errorf("Dispatch() error = %v, want ErrDataError wrapping %v", last, tt.wantErr)
				}
			}
			if len(f.received) != tt.wantRx {
				t.Errorf("OnData calls = %d, want %d", len(f.received), tt.wantRx)
			}
		})
	}
}

func TestDispatcher_NeedData(t *testing.T) {
	f := &testFacility{Base: Base{ID: 1}}
	d, m := newTestSetup(t, f)
	s, err := m.Open(transport.KindUDP, 1, session.OpenOptions{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	data := &Data{}
	if err := d.Dispatch(ShapeNeedData, s, data); !errors.Is(err, ErrPending) {
		t.Fatalf("Dispatch() error = %v, want ErrPending", err)
	}

	f.out = []message.Chunk{
		{Flags: message.FlagStart, Payload: []byte("ab")},
		{Flags: message.FlagLast, Payload: []byte("c")},
		{Flags: message.FlagStart | message.FlagLast},
	}
	var got []byte
	for i := 0; i < 2; i++ {
		if err := d.Dispatch(ShapeNeedData, s, data); err != nil {
			t.Fatalf("Dispatch() #%d error = %v", i, err)
		}
		got = append(got, data.Chunk.Payload...)
	}
	if string(got) != "abc" {
		t.Errorf("sent %q, want abc", got)
	}

	// The message is complete; asking again is a facility bug.
	if err := d.Dispatch(ShapeNeedData, s, data); !errors.Is(err, message.ErrBadChunkFlags) {
		t.Errorf("Dispatch() after last error = %v, want ErrBadChunkFlags", err)
	}
}

func TestDispatcher_NeedDataBadFlags(t *testing.T) {
	f := &testFacility{Base: Base{ID: 1}, out: []message.Chunk{{Flags: message.FlagLast}}}
	d, m := newTestSetup(t, f)
	s, _ := m.Open(transport.KindUDP, 1, session.OpenOptions{})

	err := d.Dispatch(ShapeNeedData, s, &Data{})
	if !errors.Is(err, ErrDataError) || !errors.Is(err, message.ErrBadChunkFlags) {
		t.Errorf("Dispatch() error = %v, want ErrDataError wrapping ErrBadChunkFlags", err)
	}
}

func TestDispatcher_Notifier(t *testing.T) {
	f := &testFacility{Base: Base{ID: 1}}
	var wrapped []transport.Kind
	d := NewDispatcher(Config{OnWrap: func(k transport.Kind) { wrapped = append(wrapped, k) }})
	if err := d.Register(f); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	m := session.NewManager(session.ManagerConfig{Notifier: d})

	s, err := m.Open(transport.KindUDP, 1, session.OpenOptions{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	d.Dispatch(ShapeHaveData, s, &Data{Chunk: message.Chunk{Flags: message.FlagStart}})

	if !m.CancelSession(s) {
		t.Fatal("CancelSession() = false")
	}
	if len(f.freed) != 1 || f.freed[0] != s {
		t.Errorf("OnFree calls = %v, want [%v]", f.freed, s)
	}
	d.seqMu.Lock()
	n := len(d.seqs)
	d.seqMu.Unlock()
	if n != 0 {
		t.Errorf("chunk sequences after free = %d, want 0", n)
	}

	d.OnError(s, session.ErrTimeout)
	if len(f.errs) != 1 || !errors.Is(f.errs[0], session.ErrTimeout) {
		t.Errorf("OnError calls = %v, want [ErrTimeout]", f.errs)
	}

	d.OnWrap(transport.KindSMS)
	if len(wrapped) != 1 || wrapped[0] != transport.KindSMS {
		t.Errorf("OnWrap calls = %v, want [sms]", wrapped)
	}
}

func TestBase(t *testing.T) {
	b := Base{ID: 4}
	if b.ServiceID() != 4 {
		t.Errorf("ServiceID() = %d, want 4", b.ServiceID())
	}
	var c message.Chunk
	if err := b.OnNeedData(nil, &c); err != nil {
		t.Fatalf("OnNeedData() error = %v", err)
	}
	if c.Flags != message.FlagStart|message.FlagLast {
		t.Errorf("Flags = %v, want start|last", c.Flags)
	}
}

func TestShape(t *testing.T) {
	for s := ShapeCapabilities; s <= ShapeFree; s++ {
		if !s.IsValid() || s.String() == "unknown" {
			t.Errorf("Shape(%d) invalid", s)
		}
	}
	if Shape(-1).IsValid() {
		t.Error("Shape(-1).IsValid() = true")
	}
}
