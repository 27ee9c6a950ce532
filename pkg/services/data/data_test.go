package data

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
)

var testNow = time.Unix(1700000000, 0)

func TestService_Upload(t *testing.T) {
	tests := []struct {
		name         string
		respond      []byte
		cloudErr     error
		timeout      bool
		wantStatus   facility.Status
		wantResponse []byte
	}{
		{name: "acknowledged", respond: []byte("ok"), wantStatus: facility.StatusSuccess, wantResponse: []byte("ok")},
		{name: "cloud error", cloudErr: &message.ResponseError{Code: message.ErrorInRequest}, wantStatus: facility.StatusError},
		{name: "timeout", timeout: true, wantStatus: facility.StatusTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results []Result
			svc := New(Config{OnResult: func(r Result) { results = append(results, r) }})
			d := facility.NewDispatcher(facility.Config{})
			if err := d.Register(svc); err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			m := session.NewManager(session.ManagerConfig{Notifier: d})

			svc.Push(transport.KindUDP, &Batch{Payload: []byte("temp=21"), ResponseRequired: true, UserContext: "b1"})
			b := svc.Queue(transport.KindUDP).Pop()

			s, err := m.Open(transport.KindUDP, uint8(message.CommandData), session.OpenOptions{
				Deadline:         testNow.Add(time.Second),
				UserContext:      b,
				ResponseRequired: b.ResponseRequired,
			})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			out := &facility.Data{}
			if err := d.Dispatch(facility.ShapeNeedData, s, out); err != nil {
				t.Fatalf("Dispatch(need_data) error = %v", err)
			}
			if !bytes.Equal(out.Chunk.Payload, []byte("temp=21")) {
				t.Errorf("request payload = %q", out.Chunk.Payload)
			}
			m.MarkSent(s)

			switch {
			case tt.timeout:
				m.Expire(testNow.Add(time.Minute))
			case tt.cloudErr != nil:
				d.OnError(s, tt.cloudErr)
				_ = m.Complete(s, session.OutcomeError)
			default:
				in := &facility.Data{Chunk: message.Chunk{Flags: message.FlagStart | message.FlagLast, Payload: tt.respond}}
				if err := d.Dispatch(facility.ShapeHaveData, s, in); err != nil {
					t.Fatalf("Dispatch(have_data) error = %v", err)
				}
				_ = m.Complete(s, session.OutcomeSuccess)
			}

			if len(results) != 1 {
				t.Fatalf("OnResult called %d times, want 1", len(results))
			}
			r := results[0]
			if r.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", r.Status, tt.wantStatus)
			}
			if !bytes.Equal(r.Response, tt.wantResponse) {
				t.Errorf("Response = %q, want %q", r.Response, tt.wantResponse)
			}
			if r.Batch != b || r.Batch.UserContext != "b1" {
				t.Errorf("Batch = %+v", r.Batch)
			}
			if tt.cloudErr != nil && !errors.Is(r.Err, tt.cloudErr) {
				t.Errorf("Err = %v, want %v", r.Err, tt.cloudErr)
			}
			if tt.timeout && !errors.Is(r.Err, session.ErrTimeout) {
				t.Errorf("Err = %v, want ErrTimeout", r.Err)
			}
		})
	}
}

func TestService_PushReportsDropped(t *testing.T) {
	var results []Result
	svc := New(Config{QueueSize: 1, OnResult: func(r Result) { results = append(results, r) }})

	first := &Batch{UserContext: 1}
	svc.Push(transport.KindSMS, first)
	svc.Push(transport.KindSMS, &Batch{UserContext: 2})

	if len(results) != 1 || results[0].Batch != first || results[0].Status != facility.StatusCancel {
		t.Errorf("results = %+v, want the first batch cancelled", results)
	}
	if svc.Queue(transport.KindSMS).Len() != 1 {
		t.Errorf("Len() = %d, want 1", svc.Queue(transport.KindSMS).Len())
	}
	if svc.Queue(transport.KindUDP).Len() != 0 {
		t.Error("queues are not per transport")
	}
}

func TestService_NoBatch(t *testing.T) {
	svc := New(Config{})
	m := session.NewManager(session.ManagerConfig{})
	s, err := m.Open(transport.KindUDP, uint8(message.CommandData), session.OpenOptions{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	var c message.Chunk
	if err := svc.OnNeedData(s, &c); !errors.Is(err, ErrNoBatch) || !errors.Is(err, facility.ErrAborted) {
		t.Errorf("OnNeedData() error = %v, want ErrNoBatch", err)
	}
}
