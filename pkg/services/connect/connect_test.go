package connect

import (
	"errors"
	"testing"

	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
)

func TestService_OnData(t *testing.T) {
	errStart := errors.New("dial failed")

	tests := []struct {
		name       string
		allow      func(transport.Kind) bool
		noStart    bool
		startErr   error
		wantErr    error
		wantStarts int
	}{
		{name: "default allows", wantStarts: 1},
		{name: "allowed", allow: func(k transport.Kind) bool { return k == transport.KindSMS }, wantStarts: 1},
		{name: "refused", allow: func(transport.Kind) bool { return false }, wantErr: ErrRefused},
		{name: "no starter", noStart: true, wantErr: ErrNoStarter},
		{name: "start fails", startErr: errStart, wantErr: errStart, wantStarts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starts := 0
			config := Config{Allow: tt.allow}
			if !tt.noStart {
				config.Start = func() error {
					starts++
					return tt.startErr
				}
			}
			d := facility.NewDispatcher(facility.Config{})
			if err := d.Register(New(config)); err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			m := session.NewManager(session.ManagerConfig{Notifier: d})
			s, err := m.Accept(transport.KindSMS, 3, uint8(message.CommandConnect), true)
			if err != nil {
				t.Fatalf("Accept() error = %v", err)
			}

			err = d.Dispatch(facility.ShapeHaveData, s, &facility.Data{
				Chunk: message.Chunk{Flags: message.FlagStart | message.FlagLast},
			})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if tt.wantErr != nil && (!errors.Is(err, tt.wantErr) || !errors.Is(err, facility.ErrDataError)) {
				t.Errorf("Dispatch() error = %v, want %v as a data error", err, tt.wantErr)
			}
			if starts != tt.wantStarts {
				t.Errorf("Start called %d times, want %d", starts, tt.wantStarts)
			}
		})
	}
}

func TestService_WaitsForLastChunk(t *testing.T) {
	starts := 0
	svc := New(Config{Start: func() error { starts++; return nil }})
	m := session.NewManager(session.ManagerConfig{})
	s, err := m.Accept(transport.KindUDP, 1, uint8(message.CommandConnect), false)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if err := svc.OnData(s, &message.Chunk{Flags: message.FlagStart}); err != nil {
		t.Fatalf("OnData() error = %v", err)
	}
	if starts != 0 {
		t.Fatal("started before the request was complete")
	}
	if err := svc.OnData(s, &message.Chunk{Flags: message.FlagLast}); err != nil {
		t.Fatalf("OnData() error = %v", err)
	}
	if starts != 1 {
		t.Errorf("Start called %d times, want 1", starts)
	}
}
