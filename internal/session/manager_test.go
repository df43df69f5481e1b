package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("127.0.0.1:5000")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RemoteAddr != "127.0.0.1:5000" || got.Status != StatusActive || got.RelayState != "idle" {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if ended.EndedAt == nil {
		t.Fatalf("EndedAt should be set")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerGetUnknown(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := m.SetRelayState("nope", "open"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetRelayState() error = %v, want ErrNotFound", err)
	}
}

func TestManagerTracksRelayStateAndToolCalls(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("")
	if err := m.SetRelayState(s.ID, "open"); err != nil {
		t.Fatalf("SetRelayState() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.RecordToolCall(s.ID); err != nil {
			t.Fatalf("RecordToolCall() error = %v", err)
		}
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RelayState != "open" || got.ToolCalls != 2 {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestManagerEndHookFiresOnce(t *testing.T) {
	m := NewManager(time.Minute)
	calls := 0
	m.SetEndHook(func(*Session) { calls++ })

	s := m.Create("")
	for i := 0; i < 3; i++ {
		if _, err := m.End(s.ID); err != nil {
			t.Fatalf("End() error = %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("end hook calls = %d, want 1", calls)
	}
}

func TestManagerListNewestFirst(t *testing.T) {
	m := NewManager(time.Minute)
	first := m.Create("")
	time.Sleep(2 * time.Millisecond)
	second := m.Create("")

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("List() order = [%s %s], want [%s %s]", list[0].ID, list[1].ID, second.ID, first.ID)
	}
}

func TestManagerJanitorPrunesEnded(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	ended := m.Create("")
	live := m.Create("")
	if _, err := m.End(ended.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	if _, err := m.Get(ended.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(ended) error = %v, want ErrNotFound", err)
	}
	if _, err := m.Get(live.ID); err != nil {
		t.Fatalf("Get(live) error = %v", err)
	}
}
