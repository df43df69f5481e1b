package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageStartSession(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"start_session","credential":"sk-test"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	start, ok := msg.(StartSession)
	if !ok {
		t.Fatalf("message type = %T, want StartSession", msg)
	}
	if start.Credential != "sk-test" {
		t.Fatalf("Credential = %q, want %q", start.Credential, "sk-test")
	}
}

func TestParseClientMessageRejectsEmptyCredential(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"start_session","credential":"  "}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageAudio(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"audio","audio":"AQID"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	a, ok := msg.(ClientAudio)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudio", msg)
	}
	if !bytes.Equal(a.Frame, []byte{1, 2, 3}) {
		t.Fatalf("Frame = %v, want [1 2 3]", []byte(a.Frame))
	}
}

func TestParseClientMessageRejectsBadAudio(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"audio","audio":"!!not base64"}`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseClientMessageDisconnect(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"disconnect"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if _, ok := msg.(Disconnect); !ok {
		t.Fatalf("message type = %T, want Disconnect", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestServerMessagesRoundTripThroughParser(t *testing.T) {
	event := []byte(`{"type":"response.text.delta","response_id":"r1","delta":"hi"}`)
	cases := []struct {
		name string
		msg  any
	}{
		{name: "session_started", msg: NewSessionStarted()},
		{name: "message", msg: NewMessage(event)},
		{name: "error", msg: NewError("realtime connection closed")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.msg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			got, err := ParseServerMessage(raw)
			if err != nil {
				t.Fatalf("ParseServerMessage() error = %v", err)
			}
			switch want := tc.msg.(type) {
			case Message:
				m, ok := got.(Message)
				if !ok || !bytes.Equal(m.Event, want.Event) {
					t.Fatalf("got %#v, want event %s", got, want.Event)
				}
			default:
				if got != tc.msg {
					t.Fatalf("got %#v, want %#v", got, tc.msg)
				}
			}
		})
	}
}

func TestNewMessageKeepsEventVerbatim(t *testing.T) {
	event := []byte(`{"type":"custom.thing","nested":{"a":[1,2,3]}}`)
	raw, err := json.Marshal(NewMessage(event))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"message","event":{"type":"custom.thing","nested":{"a":[1,2,3]}}}`
	if string(raw) != want {
		t.Fatalf("encoded = %s, want %s", raw, want)
	}
}

func BenchmarkParseClientMessageAudio(b *testing.B) {
	raw := []byte(`{"type":"audio","audio":"AQIDBAUGBwgJCgsMDQ4P"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientAudio); !ok {
			b.Fatalf("message type = %T, want ClientAudio", msg)
		}
	}
}
