package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseUpstreamEventFunctionCall(t *testing.T) {
	raw := []byte(`{"type":"response.function_call_arguments.done","call_id":"c1","name":"search_documents","arguments":"{\"query\":\"pricing\"}"}`)
	ev, err := ParseUpstreamEvent(raw)
	if err != nil {
		t.Fatalf("ParseUpstreamEvent() error = %v", err)
	}
	call, ok := ev.(FunctionCallArgumentsDone)
	if !ok {
		t.Fatalf("event type = %T, want FunctionCallArgumentsDone", ev)
	}
	if call.CallID != "c1" || call.Name != "search_documents" || call.Arguments != `{"query":"pricing"}` {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestParseUpstreamEventDeltas(t *testing.T) {
	for _, typ := range []string{EventAudioDelta, EventTextDelta, EventAudioTranscriptDelta} {
		raw := []byte(`{"type":"` + typ + `","response_id":"r1","delta":"x"}`)
		ev, err := ParseUpstreamEvent(raw)
		if err != nil {
			t.Fatalf("ParseUpstreamEvent(%s) error = %v", typ, err)
		}
		d, ok := ev.(Delta)
		if !ok || d.ResponseID != "r1" || d.Delta != "x" || d.Type != typ {
			t.Fatalf("ParseUpstreamEvent(%s) = %#v", typ, ev)
		}
	}
}

func TestParseUpstreamEventUnknownTypeIsEnvelope(t *testing.T) {
	ev, err := ParseUpstreamEvent([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	if err != nil {
		t.Fatalf("ParseUpstreamEvent() error = %v", err)
	}
	env, ok := ev.(UpstreamEnvelope)
	if !ok || env.Type != "rate_limits.updated" {
		t.Fatalf("event = %#v, want envelope", ev)
	}
}

func TestParseUpstreamEventError(t *testing.T) {
	ev, err := ParseUpstreamEvent([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	if err != nil {
		t.Fatalf("ParseUpstreamEvent() error = %v", err)
	}
	e, ok := ev.(UpstreamError)
	if !ok || e.Error.Message != "bad" {
		t.Fatalf("event = %#v", ev)
	}
}

func TestParseUpstreamEventRejectsMalformed(t *testing.T) {
	if _, err := ParseUpstreamEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFunctionCallOutputShape(t *testing.T) {
	raw, err := json.Marshal(NewFunctionCallOutput("c1", "From a.txt:\nhello"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"conversation.item.create","item":{"type":"function_call_output","call_id":"c1","output":"From a.txt:\nhello"}}`
	if string(raw) != want {
		t.Fatalf("encoded = %s, want %s", raw, want)
	}
}
