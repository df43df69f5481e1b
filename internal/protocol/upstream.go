package protocol

import (
	"encoding/json"
	"fmt"
)

// Upstream realtime event types.
const (
	UpstreamSessionUpdate  = "session.update"
	UpstreamItemCreate     = "conversation.item.create"
	UpstreamResponseCreate = "response.create"
	UpstreamAudioAppend    = "input_audio_buffer.append"

	EventSessionCreated            = "session.created"
	EventAudioDelta                = "response.audio.delta"
	EventTextDelta                 = "response.text.delta"
	EventAudioTranscriptDelta      = "response.audio_transcript.delta"
	EventTranscriptionCompleted    = "conversation.item.input_audio_transcription.completed"
	EventResponseDone              = "response.done"
	EventFunctionCallArgumentsDone = "response.function_call_arguments.done"
	EventError                     = "error"
)

const ItemFunctionCallOutput = "function_call_output"

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the realtime session body of session.update.
type SessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Tools                   []Tool         `json:"tools"`
	ToolChoice              string         `json:"tool_choice"`
}

type Transcription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required"`
}

type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type ItemCreate struct {
	Type string             `json:"type"`
	Item FunctionCallOutput `json:"item"`
}

type FunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type ResponseCreate struct {
	Type string `json:"type"`
}

type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: UpstreamSessionUpdate, Session: cfg}
}

func NewFunctionCallOutput(callID, output string) ItemCreate {
	return ItemCreate{
		Type: UpstreamItemCreate,
		Item: FunctionCallOutput{Type: ItemFunctionCallOutput, CallID: callID, Output: output},
	}
}

func NewResponseCreate() ResponseCreate { return ResponseCreate{Type: UpstreamResponseCreate} }

func NewAudioAppend(base64Audio string) AudioAppend {
	return AudioAppend{Type: UpstreamAudioAppend, Audio: base64Audio}
}

// UpstreamEnvelope is the common head of every inbound realtime event.
type UpstreamEnvelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

type FunctionCallArgumentsDone struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

// Delta covers the text, audio and audio transcript delta events.
type Delta struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

type TranscriptionCompleted struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type ResponseDone struct {
	Type     string `json:"type"`
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

type UpstreamError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// PeekType returns the type discriminator of an inbound event.
func PeekType(raw []byte) (string, error) {
	var env UpstreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("invalid upstream event: %w", err)
	}
	return env.Type, nil
}

// ParseUpstreamEvent decodes recognised event types into their typed form.
// Anything else comes back as an UpstreamEnvelope.
func ParseUpstreamEvent(raw []byte) (any, error) {
	typ, err := PeekType(raw)
	if err != nil {
		return nil, err
	}

	var out any
	switch typ {
	case EventFunctionCallArgumentsDone:
		out = &FunctionCallArgumentsDone{}
	case EventAudioDelta, EventTextDelta, EventAudioTranscriptDelta:
		out = &Delta{}
	case EventTranscriptionCompleted:
		out = &TranscriptionCompleted{}
	case EventResponseDone:
		out = &ResponseDone{}
	case EventError:
		out = &UpstreamError{}
	default:
		return UpstreamEnvelope{Type: typ}, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typ, err)
	}

	switch v := out.(type) {
	case *FunctionCallArgumentsDone:
		return *v, nil
	case *Delta:
		return *v, nil
	case *TranscriptionCompleted:
		return *v, nil
	case *ResponseDone:
		return *v, nil
	case *UpstreamError:
		return *v, nil
	}
	return out, nil
}
