package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/docvoice/internal/audio"
)

// MessageType identifies control channel payload variants.
type MessageType string

const (
	TypeStartSession MessageType = "start_session"
	TypeAudio        MessageType = "audio"
	TypeDisconnect   MessageType = "disconnect"

	TypeSessionStarted MessageType = "session_started"
	TypeMessage        MessageType = "message"
	TypeError          MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// StartSession asks the relay to open an upstream session with Credential.
type StartSession struct {
	Type       MessageType `json:"type"`
	Credential string      `json:"credential"`
}

// ClientAudio carries one captured frame. On the wire Audio is base64;
// Frame holds the decoded bytes.
type ClientAudio struct {
	Type  MessageType `json:"type"`
	Audio string      `json:"audio"`
	Frame audio.Frame `json:"-"`
}

type Disconnect struct {
	Type MessageType `json:"type"`
}

type SessionStarted struct {
	Type MessageType `json:"type"`
}

// Message passes one upstream event through to the client untouched.
type Message struct {
	Type  MessageType     `json:"type"`
	Event json.RawMessage `json:"event"`
}

type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewStartSession(credential string) StartSession {
	return StartSession{Type: TypeStartSession, Credential: credential}
}

func NewClientAudio(frame audio.Frame) ClientAudio {
	return ClientAudio{Type: TypeAudio, Audio: audio.TransportEncode(frame), Frame: frame}
}

func NewDisconnect() Disconnect { return Disconnect{Type: TypeDisconnect} }

func NewSessionStarted() SessionStarted { return SessionStarted{Type: TypeSessionStarted} }

func NewMessage(event []byte) Message {
	return Message{Type: TypeMessage, Event: json.RawMessage(event)}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// ParseClientMessage decodes a client->relay text frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStartSession:
		var msg StartSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Credential) == "" {
			return nil, errors.New("invalid start_session: missing credential")
		}
		return msg, nil
	case TypeAudio:
		var msg ClientAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		frame, err := audio.TransportDecode(msg.Audio)
		if err != nil {
			return nil, fmt.Errorf("invalid audio: %w", err)
		}
		msg.Frame = frame
		return msg, nil
	case TypeDisconnect:
		return Disconnect{Type: TypeDisconnect}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseServerMessage decodes a relay->client text frame.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSessionStarted:
		return SessionStarted{Type: TypeSessionStarted}, nil
	case TypeMessage:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if len(msg.Event) == 0 {
			return nil, errors.New("invalid message: missing event")
		}
		return msg, nil
	case TypeError:
		var msg Error
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
