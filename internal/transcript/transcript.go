package transcript

import (
	"fmt"
	"time"

	"github.com/ent0n29/docvoice/internal/protocol"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the conversation as shown to the user. Values are never mutated
// in place; Reduce returns a new State.
type State struct {
	Messages     []Message `json:"messages"`
	ActiveTurnID string    `json:"active_turn_id,omitempty"`
	AISpeaking   bool      `json:"ai_speaking"`
}

type EventKind int

const (
	EventIgnored EventKind = iota
	EventUserTranscript
	EventAssistantDelta
	EventAudioDelta
	EventTurnDone
)

// Event is one upstream event reduced to what the transcript cares about.
// ID and At are supplied by the caller and used only for new messages.
type Event struct {
	Kind       EventKind
	ResponseID string
	Text       string
	ID         string
	At         time.Time
}

func Reduce(s State, ev Event) State {
	switch ev.Kind {
	case EventUserTranscript:
		out := s
		out.Messages = appendMessage(s.Messages, Message{
			ID:        ev.ID,
			Role:      RoleUser,
			Content:   ev.Text,
			CreatedAt: ev.At,
		})
		return out

	case EventAssistantDelta:
		out := s
		if last := lastAssistant(s.Messages); last >= 0 && s.continuesTurn(ev.ResponseID) {
			msgs := append([]Message(nil), s.Messages...)
			msgs[last].Content += ev.Text
			out.Messages = msgs
			return out
		}
		out.Messages = appendMessage(s.Messages, Message{
			ID:        ev.ID,
			Role:      RoleAssistant,
			Content:   ev.Text,
			CreatedAt: ev.At,
		})
		if ev.ResponseID != "" {
			out.ActiveTurnID = ev.ResponseID
		}
		return out

	case EventAudioDelta:
		out := s
		out.AISpeaking = true
		return out

	case EventTurnDone:
		out := s
		out.ActiveTurnID = ""
		out.AISpeaking = false
		return out
	}
	return s
}

// Clear empties the transcript and resets turn tracking.
func Clear(State) State {
	return State{}
}

// continuesTurn reports whether a delta for responseID belongs to the
// tracked turn. A delta without a response ID continues whatever turn is
// being tracked.
func (s State) continuesTurn(responseID string) bool {
	if responseID == "" {
		return s.ActiveTurnID != ""
	}
	return responseID == s.ActiveTurnID
}

// lastAssistant returns the index of the most recent assistant message, or -1.
// User transcripts can land in the middle of a turn, so this is not always
// the last message.
func lastAssistant(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}

func appendMessage(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

// EventFromUpstream maps a raw upstream event onto a transcript Event.
// Event types the transcript does not track come back as EventIgnored.
func EventFromUpstream(raw []byte, id string, at time.Time) (Event, error) {
	parsed, err := protocol.ParseUpstreamEvent(raw)
	if err != nil {
		return Event{}, fmt.Errorf("transcript event: %w", err)
	}
	ev := Event{ID: id, At: at}
	switch v := parsed.(type) {
	case protocol.TranscriptionCompleted:
		// Silence and noise come back as empty transcriptions.
		if v.Transcript == "" {
			return ev, nil
		}
		ev.Kind = EventUserTranscript
		ev.Text = v.Transcript
	case protocol.Delta:
		if v.Delta == "" {
			return ev, nil
		}
		ev.ResponseID = v.ResponseID
		if v.Type == protocol.EventAudioDelta {
			ev.Kind = EventAudioDelta
		} else {
			ev.Kind = EventAssistantDelta
			ev.Text = v.Delta
		}
	case protocol.ResponseDone:
		ev.Kind = EventTurnDone
		ev.ResponseID = v.Response.ID
	}
	return ev, nil
}
