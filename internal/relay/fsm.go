package relay

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ent0n29/docvoice/internal/audio"
	"github.com/ent0n29/docvoice/internal/protocol"
	"github.com/ent0n29/docvoice/internal/reliability"
)

const (
	// ToolSearchDocuments is the only tool declared to the model.
	ToolSearchDocuments = "search_documents"

	// NoInformationFound answers a tool call whose search could not run.
	NoInformationFound = "No information found."

	closedMessage = "realtime connection closed"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is an input to Machine.Step.
type Event interface{ relayEvent() }

type (
	Start           struct{ Credential string }
	UpstreamOpened  struct{}
	UpstreamMessage struct{ Raw []byte }
	UpstreamFailed  struct {
		Message string
		Kind    string
	}
	UpstreamClosed   struct{ Reason string }
	ClientAudio      struct{ Frame audio.Frame }
	ClientDisconnect struct{}
	ToolResolved     struct {
		CallID string
		Output string
		Err    error
	}
)

func (Start) relayEvent()            {}
func (UpstreamOpened) relayEvent()   {}
func (UpstreamMessage) relayEvent()  {}
func (UpstreamFailed) relayEvent()   {}
func (UpstreamClosed) relayEvent()   {}
func (ClientAudio) relayEvent()      {}
func (ClientDisconnect) relayEvent() {}
func (ToolResolved) relayEvent()     {}

// Command is a side effect requested by Machine.Step.
type Command interface{ relayCommand() }

type (
	OpenUpstream struct{ Credential string }
	SendUpstream struct{ Payload any }
	SendClient   struct{ Message any }
	ResolveTool  struct {
		CallID string
		Name   string
		Query  string
	}
	CloseUpstream       struct{}
	ReportUpstreamError struct{ Kind string }
	Log                 struct {
		Level   zapcore.Level
		Message string
		Fields  []zap.Field
	}
)

func (OpenUpstream) relayCommand()        {}
func (SendUpstream) relayCommand()        {}
func (SendClient) relayCommand()          {}
func (ResolveTool) relayCommand()         {}
func (CloseUpstream) relayCommand()       {}
func (ReportUpstreamError) relayCommand() {}
func (Log) relayCommand()                 {}

// Machine is the per-session relay state machine. It performs no I/O; every
// effect comes back from Step as a Command for the caller to execute.
//
// While a tool call is outstanding, later upstream messages are held in
// arrival order and replayed once the tool output and response.create have
// been emitted.
type Machine struct {
	session protocol.SessionConfig
	state   State
	pending map[string]string
	held    [][]byte
}

func NewMachine(session protocol.SessionConfig) *Machine {
	return &Machine{
		session: session,
		state:   StateIdle,
		pending: make(map[string]string),
	}
}

func (m *Machine) State() State { return m.state }

// PendingToolCalls returns call ID -> query for unresolved tool calls.
func (m *Machine) PendingToolCalls() map[string]string {
	out := make(map[string]string, len(m.pending))
	for k, v := range m.pending {
		out[k] = v
	}
	return out
}

func (m *Machine) Held() int { return len(m.held) }

func (m *Machine) Step(ev Event) (State, []Command) {
	var cmds []Command
	switch e := ev.(type) {
	case Start:
		cmds = m.start(e)
	case UpstreamOpened:
		cmds = m.opened()
	case UpstreamMessage:
		if m.state != StateOpen {
			break
		}
		cmds = m.upstreamMessage(e.Raw)
	case UpstreamFailed:
		cmds = m.failed(e)
	case UpstreamClosed:
		cmds = m.closed(e)
	case ClientAudio:
		if m.state != StateOpen || len(e.Frame) == 0 {
			break
		}
		cmds = []Command{SendUpstream{Payload: protocol.NewAudioAppend(audio.TransportEncode(e.Frame))}}
	case ClientDisconnect:
		cmds = m.disconnect()
	case ToolResolved:
		cmds = m.toolResolved(e)
	}
	return m.state, cmds
}

func (m *Machine) start(e Start) []Command {
	if m.state != StateIdle {
		return []Command{logf(zapcore.WarnLevel, "start ignored", zap.String("state", m.state.String()))}
	}
	m.state = StateConnecting
	return []Command{
		OpenUpstream{Credential: e.Credential},
		logf(zapcore.InfoLevel, "connecting upstream"),
	}
}

func (m *Machine) opened() []Command {
	switch m.state {
	case StateConnecting:
		m.state = StateOpen
		return []Command{
			SendUpstream{Payload: protocol.NewSessionUpdate(m.session)},
			SendClient{Message: protocol.NewSessionStarted()},
			logf(zapcore.InfoLevel, "upstream open"),
		}
	case StateClosed:
		// The client left while the dial was in flight.
		return []Command{CloseUpstream{}}
	default:
		return nil
	}
}

func (m *Machine) upstreamMessage(raw []byte) []Command {
	if len(m.pending) > 0 {
		m.held = append(m.held, raw)
		return nil
	}

	ev, err := protocol.ParseUpstreamEvent(raw)
	if err != nil {
		// Only tool calls need a typed body. Anything else with a readable
		// type still belongs to the client.
		typ, peekErr := protocol.PeekType(raw)
		if peekErr != nil || typ == protocol.EventFunctionCallArgumentsDone {
			return []Command{logf(zapcore.WarnLevel, "dropping malformed upstream message", zap.Error(err))}
		}
		return []Command{
			logf(zapcore.DebugLevel, "forwarding upstream message with unexpected shape", zap.String("type", typ), zap.Error(err)),
			SendClient{Message: protocol.NewMessage(raw)},
		}
	}

	switch e := ev.(type) {
	case protocol.FunctionCallArgumentsDone:
		return m.interceptToolCall(e)
	case protocol.UpstreamError:
		kind := reliability.ClassifyRealtimeError(e.Error.Type, e.Error.Code)
		return []Command{
			ReportUpstreamError{Kind: kind},
			logf(zapcore.WarnLevel, "upstream error event",
				zap.String("kind", kind),
				zap.String("code", e.Error.Code),
				zap.String("detail", e.Error.Message)),
			SendClient{Message: protocol.NewMessage(raw)},
		}
	default:
		return []Command{SendClient{Message: protocol.NewMessage(raw)}}
	}
}

func (m *Machine) interceptToolCall(call protocol.FunctionCallArgumentsDone) []Command {
	if call.Name != ToolSearchDocuments {
		return append([]Command{
			logf(zapcore.WarnLevel, "unknown tool call", zap.String("tool", call.Name), zap.String("call_id", call.CallID)),
		}, toolOutput(call.CallID, NoInformationFound)...)
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		fields := []zap.Field{zap.String("call_id", call.CallID)}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		return append([]Command{
			logf(zapcore.WarnLevel, "tool call without usable query", fields...),
		}, toolOutput(call.CallID, NoInformationFound)...)
	}

	m.pending[call.CallID] = args.Query
	return []Command{
		ResolveTool{CallID: call.CallID, Name: call.Name, Query: args.Query},
		logf(zapcore.InfoLevel, "tool call received", zap.String("tool", call.Name), zap.String("call_id", call.CallID)),
	}
}

func (m *Machine) toolResolved(e ToolResolved) []Command {
	if m.state != StateOpen {
		return nil
	}
	if _, ok := m.pending[e.CallID]; !ok {
		return []Command{logf(zapcore.WarnLevel, "tool result for unknown call", zap.String("call_id", e.CallID))}
	}
	delete(m.pending, e.CallID)

	var cmds []Command
	output := e.Output
	if e.Err != nil || strings.TrimSpace(output) == "" {
		fields := []zap.Field{zap.String("call_id", e.CallID)}
		if e.Err != nil {
			fields = append(fields, zap.Error(e.Err))
		}
		cmds = append(cmds, logf(zapcore.WarnLevel, "search failed, answering with no information", fields...))
		output = NoInformationFound
	}
	cmds = append(cmds, toolOutput(e.CallID, output)...)

	for len(m.pending) == 0 && len(m.held) > 0 {
		raw := m.held[0]
		m.held = m.held[1:]
		cmds = append(cmds, m.upstreamMessage(raw)...)
	}
	return cmds
}

func (m *Machine) failed(e UpstreamFailed) []Command {
	if m.state != StateConnecting && m.state != StateOpen {
		return nil
	}
	m.close()
	kind := e.Kind
	if kind == "" {
		kind = reliability.KindUnknown
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = closedMessage
	}
	return []Command{
		ReportUpstreamError{Kind: kind},
		logf(zapcore.ErrorLevel, "upstream failed",
			zap.String("kind", kind),
			zap.Bool("retryable", reliability.IsRetryable(kind)),
			zap.String("detail", msg)),
		SendClient{Message: protocol.NewError(msg)},
		CloseUpstream{},
	}
}

func (m *Machine) closed(e UpstreamClosed) []Command {
	if m.state != StateConnecting && m.state != StateOpen {
		return nil
	}
	m.close()
	return []Command{
		logf(zapcore.InfoLevel, "upstream closed", zap.String("reason", e.Reason)),
		SendClient{Message: protocol.NewError(closedMessage)},
		CloseUpstream{},
	}
}

func (m *Machine) disconnect() []Command {
	prev := m.state
	m.close()
	cmds := []Command{logf(zapcore.InfoLevel, "client disconnected", zap.String("from", prev.String()))}
	if prev == StateConnecting || prev == StateOpen {
		cmds = append(cmds, CloseUpstream{})
	}
	return cmds
}

func (m *Machine) close() {
	m.state = StateClosed
	clear(m.pending)
	m.held = nil
}

func toolOutput(callID, output string) []Command {
	return []Command{
		SendUpstream{Payload: protocol.NewFunctionCallOutput(callID, output)},
		SendUpstream{Payload: protocol.NewResponseCreate()},
	}
}

func logf(level zapcore.Level, msg string, fields ...zap.Field) Log {
	return Log{Level: level, Message: msg, Fields: fields}
}
