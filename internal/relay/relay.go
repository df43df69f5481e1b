package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ent0n29/docvoice/internal/audio"
	"github.com/ent0n29/docvoice/internal/observability"
	"github.com/ent0n29/docvoice/internal/policy"
	"github.com/ent0n29/docvoice/internal/protocol"
	"github.com/ent0n29/docvoice/internal/reliability"
	"github.com/ent0n29/docvoice/internal/session"
)

const (
	criticalOutboundTimeout = 2 * time.Second
	outboundTimeout         = 500 * time.Millisecond
	eventBuffer             = 64
)

// Searcher answers tool call queries. *docindex.Index satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type Deps struct {
	Dialer   Dialer
	Index    Searcher
	Session  protocol.SessionConfig
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Relay runs one Machine per client connection and executes its commands.
type Relay struct {
	dialer   Dialer
	index    Searcher
	session  protocol.SessionConfig
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func New(d Deps) *Relay {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		dialer:   d.Dialer,
		index:    d.Index,
		session:  d.Session,
		sessions: d.Sessions,
		metrics:  d.Metrics,
		logger:   logger.Named("relay"),
	}
}

type dialResult struct {
	up   Upstream
	err  error
	took time.Duration
}

func (dialResult) relayEvent() {}

type runtime struct {
	r         *Relay
	ctx       context.Context
	span      trace.Span
	sessionID string
	machine   *Machine
	events    chan Event
	outbound  chan<- any
	up        Upstream
	logger    *zap.Logger
}

// Run pumps one session until it reaches the closed state. inbound carries
// protocol.StartSession, protocol.ClientAudio, audio.Frame and
// protocol.Disconnect values; a closed inbound counts as a disconnect.
// The caller owns outbound and closes it after Run returns.
func (r *Relay) Run(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, span := observability.Tracer().Start(ctx, "relay.session",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	rt := &runtime{
		r:         r,
		ctx:       ctx,
		span:      span,
		sessionID: sessionID,
		machine:   NewMachine(r.session),
		events:    make(chan Event, eventBuffer),
		outbound:  outbound,
		logger:    r.logger.With(zap.String("session_id", sessionID)),
	}
	defer rt.closeUpstream()

	for {
		var ev Event
		select {
		case <-ctx.Done():
			ev = ClientDisconnect{}
		case msg, ok := <-inbound:
			if !ok {
				ev = ClientDisconnect{}
				break
			}
			ev = clientEvent(msg)
		case ev = <-rt.events:
		}
		if dr, ok := ev.(dialResult); ok {
			ev = rt.acceptDial(dr)
		}
		if ev == nil {
			continue
		}

		before := rt.machine.State()
		state, cmds := rt.machine.Step(ev)
		rt.execute(cmds)
		if state != before {
			rt.stateChanged(state)
		}
		if state == StateClosed {
			return nil
		}
	}
}

func clientEvent(msg any) Event {
	switch m := msg.(type) {
	case protocol.StartSession:
		return Start{Credential: m.Credential}
	case protocol.ClientAudio:
		return ClientAudio{Frame: m.Frame}
	case audio.Frame:
		return ClientAudio{Frame: m}
	case protocol.Disconnect:
		return ClientDisconnect{}
	default:
		return nil
	}
}

func (rt *runtime) post(ev Event) bool {
	select {
	case rt.events <- ev:
		return true
	case <-rt.ctx.Done():
		return false
	}
}

func (rt *runtime) execute(cmds []Command) {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case OpenUpstream:
			rt.dial(c.Credential)
		case SendUpstream:
			rt.sendUpstream(c.Payload)
		case SendClient:
			rt.r.send(rt.outbound, c.Message)
		case ResolveTool:
			rt.resolve(c)
		case CloseUpstream:
			rt.closeUpstream()
		case ReportUpstreamError:
			if rt.r.metrics != nil {
				rt.r.metrics.UpstreamErrors.WithLabelValues(c.Kind).Inc()
			}
		case Log:
			if ce := rt.logger.Check(c.Level, c.Message); ce != nil {
				ce.Write(c.Fields...)
			}
		}
	}
}

func (rt *runtime) dial(credential string) {
	if rt.r.dialer == nil {
		rt.post(dialResult{err: errors.New("no realtime dialer configured")})
		return
	}
	go func() {
		started := time.Now()
		ctx, span := observability.Tracer().Start(rt.ctx, "relay.dial")
		up, err := rt.r.dialer.Dial(ctx, credential)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if !rt.post(dialResult{up: up, err: err, took: time.Since(started)}) && up != nil {
			_ = up.Close()
		}
	}()
}

func (rt *runtime) acceptDial(dr dialResult) Event {
	if rt.r.metrics != nil && dr.took > 0 {
		rt.r.metrics.Stages.Observe(observability.StageUpstreamConnect, dr.took)
	}
	if dr.err != nil {
		kind := reliability.KindNetwork
		var de *DialError
		if errors.As(dr.err, &de) {
			kind = de.Kind
		}
		return UpstreamFailed{
			Message: policy.Redact(fmt.Sprintf("failed to connect to realtime service: %v", dr.err)),
			Kind:    kind,
		}
	}
	if rt.machine.State() != StateConnecting {
		_ = dr.up.Close()
		return nil
	}
	rt.up = dr.up
	go rt.readLoop(dr.up)
	return UpstreamOpened{}
}

func (rt *runtime) readLoop(up Upstream) {
	for {
		data, err := up.ReadMessage()
		if err != nil {
			if isNormalClose(err) {
				rt.post(UpstreamClosed{Reason: err.Error()})
			} else {
				rt.post(UpstreamFailed{
					Message: policy.Redact(fmt.Sprintf("realtime connection error: %v", err)),
					Kind:    reliability.KindNetwork,
				})
			}
			return
		}
		if !rt.post(UpstreamMessage{Raw: data}) {
			return
		}
	}
}

func (rt *runtime) sendUpstream(payload any) {
	if rt.up == nil {
		rt.logger.Debug("upstream not open, dropping payload")
		return
	}
	if err := rt.up.WriteJSON(payload); err != nil {
		rt.logger.Warn("upstream write failed", zap.Error(err))
		if rt.r.metrics != nil {
			rt.r.metrics.UpstreamErrors.WithLabelValues(reliability.KindNetwork).Inc()
		}
	}
}

// resolve searches off the pump and posts the result back as ToolResolved.
func (rt *runtime) resolve(c ResolveTool) {
	if rt.r.sessions != nil {
		_ = rt.r.sessions.RecordToolCall(rt.sessionID)
	}
	rt.logger.Debug("resolving tool call",
		zap.String("call_id", c.CallID),
		zap.String("query", policy.Redact(c.Query)))

	go func() {
		started := time.Now()
		ctx, span := observability.Tracer().Start(rt.ctx, "relay.tool_call",
			trace.WithAttributes(attribute.String("tool", c.Name), attribute.String("call_id", c.CallID)))
		defer span.End()

		var (
			out string
			err error
		)
		if rt.r.index == nil {
			err = errors.New("no document index configured")
		} else {
			out, err = rt.r.index.Search(ctx, c.Query)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
		}
		span.SetAttributes(attribute.Int("output_bytes", len(out)))
		if rt.r.metrics != nil {
			rt.r.metrics.ObserveToolCall(c.Name, outcome, time.Since(started))
		}
		rt.post(ToolResolved{CallID: c.CallID, Output: out, Err: err})
	}()
}

func (rt *runtime) closeUpstream() {
	if rt.up == nil {
		return
	}
	if err := rt.up.Close(); err != nil {
		rt.logger.Debug("upstream close", zap.Error(err))
	}
	rt.up = nil
}

func (rt *runtime) stateChanged(state State) {
	rt.span.AddEvent("relay." + state.String())
	if rt.r.sessions != nil {
		_ = rt.r.sessions.SetRelayState(rt.sessionID, state.String())
	}
	if rt.r.metrics != nil {
		rt.r.metrics.SessionEvents.WithLabelValues("relay_" + state.String()).Inc()
	}
}

func (r *Relay) send(outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)
	timeout := outboundTimeout
	if critical {
		timeout = criticalOutboundTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		r.recordOutbound(msgType, "delivered")
	case <-timer.C:
		r.recordOutbound(msgType, "timeout")
		if r.metrics != nil {
			r.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
		}
	}
}

func (r *Relay) recordOutbound(msgType, result string) {
	if r.metrics != nil {
		r.metrics.ObserveOutboundMessage(msgType, result)
	}
}

func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case protocol.SessionStarted:
		return string(m.Type), true
	case protocol.Error:
		return string(m.Type), true
	case protocol.Message:
		return string(m.Type), false
	default:
		return "unknown", false
	}
}
