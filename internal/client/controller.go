package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/docvoice/internal/audio"
	"github.com/ent0n29/docvoice/internal/protocol"
	"github.com/ent0n29/docvoice/internal/transcript"
)

type State string

const (
	StateDisconnected         State = "disconnected"
	StateRequestingMicrophone State = "requesting_microphone"
	StateConnecting           State = "connecting"
	StateConnected            State = "connected"
	StateReady                State = "ready"
	StateError                State = "error"
)

var (
	ErrAlreadyActive = errors.New("conversation already active")
	ErrNoCredential  = errors.New("no API key configured")
	ErrDisconnected  = errors.New("disconnected")
)

// Snapshot is what subscribers render.
type Snapshot struct {
	State      State
	Error      string
	Transcript transcript.State
}

type Capture interface {
	Start(ctx context.Context) error
	Frames() <-chan audio.Frame
	Stop() error
}

type Playback interface {
	Enqueue(frame audio.Frame)
	Dispose() error
	Len() int
}

type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// Channel is the control channel to the relay.
type Channel interface {
	Send(msg any) error
	Receive() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

type Deps struct {
	Capture     Capture
	NewPlayback func() Playback
	Credentials CredentialSource
	Dialer      Dialer
	Logger      *zap.Logger

	NewID func() string
	Now   func() time.Time
}

// Controller drives one user's conversation. Every transition happens under
// mu; an epoch counter lets Disconnect abort a connect that is still running.
type Controller struct {
	deps   Deps
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	errMsg     string
	transcript transcript.State
	epoch      uint64
	attempt    *attempt
	capturing  bool
	playback   Playback
	channel    Channel

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

type attempt struct {
	once sync.Once
	done chan error
}

func (a *attempt) finish(err error) {
	a.once.Do(func() { a.done <- err })
}

type resources struct {
	capturing bool
	playback  Playback
	channel   Channel
}

func New(deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		deps:   deps,
		logger: logger.Named("client"),
		state:  StateDisconnected,
		subs:   make(map[int]func(Snapshot)),
	}
}

// Connect acquires the microphone, fetches a credential, opens the control
// channel and waits for the relay to report the session started.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateError {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.epoch++
	epoch := c.epoch
	att := &attempt{done: make(chan error, 1)}
	c.attempt = att
	c.errMsg = ""
	c.state = StateRequestingMicrophone
	c.mu.Unlock()
	c.publish()

	if err := c.deps.Capture.Start(ctx); err != nil {
		return c.fail(epoch, "Microphone unavailable: "+err.Error(), err)
	}
	if !c.advance(epoch, StateConnecting, func() { c.capturing = true }) {
		_ = c.deps.Capture.Stop()
		return ErrDisconnected
	}

	credential, err := c.deps.Credentials.Credential(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return c.fail(epoch, "No API key configured", err)
		}
		return c.fail(epoch, "Could not fetch credentials: "+err.Error(), err)
	}
	if !c.current(epoch) {
		return ErrDisconnected
	}

	ch, err := c.deps.Dialer.Dial(ctx)
	if err != nil {
		return c.fail(epoch, "Could not reach the relay: "+err.Error(), err)
	}
	pb := c.deps.NewPlayback()
	if !c.advance(epoch, StateConnected, func() { c.channel, c.playback = ch, pb }) {
		_ = ch.Close()
		_ = pb.Dispose()
		return ErrDisconnected
	}

	go c.readLoop(epoch, ch, pb)
	if err := ch.Send(protocol.NewStartSession(credential)); err != nil {
		return c.fail(epoch, "Could not start session: "+err.Error(), err)
	}

	select {
	case err := <-att.done:
		return err
	case <-ctx.Done():
		return c.fail(epoch, "Connect cancelled", ctx.Err())
	}
}

// Disconnect is valid from any state. It releases everything the current
// or in-flight conversation holds and returns to disconnected.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.epoch++
	res := c.takeResources()
	att := c.attempt
	c.attempt = nil
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.errMsg = ""
	c.transcript.AISpeaking = false
	c.transcript.ActiveTurnID = ""
	c.mu.Unlock()

	c.release(res, true)
	if att != nil {
		att.finish(ErrDisconnected)
	}
	if changed {
		c.publish()
	}
}

// Close tears the controller down.
func (c *Controller) Close() {
	c.Disconnect()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) ClearTranscript() {
	c.mu.Lock()
	c.transcript = transcript.Clear(c.transcript)
	c.mu.Unlock()
	c.publish()
}

// Subscribe registers fn for every state or transcript change and returns a
// function that removes it.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{State: c.state, Error: c.errMsg, Transcript: c.transcript}
}

func (c *Controller) publish() {
	snap := c.Snapshot()
	c.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// advance moves to next if epoch is still current, running own under the
// lock to record what the step acquired.
func (c *Controller) advance(epoch uint64, next State, own func()) bool {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return false
	}
	if own != nil {
		own()
	}
	c.state = next
	c.mu.Unlock()
	c.publish()
	return true
}

func (c *Controller) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

// fail moves the conversation to error and releases what it holds. It is a
// no-op for a superseded epoch.
func (c *Controller) fail(epoch uint64, message string, cause error) error {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.epoch++
	res := c.takeResources()
	att := c.attempt
	c.attempt = nil
	c.state = StateError
	c.errMsg = message
	c.transcript.AISpeaking = false
	c.mu.Unlock()

	c.logger.Warn("conversation failed", zap.String("reason", message), zap.Error(cause))
	c.release(res, false)
	err := errors.Join(errors.New(message), cause)
	if att != nil {
		att.finish(err)
	}
	c.publish()
	return err
}

func (c *Controller) takeResources() resources {
	res := resources{capturing: c.capturing, playback: c.playback, channel: c.channel}
	c.capturing = false
	c.playback = nil
	c.channel = nil
	return res
}

func (c *Controller) release(res resources, goodbye bool) {
	if res.channel != nil {
		if goodbye {
			_ = res.channel.Send(protocol.NewDisconnect())
		}
		if err := res.channel.Close(); err != nil {
			c.logger.Debug("close control channel", zap.Error(err))
		}
	}
	if res.capturing {
		if err := c.deps.Capture.Stop(); err != nil {
			c.logger.Debug("stop capture", zap.Error(err))
		}
	}
	if res.playback != nil {
		if err := res.playback.Dispose(); err != nil {
			c.logger.Debug("dispose playback", zap.Error(err))
		}
	}
}

func (c *Controller) readLoop(epoch uint64, ch Channel, pb Playback) {
	for {
		raw, err := ch.Receive()
		if err != nil {
			_ = c.fail(epoch, "Connection to the relay was lost", err)
			return
		}
		msg, err := protocol.ParseServerMessage(raw)
		if err != nil {
			c.logger.Debug("dropping relay message", zap.Error(err))
			continue
		}
		switch m := msg.(type) {
		case protocol.SessionStarted:
			c.sessionStarted(epoch, ch)
		case protocol.Message:
			c.handleEvent(epoch, m.Event, pb)
		case protocol.Error:
			_ = c.fail(epoch, m.Message, errors.New("relay error"))
			return
		}
	}
}

func (c *Controller) sessionStarted(epoch uint64, ch Channel) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	att := c.attempt
	c.attempt = nil
	frames := c.deps.Capture.Frames()
	c.mu.Unlock()

	go c.pumpAudio(ch, frames)
	c.publish()
	if att != nil {
		att.finish(nil)
	}
}

// pumpAudio forwards captured frames until capture stops or the channel fails.
func (c *Controller) pumpAudio(ch Channel, frames <-chan audio.Frame) {
	for frame := range frames {
		if err := ch.Send(protocol.NewClientAudio(frame)); err != nil {
			c.logger.Debug("stop forwarding audio", zap.Error(err))
			return
		}
	}
}

func (c *Controller) handleEvent(epoch uint64, raw []byte, pb Playback) {
	ev, err := transcript.EventFromUpstream(raw, c.deps.NewID(), c.deps.Now())
	if err != nil {
		c.logger.Debug("dropping malformed event", zap.Error(err))
		return
	}
	if ev.Kind == transcript.EventIgnored {
		return
	}

	var frame audio.Frame
	if ev.Kind == transcript.EventAudioDelta {
		frame, err = audioDelta(raw)
		if err != nil {
			c.logger.Debug("dropping audio delta", zap.Error(err))
			return
		}
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	if len(frame) > 0 {
		pb.Enqueue(frame)
	}
	c.transcript = transcript.Reduce(c.transcript, ev)
	c.mu.Unlock()
	c.publish()
}

func audioDelta(raw []byte) (audio.Frame, error) {
	parsed, err := protocol.ParseUpstreamEvent(raw)
	if err != nil {
		return nil, err
	}
	d, ok := parsed.(protocol.Delta)
	if !ok {
		return nil, nil
	}
	return audio.TransportDecode(d.Delta)
}
