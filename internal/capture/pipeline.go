package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/docvoice/internal/audio"
)

// DefaultFrameSamples is 4096 samples, about 170ms at 24kHz.
const DefaultFrameSamples = 4096

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrAlreadyRunning   = errors.New("capture already running")
)

// Stream is an open microphone. Close must unblock a pending Read.
type Stream interface {
	Read(buf []float32) (int, error)
	Close() error
}

// Device acquires a microphone stream. Permission failures surface from Open.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

type DeviceFunc func(ctx context.Context) (Stream, error)

func (f DeviceFunc) Open(ctx context.Context) (Stream, error) { return f(ctx) }

type Options struct {
	FrameSamples int
	Buffer       int
	Logger       *zap.Logger
}

// Pipeline turns a microphone stream into an ordered sequence of encoded frames.
type Pipeline struct {
	device Device
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	stream  *onceStream
	frames  chan audio.Frame
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func New(device Device, opts Options) *Pipeline {
	if opts.FrameSamples <= 0 {
		opts.FrameSamples = DefaultFrameSamples
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 32
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{device: device, opts: opts, logger: logger.Named("capture")}
}

// Start acquires the microphone and begins producing frames.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	raw, err := p.device.Open(ctx)
	if err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}
	stream := &onceStream{Stream: raw}

	runCtx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.stream = stream
	p.frames = make(chan audio.Frame, p.opts.Buffer)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.err = nil

	go p.read(runCtx, stream, p.frames, p.done)
	return nil
}

func (p *Pipeline) read(ctx context.Context, stream *onceStream, frames chan<- audio.Frame, done chan<- struct{}) {
	defer close(done)
	defer close(frames)
	defer stream.Close()

	buf := make([]float32, p.opts.FrameSamples)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			select {
			case frames <- audio.EncodeFrame(buf[:n]):
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				p.logger.Warn("capture stream failed", zap.Error(err))
				p.mu.Lock()
				p.err = err
				p.mu.Unlock()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Frames returns the channel of the current run. It closes when the run ends.
func (p *Pipeline) Frames() <-chan audio.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Stop releases the microphone and waits for the reader to exit.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, stream, done := p.cancel, p.stream, p.done
	p.mu.Unlock()

	cancel()
	err := stream.Close()
	<-done
	return err
}

func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Err reports why the last run ended early, if it failed.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

type onceStream struct {
	Stream
	once sync.Once
	err  error
}

func (s *onceStream) Close() error {
	s.once.Do(func() { s.err = s.Stream.Close() })
	return s.err
}
