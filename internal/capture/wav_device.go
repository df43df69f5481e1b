package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ent0n29/docvoice/internal/audio"
)

// WAVDevice replays a PCM16 WAV file as microphone input.
type WAVDevice struct {
	path     string
	realtime bool
}

func NewWAVDevice(path string, realtime bool) *WAVDevice {
	return &WAVDevice{path: path, realtime: realtime}
}

func (d *WAVDevice) Open(context.Context) (Stream, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.path, err)
	}
	pcm, rate, err := audio.DecodeWAVPCM16(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.path, err)
	}
	if rate != audio.SampleRate {
		return nil, fmt.Errorf("decode %s: sample rate %d, want %d", d.path, rate, audio.SampleRate)
	}
	samples, err := audio.DecodeFrame(pcm)
	if err != nil {
		return nil, err
	}
	return NewSampleStream(samples, d.realtime), nil
}

// SampleStream serves a fixed sample slice, then io.EOF.
type SampleStream struct {
	samples  []float32
	realtime bool

	mu     sync.Mutex
	pos    int
	closed chan struct{}
	once   sync.Once
}

func NewSampleStream(samples []float32, realtime bool) *SampleStream {
	return &SampleStream{samples: samples, realtime: realtime, closed: make(chan struct{})}
}

func (s *SampleStream) Read(buf []float32) (int, error) {
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	s.mu.Lock()
	if s.pos >= len(s.samples) {
		s.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(buf, s.samples[s.pos:])
	s.pos += n
	s.mu.Unlock()

	if s.realtime {
		select {
		case <-time.After(time.Duration(n) * time.Second / audio.SampleRate):
		case <-s.closed:
			return n, io.ErrClosedPipe
		}
	}
	return n, nil
}

func (s *SampleStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
