package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/docvoice/internal/audio"
)

var ErrDeviceClosed = errors.New("playback device closed")

// WAVDevice records played audio and writes it to a WAV file on Close.
// With Realtime set, Play blocks for the duration of the samples.
type WAVDevice struct {
	path     string
	realtime bool

	mu     sync.Mutex
	pcm    []byte
	closed bool
}

func NewWAVDevice(path string, realtime bool) *WAVDevice {
	return &WAVDevice{path: path, realtime: realtime}
}

func (d *WAVDevice) Play(ctx context.Context, samples []float32) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	d.pcm = append(d.pcm, audio.EncodeFrame(samples)...)
	d.mu.Unlock()

	if !d.realtime || len(samples) == 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(len(samples)) * time.Second / audio.SampleRate)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Samples reports how many samples have been played so far.
func (d *WAVDevice) Samples() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pcm) / 2
}

func (d *WAVDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.path == "" {
		return nil
	}
	return audio.WriteWAVPCM16LEFile(d.path, d.pcm, audio.SampleRate)
}
