package playback

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/docvoice/internal/audio"
)

// Device renders decoded samples. Play returns once the samples finished
// playing (or failed).
type Device interface {
	Play(ctx context.Context, samples []float32) error
	Close() error
}

// DeviceFunc adapts a function to Device. Close is a no-op.
type DeviceFunc func(ctx context.Context, samples []float32) error

func (f DeviceFunc) Play(ctx context.Context, samples []float32) error { return f(ctx, samples) }

func (DeviceFunc) Close() error { return nil }

// Queue plays frames strictly in order, one at a time.
//
// A single loop goroutine drains the queue. Clear bumps a generation so a loop
// that is still finishing a committed frame exits instead of continuing, and
// device access is serialised so that frame completes before the next starts.
type Queue struct {
	device Device
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	deviceMu sync.Mutex

	mu       sync.Mutex
	pending  []audio.Frame
	playing  bool
	gen      uint64
	idle     chan struct{}
	disposed bool
}

func NewQueue(device Device, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		device: device,
		logger: logger.Named("playback"),
		ctx:    ctx,
		cancel: cancel,
		idle:   idle,
	}
}

// Enqueue appends frame and starts playback if nothing is in flight.
func (q *Queue) Enqueue(frame audio.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return
	}
	q.pending = append(q.pending, frame)
	if q.playing {
		return
	}
	q.playing = true
	q.idle = make(chan struct{})
	go q.loop(q.gen, q.idle)
}

func (q *Queue) loop(gen uint64, idle chan struct{}) {
	for {
		q.mu.Lock()
		if q.gen != gen {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.playing = false
			close(idle)
			q.mu.Unlock()
			return
		}
		frame := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.playOne(frame)
	}
}

func (q *Queue) playOne(frame audio.Frame) {
	samples, err := audio.DecodeFrame(frame)
	if err != nil {
		q.logger.Warn("skipping undecodable frame", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}

	q.deviceMu.Lock()
	defer q.deviceMu.Unlock()
	if err := q.device.Play(q.ctx, samples); err != nil {
		q.logger.Warn("playback failed", zap.Int("samples", len(samples)), zap.Error(err))
	}
}

// Clear drops every pending frame. A frame already handed to the device
// finishes; nothing after it starts.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	q.pending = nil
	if q.playing {
		q.playing = false
		close(q.idle)
	}
}

// Dispose clears the queue and releases the device. It is idempotent.
func (q *Queue) Dispose() error {
	q.Clear()

	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return nil
	}
	q.disposed = true
	q.mu.Unlock()

	q.cancel()
	q.deviceMu.Lock()
	defer q.deviceMu.Unlock()
	return q.device.Close()
}

// Wait blocks until the queue has nothing pending or in flight.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}
